package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"draftdodger/api/internal/app"
	"draftdodger/api/internal/artifact"
	"draftdodger/api/internal/config"
	"draftdodger/api/internal/export"
	"draftdodger/api/internal/gitrepo"
	"draftdodger/api/internal/jobs"
	"draftdodger/api/internal/logging"
	"draftdodger/api/internal/notify"
	"draftdodger/api/internal/proposal"
	"draftdodger/api/internal/search"
	"draftdodger/api/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run migrations, the export workers and the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (overrides API_ADDR)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr := c.String("addr"); addr != "" {
				cfg.Addr = addr
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			return serve(c.Context, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.Migrations())
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	for _, version := range applied {
		log.Info().Str("version", version).Msg("applied migration")
	}

	pool, err := store.OpenPool(ctx, cfg.DatabaseURL, int32(cfg.ExportWorkers+2))
	if err != nil {
		return fmt.Errorf("job pool failed: %w", err)
	}
	defer pool.Close()
	if err := jobs.Migrate(ctx, pool); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("failed to create repos dir: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.ReposDir)

	var notices notify.Broker = notify.NewMemoryBroker()
	if cfg.RedisEnabled() {
		redisBroker, err := notify.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisBroker.Close()
		notices = redisBroker
		log.Info().Msg("using redis for stream notices")
	}

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		return err
	}

	var engine search.Engine
	if cfg.MeiliEnabled() {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		engine = meiliClient
	}
	searchService := search.NewService(engine, dataStore)

	generator, err := proposal.NewGenerator(ctx, proposal.ProviderOptions{
		Provider:    cfg.LLMProvider,
		Model:       cfg.LLMModel,
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Temperature: cfg.LLMTemp,
	})
	if err != nil {
		return fmt.Errorf("proposal generator: %w", err)
	}
	log.Info().Str("generator", generator.Name()).Msg("proposal generator ready")

	runner := jobs.NewRunner(dataStore, export.NewService(), artifacts, notices)
	queue, err := jobs.NewQueue(pool, runner, jobs.QueueConfig{Workers: cfg.ExportWorkers, MaxAttempts: cfg.ExportMaxAttempts})
	if err != nil {
		return err
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("start export workers: %w", err)
	}

	service := app.New(cfg, app.Dependencies{
		Store:     dataStore,
		Git:       gitService,
		Generator: generator,
		Limiter:   proposal.NewProjectLimiter(cfg.ProposalRatePerMinute, cfg.ProposalBurst),
		Queue:     queue,
		Notices:   notices,
		Search:    searchService,
		Artifacts: artifacts,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Draft Dodger API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	service.Wait()
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("export worker shutdown error")
	}
	return nil
}

func openArtifacts(ctx context.Context, cfg config.Config) (artifact.Store, error) {
	if cfg.MinIOEnabled() {
		minioStore, err := artifact.NewMinIOStore(ctx, artifact.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio connection failed: %w", err)
		}
		log.Info().Str("bucket", cfg.MinIOBucket).Msg("storing exports in minio")
		return minioStore, nil
	}
	localStore, err := artifact.NewLocalStore(cfg.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	log.Info().Str("dir", cfg.ArtifactsDir).Msg("storing exports on local disk")
	return localStore, nil
}
