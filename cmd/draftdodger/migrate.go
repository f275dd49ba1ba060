package main

import (
	"fmt"

	"draftdodger/api/internal/config"
	"draftdodger/api/internal/export"
	"draftdodger/api/internal/jobs"
	"draftdodger/api/internal/logging"
	"draftdodger/api/internal/search"
	"draftdodger/api/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database and job queue migrations, then exit",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "rollback",
				Usage: "revert the newest `N` schema migrations instead of applying",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)

			db, err := store.Open(c.Context, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			if steps := c.Int("rollback"); steps > 0 {
				reverted, err := store.RollbackMigrations(c.Context, db, cfg.Migrations(), steps)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				log.Info().Strs("reverted", reverted).Msg("schema rollback complete")
				return nil
			}

			applied, err := store.ApplyMigrations(c.Context, db, cfg.Migrations())
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			log.Info().Strs("applied", applied).Msg("schema migrations complete")

			pool, err := store.OpenPool(c.Context, cfg.DatabaseURL, 2)
			if err != nil {
				return fmt.Errorf("job pool failed: %w", err)
			}
			defer pool.Close()
			return jobs.Migrate(c.Context, pool)
		},
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Push every project's current document into Meilisearch",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			if !cfg.MeiliEnabled() {
				return fmt.Errorf("MEILI_URL is not set")
			}

			db, err := store.Open(c.Context, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			revisions, err := store.NewPostgresStore(db).ListCurrentRevisions(c.Context)
			if err != nil {
				return err
			}
			meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meiliClient.Close()
			if !meiliClient.Healthy() {
				return fmt.Errorf("meilisearch unavailable at %s", cfg.MeiliURL)
			}

			docs := make([]search.DocumentRecord, 0, len(revisions))
			for _, revision := range revisions {
				docs = append(docs, search.RecordFromRevision(revision, export.DocumentTitle(revision.Content)))
			}
			search.NewService(meiliClient, nil).Reindex(docs)
			log.Info().Int("count", len(docs)).Msg("reindex complete")
			return nil
		},
	}
}
