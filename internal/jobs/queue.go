package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"
)

const (
	exportTimeout      = 2 * time.Minute
	defaultMaxAttempts = 25
)

// ExportArgs identifies the export record a job renders.
type ExportArgs struct {
	ExportID  string `json:"export_id"`
	ProjectID string `json:"project_id"`
}

func (ExportArgs) Kind() string {
	return "export"
}

type ExportWorker struct {
	river.WorkerDefaults[ExportArgs]
	runner *Runner
}

func (w *ExportWorker) Timeout(*river.Job[ExportArgs]) time.Duration {
	return exportTimeout
}

func (w *ExportWorker) Work(ctx context.Context, job *river.Job[ExportArgs]) error {
	err := w.runner.Run(ctx, job.Args.ExportID)
	if err == nil {
		return nil
	}
	if permanent(err) {
		log.Warn().Err(err).Str("export_id", job.Args.ExportID).Msg("jobs: export cancelled")
		return river.JobCancel(err)
	}
	log.Warn().Err(err).Str("export_id", job.Args.ExportID).Msg("jobs: export attempt failed")
	return err
}

type QueueConfig struct {
	Workers     int
	MaxAttempts int
}

// Queue manages the River client that executes export jobs.
type Queue struct {
	client      *river.Client[pgx.Tx]
	maxAttempts int
}

func NewQueue(pool *pgxpool.Pool, runner *Runner, cfg QueueConfig) (*Queue, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &ExportWorker{runner: runner})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Workers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Queue{client: client, maxAttempts: cfg.MaxAttempts}, nil
}

func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

func (q *Queue) EnqueueExport(ctx context.Context, projectID, exportID string) error {
	args := ExportArgs{ExportID: exportID, ProjectID: projectID}
	if _, err := q.client.Insert(ctx, args, &river.InsertOpts{MaxAttempts: q.maxAttempts}); err != nil {
		return fmt.Errorf("queue export %s: %w", exportID, err)
	}
	return nil
}

// Migrate installs or upgrades River's own tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate river schema: %w", err)
	}
	for _, version := range res.Versions {
		log.Info().Int("version", version.Version).Msg("jobs: applied river migration")
	}
	return nil
}
