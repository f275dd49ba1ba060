// Package jobs runs export rendering in the background on River.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"draftdodger/api/internal/artifact"
	"draftdodger/api/internal/export"
	"draftdodger/api/internal/notify"
	"draftdodger/api/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	NoticeExportRunning   = "export.running"
	NoticeExportCompleted = "export.completed"
	NoticeExportFailed    = "export.failed"
)

type exportStore interface {
	MarkExportRunning(ctx context.Context, exportID string) (store.ExportRecord, error)
	GetRevision(ctx context.Context, revisionID string) (store.Revision, error)
	CompleteExport(ctx context.Context, exportID, artifactKey, contentType string, sizeBytes int64) error
	FailExport(ctx context.Context, exportID, message string) error
}

type renderer interface {
	Render(ctx context.Context, req export.Request) (*export.Result, error)
}

type publisher interface {
	Publish(ctx context.Context, notice notify.Notice) error
}

// Runner performs one export attempt: render the revision, store the
// artifact and record the outcome.
type Runner struct {
	store     exportStore
	renderer  renderer
	artifacts artifact.Store
	notices   publisher
	now       func() time.Time
}

func NewRunner(s exportStore, r renderer, artifacts artifact.Store, notices publisher) *Runner {
	return &Runner{store: s, renderer: r, artifacts: artifacts, notices: notices, now: time.Now}
}

func (r *Runner) Run(ctx context.Context, exportID string) error {
	record, err := r.store.MarkExportRunning(ctx, exportID)
	if err != nil {
		return fmt.Errorf("mark export %s running: %w", exportID, err)
	}
	r.publish(ctx, record.ProjectID, NoticeExportRunning)

	object, err := r.render(ctx, record)
	if err != nil {
		if failErr := r.store.FailExport(ctx, record.ID, err.Error()); failErr != nil {
			log.Error().Err(failErr).Str("export_id", record.ID).Msg("jobs: record export failure")
		}
		r.publish(ctx, record.ProjectID, NoticeExportFailed)
		return err
	}

	if err := r.store.CompleteExport(ctx, record.ID, object.Key, object.ContentType, object.Size); err != nil {
		return fmt.Errorf("complete export %s: %w", record.ID, err)
	}
	log.Info().
		Str("export_id", record.ID).
		Str("project_id", record.ProjectID).
		Str("format", record.Format).
		Int64("size_bytes", object.Size).
		Msg("jobs: export completed")
	r.publish(ctx, record.ProjectID, NoticeExportCompleted)
	return nil
}

func (r *Runner) render(ctx context.Context, record store.ExportRecord) (artifact.Object, error) {
	format, err := export.ParseFormat(record.Format)
	if err != nil {
		return artifact.Object{}, err
	}
	revision, err := r.store.GetRevision(ctx, record.RevisionID)
	if err != nil {
		return artifact.Object{}, fmt.Errorf("load revision %s: %w", record.RevisionID, err)
	}
	result, err := r.renderer.Render(ctx, export.Request{
		ProjectID:   record.ProjectID,
		RevisionID:  revision.ID,
		Format:      format,
		Markdown:    revision.Content,
		GeneratedAt: r.now().UTC(),
	})
	if err != nil {
		return artifact.Object{}, fmt.Errorf("render %s: %w", format, err)
	}
	key := artifact.ExportKey(record.ProjectID, record.ID, format.Extension())
	object, err := r.artifacts.Put(ctx, key, result.MimeType, result.Data)
	if err != nil {
		return artifact.Object{}, fmt.Errorf("store artifact: %w", err)
	}
	return object, nil
}

func (r *Runner) publish(ctx context.Context, projectID, message string) {
	if r.notices == nil {
		return
	}
	notice := notify.Notice{ProjectID: projectID, Message: message, Timestamp: r.now().UTC()}
	if err := r.notices.Publish(ctx, notice); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Str("message", message).Msg("jobs: publish notice")
	}
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, export.ErrUnsupportedFormat) ||
		errors.Is(err, export.ErrPDFDependencyMissing) ||
		errors.Is(err, export.ErrDOCXDependencyMissing)
}
