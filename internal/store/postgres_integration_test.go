package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("DRAFTDODGER_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DRAFTDODGER_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, resetPublicSchema(ctx, db))
	_, err = ApplyMigrations(ctx, db, os.DirFS(filepath.Join("..", "..", "db", "migrations")))
	require.NoError(t, err)
	return NewPostgresStore(db), ctx
}

func TestRevisionLifecyclePostgres(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	_, err := s.GetProject(ctx, "proj-1")
	require.True(t, errors.Is(err, sql.ErrNoRows), "expected no rows, got %v", err)

	_, err = s.CurrentRevision(ctx, "proj-1")
	require.True(t, errors.Is(err, sql.ErrNoRows), "expected no rows, got %v", err)

	saved, err := s.SaveRevision(ctx, Revision{ID: "rev-1", ProjectID: "proj-1", Content: "# Title\nbody about rockets\n", CommitHash: "abc1234"})
	require.NoError(t, err)
	assert.Equal(t, ContentDigest("# Title\nbody about rockets\n"), saved.Digest)
	assert.False(t, saved.CreatedAt.IsZero())

	current, err := s.CurrentRevision(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "rev-1", current.ID)
	assert.Equal(t, "abc1234", current.CommitHash)

	project, err := s.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "rev-1", project.CurrentRevisionID)
	assert.False(t, project.UpdatedAt.Before(project.CreatedAt))

	currents, err := s.ListCurrentRevisions(ctx)
	require.NoError(t, err)
	require.Len(t, currents, 1)
	assert.Equal(t, "rev-1", currents[0].ID)

	hits, total, err := s.SearchRevisions(ctx, "rockets", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, hits, 1)
	assert.Equal(t, "proj-1", hits[0].ProjectID)

	require.NoError(t, s.InsertMerge(ctx, MergeRecord{ID: "merge-1", ProjectID: "proj-1", RevisionID: "rev-1", Accepted: 2, Rejected: 1, Total: 3}))
	require.NoError(t, s.InsertProposal(ctx, ProposalRecord{ID: "prop-1", ProjectID: "proj-2", Generator: "stub", Proposed: "x", CreatedAt: time.Now().UTC()}))
}

func TestExportLifecyclePostgres(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	_, err := s.SaveRevision(ctx, Revision{ID: "rev-1", ProjectID: "proj-1", Content: "doc"})
	require.NoError(t, err)

	record, err := s.InsertExport(ctx, ExportRecord{ID: "exp-1", ProjectID: "proj-1", RevisionID: "rev-1", Format: "html"})
	require.NoError(t, err)
	assert.Equal(t, ExportQueued, record.Status)

	running, err := s.MarkExportRunning(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, ExportRunning, running.Status)
	assert.Equal(t, 1, running.Attempts)

	require.NoError(t, s.FailExport(ctx, "exp-1", "renderer crashed"))
	failed, err := s.GetExport(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, ExportFailed, failed.Status)
	assert.Equal(t, "renderer crashed", failed.Error)

	_, err = s.MarkExportRunning(ctx, "exp-1")
	require.NoError(t, err)
	require.NoError(t, s.CompleteExport(ctx, "exp-1", "projects/proj-1/exports/exp-1.html", "text/html", 42))

	items, err := s.ListExports(ctx, "proj-1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ExportCompleted, items[0].Status)
	assert.Equal(t, 2, items[0].Attempts)
	assert.Empty(t, items[0].Error)
	assert.Equal(t, int64(42), items[0].SizeBytes)

	_, err = s.MarkExportRunning(ctx, "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}
