package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ContentDigest is the BLAKE2b-256 hex digest used to detect unchanged merges.
func ContentDigest(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// GetProject returns sql.ErrNoRows for projects that were never merged.
func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	var current sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, current_revision_id, created_at, updated_at
		FROM projects WHERE id = $1
	`, projectID).Scan(&project.ID, &current, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	project.CurrentRevisionID = current.String
	return project, nil
}

// CurrentRevision returns sql.ErrNoRows when the project has never been merged.
func (s *PostgresStore) CurrentRevision(ctx context.Context, projectID string) (Revision, error) {
	var revision Revision
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.project_id, r.content, r.digest, r.commit_hash, r.created_at
		FROM projects p
		JOIN revisions r ON r.id = p.current_revision_id
		WHERE p.id = $1
	`, projectID).Scan(&revision.ID, &revision.ProjectID, &revision.Content, &revision.Digest, &revision.CommitHash, &revision.CreatedAt)
	if err != nil {
		return Revision{}, err
	}
	return revision, nil
}

// ListCurrentRevisions returns every project's current revision.
func (s *PostgresStore) ListCurrentRevisions(ctx context.Context) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.project_id, r.content, r.digest, r.commit_hash, r.created_at
		FROM projects p
		JOIN revisions r ON r.id = p.current_revision_id
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list current revisions: %w", err)
	}
	defer rows.Close()

	revisions := make([]Revision, 0)
	for rows.Next() {
		var revision Revision
		if err := rows.Scan(&revision.ID, &revision.ProjectID, &revision.Content, &revision.Digest, &revision.CommitHash, &revision.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		revisions = append(revisions, revision)
	}
	return revisions, rows.Err()
}

func (s *PostgresStore) GetRevision(ctx context.Context, revisionID string) (Revision, error) {
	var revision Revision
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content, digest, commit_hash, created_at
		FROM revisions WHERE id = $1
	`, revisionID).Scan(&revision.ID, &revision.ProjectID, &revision.Content, &revision.Digest, &revision.CommitHash, &revision.CreatedAt)
	if err != nil {
		return Revision{}, err
	}
	return revision, nil
}

// SaveRevision inserts the revision and makes it the project's current one.
func (s *PostgresStore) SaveRevision(ctx context.Context, revision Revision) (Revision, error) {
	if revision.Digest == "" {
		revision.Digest = ContentDigest(revision.Content)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Revision{}, fmt.Errorf("begin revision tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, revision.ProjectID); err != nil {
		return Revision{}, fmt.Errorf("upsert project: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO revisions (id, project_id, content, digest, commit_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, revision.ID, revision.ProjectID, revision.Content, revision.Digest, revision.CommitHash).Scan(&revision.CreatedAt); err != nil {
		return Revision{}, fmt.Errorf("insert revision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projects SET current_revision_id = $2, updated_at = NOW()
		WHERE id = $1
	`, revision.ProjectID, revision.ID); err != nil {
		return Revision{}, fmt.Errorf("set current revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Revision{}, fmt.Errorf("commit revision tx: %w", err)
	}
	return revision, nil
}

func (s *PostgresStore) InsertProposal(ctx context.Context, record ProposalRecord) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, record.ProjectID); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, project_id, instructions, generator, proposed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.ID, record.ProjectID, record.Instructions, record.Generator, record.Proposed, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertMerge(ctx context.Context, record MergeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merges (id, project_id, revision_id, accepted, rejected, total)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.ID, record.ProjectID, record.RevisionID, record.Accepted, record.Rejected, record.Total)
	if err != nil {
		return fmt.Errorf("insert merge: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertExport(ctx context.Context, record ExportRecord) (ExportRecord, error) {
	if record.Status == "" {
		record.Status = ExportQueued
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exports (id, project_id, revision_id, format, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, record.ID, record.ProjectID, record.RevisionID, record.Format, record.Status).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return ExportRecord{}, fmt.Errorf("insert export: %w", err)
	}
	return record, nil
}

const exportColumns = `id, project_id, revision_id, format, status, artifact_key, content_type, size_bytes, attempts, error, created_at, updated_at`

func scanExport(row interface{ Scan(...any) error }) (ExportRecord, error) {
	var record ExportRecord
	err := row.Scan(
		&record.ID,
		&record.ProjectID,
		&record.RevisionID,
		&record.Format,
		&record.Status,
		&record.ArtifactKey,
		&record.ContentType,
		&record.SizeBytes,
		&record.Attempts,
		&record.Error,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	return record, err
}

func (s *PostgresStore) GetExport(ctx context.Context, exportID string) (ExportRecord, error) {
	return scanExport(s.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = $1`, exportID))
}

func (s *PostgresStore) ListExports(ctx context.Context, projectID string, limit int) ([]ExportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exportColumns+`
		FROM exports
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	items := make([]ExportRecord, 0)
	for rows.Next() {
		record, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		items = append(items, record)
	}
	return items, rows.Err()
}

// MarkExportRunning moves an export to running and bumps its attempt count.
func (s *PostgresStore) MarkExportRunning(ctx context.Context, exportID string) (ExportRecord, error) {
	record, err := scanExport(s.db.QueryRowContext(ctx, `
		UPDATE exports
		SET status = 'running', attempts = attempts + 1, error = '', updated_at = NOW()
		WHERE id = $1
		RETURNING `+exportColumns, exportID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExportRecord{}, err
		}
		return ExportRecord{}, fmt.Errorf("mark export running: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) CompleteExport(ctx context.Context, exportID, artifactKey, contentType string, sizeBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE exports
		SET status = 'completed', artifact_key = $2, content_type = $3, size_bytes = $4, error = '', updated_at = NOW()
		WHERE id = $1
	`, exportID, artifactKey, contentType, sizeBytes)
	if err != nil {
		return fmt.Errorf("complete export: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailExport(ctx context.Context, exportID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE exports
		SET status = 'failed', error = $2, updated_at = NOW()
		WHERE id = $1
	`, exportID, message)
	if err != nil {
		return fmt.Errorf("fail export: %w", err)
	}
	return nil
}

// SearchRevisions is the full-text fallback over each project's current revision.
func (s *PostgresStore) SearchRevisions(ctx context.Context, query string, limit, offset int) ([]SearchHit, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM projects p
		JOIN revisions r ON r.id = p.current_revision_id
		WHERE r.fts @@ plainto_tsquery('english', $1)
	`, query).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search hits: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, r.id,
			ts_headline('english', r.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30'),
			r.created_at
		FROM projects p
		JOIN revisions r ON r.id = p.current_revision_id
		WHERE r.fts @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(r.fts, plainto_tsquery('english', $1)) DESC, r.created_at DESC
		LIMIT $2 OFFSET $3
	`, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search revisions: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.ProjectID, &hit.RevisionID, &hit.Snippet, &hit.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, total, rows.Err()
}
