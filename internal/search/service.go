package search

import (
	"context"
	"encoding/hex"
	"strings"

	"draftdodger/api/internal/store"

	"github.com/rs/zerolog/log"
)

const defaultLimit = 20

// Service is the facade that tries Meilisearch first and falls back to
// Postgres full-text search.
type Service struct {
	engine   Engine
	fallback Fallback
}

// NewService creates a search service. engine may be nil if Meilisearch is not configured.
func NewService(engine Engine, fallback Fallback) *Service {
	return &Service{engine: engine, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("search: meilisearch error, falling back to postgres")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	hits, total, err := s.fallback.SearchRevisions(ctx, q.Text, q.Limit, q.Offset)
	if err != nil {
		log.Error().Err(err).Msg("search: postgres fallback error")
		return Response{Results: []Result{}, Query: q.Text}
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			ProjectID:  hit.ProjectID,
			RevisionID: hit.RevisionID,
			Snippet:    hit.Snippet,
			UpdatedAt:  hit.CreatedAt,
		})
	}
	return Response{Results: results, Total: total, Query: q.Text}
}

// IndexRevision indexes a project's approved revision (fire-and-forget).
func (s *Service) IndexRevision(revision store.Revision, title string) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	doc := RecordFromRevision(revision, title)
	go func() {
		if err := s.engine.IndexDocument(doc); err != nil {
			log.Error().Err(err).Str("project_id", revision.ProjectID).Msg("search: index revision")
		}
	}()
}

// Reindex pushes a batch of approved revisions into Meilisearch.
func (s *Service) Reindex(docs []DocumentRecord) {
	if s.engine == nil || !s.engine.Healthy() || len(docs) == 0 {
		return
	}
	if err := s.engine.IndexDocuments(docs); err != nil {
		log.Error().Err(err).Int("count", len(docs)).Msg("search: reindex documents")
	}
}

// RecordFromRevision keys the record by project so each project holds one
// entry: its current approved document.
func RecordFromRevision(revision store.Revision, title string) DocumentRecord {
	return DocumentRecord{
		ID:         documentKey(revision.ProjectID),
		ProjectID:  revision.ProjectID,
		RevisionID: revision.ID,
		Title:      title,
		Content:    revision.Content,
		UpdatedAt:  revision.CreatedAt.Unix(),
	}
}

// Meilisearch ids allow only [A-Za-z0-9_-].
func documentKey(projectID string) string {
	return "p" + hex.EncodeToString([]byte(projectID))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
