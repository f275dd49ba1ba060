package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"draftdodger/api/internal/store"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	healthy  bool
	searchFn func(Query) ([]Result, int, error)

	mu      sync.Mutex
	indexed []DocumentRecord
	done    chan struct{}
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(q Query) ([]Result, int, error) { return f.searchFn(q) }

func (f *fakeEngine) IndexDocument(doc DocumentRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, doc)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func (f *fakeEngine) IndexDocuments(docs []DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, docs...)
	return nil
}

type fakeFallback struct {
	searchRevisionsFn func(ctx context.Context, query string, limit, offset int) ([]store.SearchHit, int, error)
}

func (f fakeFallback) SearchRevisions(ctx context.Context, query string, limit, offset int) ([]store.SearchHit, int, error) {
	return f.searchRevisionsFn(ctx, query, limit, offset)
}

func TestSearchPrefersHealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: true, searchFn: func(q Query) ([]Result, int, error) {
		assert.Equal(t, "rockets", q.Text)
		assert.Equal(t, defaultLimit, q.Limit)
		return []Result{{ProjectID: "proj-1"}}, 1, nil
	}}
	fallback := fakeFallback{searchRevisionsFn: func(context.Context, string, int, int) ([]store.SearchHit, int, error) {
		t.Fatal("fallback should not be used")
		return nil, 0, nil
	}}

	resp := NewService(engine, fallback).Search(context.Background(), Query{Text: "  rockets "})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "rockets", resp.Query)
	require.Len(t, resp.Results, 1)
}

func TestSearchFallsBackOnEngineError(t *testing.T) {
	engine := &fakeEngine{healthy: true, searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("boom")
	}}
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fallback := fakeFallback{searchRevisionsFn: func(_ context.Context, query string, limit, offset int) ([]store.SearchHit, int, error) {
		assert.Equal(t, "plan", query)
		assert.Equal(t, 5, limit)
		assert.Equal(t, 0, offset)
		return []store.SearchHit{{ProjectID: "proj-2", RevisionID: "rev_2", Snippet: "the <b>plan</b>", CreatedAt: created}}, 7, nil
	}}

	resp := NewService(engine, fallback).Search(context.Background(), Query{Text: "plan", Limit: 5, Offset: -3})
	assert.Equal(t, 7, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, Result{ProjectID: "proj-2", RevisionID: "rev_2", Snippet: "the <b>plan</b>", UpdatedAt: created}, resp.Results[0])
}

func TestSearchWithoutEngineOrQuery(t *testing.T) {
	svc := NewService(nil, fakeFallback{searchRevisionsFn: func(context.Context, string, int, int) ([]store.SearchHit, int, error) {
		return nil, 0, errors.New("db down")
	}})

	empty := svc.Search(context.Background(), Query{Text: "   "})
	assert.NotNil(t, empty.Results)
	assert.Zero(t, empty.Total)

	failed := svc.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, failed.Results)
	assert.Zero(t, failed.Total)
}

func TestIndexRevision(t *testing.T) {
	engine := &fakeEngine{healthy: true, done: make(chan struct{})}
	svc := NewService(engine, nil)

	svc.IndexRevision(store.Revision{ID: "rev_1", ProjectID: "proj/1", Content: "# Plan\n", CreatedAt: time.Unix(100, 0)}, "Plan")

	select {
	case <-engine.done:
	case <-time.After(2 * time.Second):
		t.Fatal("revision was not indexed")
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.indexed, 1)
	assert.Equal(t, "p70726f6a2f31", engine.indexed[0].ID)
	assert.Equal(t, int64(100), engine.indexed[0].UpdatedAt)

	unhealthy := &fakeEngine{}
	NewService(unhealthy, nil).IndexRevision(store.Revision{ProjectID: "p"}, "")
	NewService(unhealthy, nil).Reindex([]DocumentRecord{{ID: "x"}})
	assert.Empty(t, unhealthy.indexed)
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"projectId":  []byte(`"proj-1"`),
		"revisionId": []byte(`"rev_9"`),
		"title":      []byte(`"Launch Plan"`),
		"content":    []byte(`"long body"`),
		"updatedAt":  []byte(`1700000000`),
		"_formatted": []byte(`{"title":"<mark>Launch</mark> Plan","content":"…body…","updatedAt":"1700000000"}`),
	}
	got := hitToResult(hit)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, "rev_9", got.RevisionID)
	assert.Equal(t, "<mark>Launch</mark> Plan", got.Title)
	assert.Equal(t, "…body…", got.Snippet)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.UpdatedAt)
}
