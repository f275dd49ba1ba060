package search

import (
	"context"
	"time"

	"draftdodger/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ProjectID  string    `json:"project_id"`
	RevisionID string    `json:"revision_id"`
	Title      string    `json:"title"`
	Snippet    string    `json:"snippet"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Engine is a search index that can be unavailable.
type Engine interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexDocument(doc DocumentRecord) error
	IndexDocuments(docs []DocumentRecord) error
}

// Fallback searches the database directly.
type Fallback interface {
	SearchRevisions(ctx context.Context, query string, limit, offset int) ([]store.SearchHit, int, error)
}

// DocumentRecord is the data we index for a project's approved document.
type DocumentRecord struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	RevisionID string `json:"revisionId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	UpdatedAt  int64  `json:"updatedAt"`
}
