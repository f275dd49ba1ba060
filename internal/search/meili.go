package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const (
	documentsIndex = "draftdodger_documents"
	healthInterval = 10 * time.Second
	snippetWords   = 30
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili is the Meilisearch-backed Engine. It checks the server periodically
// and reports itself unhealthy until the next successful check.
type Meili struct {
	client  meili.ServiceManager
	url     string
	healthy atomic.Bool
	stop    chan struct{}
}

// NewMeili connects to url. An unreachable server is not an error.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		url:    url,
		stop:   make(chan struct{}),
	}
	m.checkHealth()
	go m.watch()
	return m
}

// checkHealth refreshes the health flag and (re)applies index settings when the
// server comes back.
func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	was := m.healthy.Swap(err == nil)
	switch {
	case err != nil && was:
		log.Warn().Err(err).Str("url", m.url).Msg("search: meilisearch went away")
	case err != nil:
		log.Debug().Err(err).Str("url", m.url).Msg("search: meilisearch unavailable")
	case !was:
		log.Info().Str("url", m.url).Msg("search: meilisearch reachable")
		m.ensureIndex()
	}
}

func (m *Meili) watch() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Meili) ensureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: documentsIndex, PrimaryKey: "id"}); err != nil {
		log.Debug().Err(err).Msg("search: create index")
	}
	index := m.client.Index(documentsIndex)
	filterable := []interface{}{"projectId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Msg("search: filterable attributes")
	}
	searchable := []string{"title", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Msg("search: searchable attributes")
	}
	sortable := []string{"updatedAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Warn().Err(err).Msg("search: sortable attributes")
	}
}

func (m *Meili) Close() {
	close(m.stop)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errUnhealthy
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	resp, err := m.client.Index(documentsIndex).Search(q.Text, &meili.SearchRequest{
		Limit:                 int64(limit),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title"},
		AttributesToCrop:      []string{"content"},
		CropLength:            snippetWords,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// indexedHit is a DocumentRecord as returned by a search, with the
// highlighted and cropped copies Meilisearch adds under _formatted.
type indexedHit struct {
	DocumentRecord
	Formatted struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"_formatted"`
}

func hitToResult(hit meili.Hit) Result {
	var doc indexedHit
	if raw, err := json.Marshal(hit); err == nil {
		_ = json.Unmarshal(raw, &doc)
	}
	r := Result{
		ProjectID:  doc.ProjectID,
		RevisionID: doc.RevisionID,
		Title:      orElse(doc.Formatted.Title, doc.Title),
		Snippet:    orElse(doc.Formatted.Content, doc.Content),
	}
	if doc.UpdatedAt > 0 {
		r.UpdatedAt = time.Unix(doc.UpdatedAt, 0).UTC()
	}
	return r
}

func orElse(preferred, fallback string) string {
	if s := strings.TrimSpace(preferred); s != "" {
		return s
	}
	return fallback
}

func (m *Meili) IndexDocument(doc DocumentRecord) error {
	return m.IndexDocuments([]DocumentRecord{doc})
}

func (m *Meili) IndexDocuments(docs []DocumentRecord) error {
	if len(docs) == 0 {
		return nil
	}
	if !m.Healthy() {
		return errUnhealthy
	}
	_, err := m.client.Index(documentsIndex).AddDocuments(docs, nil)
	return err
}
