package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"draftdodger/api/internal/artifact"
	"draftdodger/api/internal/config"
	"draftdodger/api/internal/export"
	"draftdodger/api/internal/gitrepo"
	"draftdodger/api/internal/hunk"
	"draftdodger/api/internal/jobs"
	"draftdodger/api/internal/notify"
	"draftdodger/api/internal/proposal"
	"draftdodger/api/internal/search"
	"draftdodger/api/internal/store"
	"draftdodger/api/internal/util"

	"github.com/rs/zerolog/log"
)

const (
	NoticeMerged = "merged"

	defaultAuthor     = "reviewer"
	downloadURLExpiry = 15 * time.Minute
	maxListLimit      = 100
)

type dataStore interface {
	Ping(ctx context.Context) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	CurrentRevision(ctx context.Context, projectID string) (store.Revision, error)
	SaveRevision(ctx context.Context, revision store.Revision) (store.Revision, error)
	InsertProposal(ctx context.Context, record store.ProposalRecord) error
	InsertMerge(ctx context.Context, record store.MergeRecord) error
	InsertExport(ctx context.Context, record store.ExportRecord) (store.ExportRecord, error)
	GetExport(ctx context.Context, exportID string) (store.ExportRecord, error)
	ListExports(ctx context.Context, projectID string, limit int) ([]store.ExportRecord, error)
	FailExport(ctx context.Context, exportID, message string) error
}

type gitService interface {
	CommitDocument(projectID, content, author, message string, record func(store.CommitInfo) error) (store.CommitInfo, error)
	History(projectID string, limit int) ([]store.CommitInfo, error)
	DocumentAt(projectID, rev string) (string, store.CommitInfo, error)
}

type exportQueue interface {
	EnqueueExport(ctx context.Context, projectID, exportID string) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexRevision(revision store.Revision, title string)
}

type rateLimiter interface {
	Allow(projectID string) bool
}

type ProposalInput struct {
	ProjectID    string
	Base         string
	Current      string
	Instructions string
}

type ProposalOutput struct {
	Proposed  string `json:"proposed"`
	CreatedAt string `json:"created_at"`
}

type MergeInput struct {
	ProjectID string
	Hunks     []hunk.Hunk
	Author    string
}

type MergeOutput struct {
	Status   string `json:"status"`
	Approved string `json:"approved"`
}

type HunksOutput struct {
	Hunks    []hunk.Hunk `json:"hunks"`
	Selected int         `json:"selected"`
	Total    int         `json:"total"`
}

// Dependencies are the collaborators wired by the serve command. Optional
// ones may be left nil.
type Dependencies struct {
	Store     *store.PostgresStore
	Git       *gitrepo.Service
	Generator proposal.Generator
	Limiter   *proposal.ProjectLimiter
	Queue     *jobs.Queue
	Notices   notify.Broker
	Search    *search.Service
	Artifacts artifact.Store
}

type Service struct {
	cfg       config.Config
	store     dataStore
	git       gitService
	generator proposal.Generator
	limiter   rateLimiter
	queue     exportQueue
	notices   notify.Broker
	search    searchService
	artifacts artifact.Store
	now       func() time.Time

	background sync.WaitGroup
}

func New(cfg config.Config, deps Dependencies) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     deps.Store,
		git:       deps.Git,
		generator: deps.Generator,
		notices:   deps.Notices,
		artifacts: deps.Artifacts,
		now:       time.Now,
	}
	if svc.generator == nil {
		svc.generator = proposal.NewStubGenerator()
	}
	if svc.notices == nil {
		svc.notices = notify.NewMemoryBroker()
	}
	if deps.Limiter != nil {
		svc.limiter = deps.Limiter
	}
	if deps.Queue != nil {
		svc.queue = deps.Queue
	}
	if deps.Search != nil {
		svc.search = deps.Search
	}
	return svc
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) StreamInterval() time.Duration {
	if s.cfg.StreamInterval <= 0 {
		return time.Second
	}
	return s.cfg.StreamInterval
}

// Wait blocks until background export scheduling has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) Propose(ctx context.Context, input ProposalInput) (ProposalOutput, error) {
	projectID, err := cleanProjectID(input.ProjectID)
	if err != nil {
		return ProposalOutput{}, err
	}
	if err := proposalText(input); err != nil {
		return ProposalOutput{}, err
	}
	if s.limiter != nil && !s.limiter.Allow(projectID) {
		return ProposalOutput{}, domainError(http.StatusTooManyRequests, CodeRateLimited, "Too many proposals for this project, retry shortly", nil)
	}

	result, err := s.generator.Generate(ctx, proposal.Request{
		ProjectID:    projectID,
		Base:         input.Base,
		Current:      input.Current,
		Instructions: input.Instructions,
	})
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID).Str("generator", s.generator.Name()).Msg("proposal generation failed")
		return ProposalOutput{}, domainError(http.StatusBadGateway, CodeGenerationFailed, "Proposal generation failed", nil)
	}

	if err := s.store.InsertProposal(ctx, store.ProposalRecord{
		ID:           util.NewID("prop"),
		ProjectID:    projectID,
		Instructions: input.Instructions,
		Generator:    s.generator.Name(),
		Proposed:     result.Proposed,
		CreatedAt:    result.CreatedAt.UTC(),
	}); err != nil {
		return ProposalOutput{}, fmt.Errorf("record proposal: %w", err)
	}

	return ProposalOutput{
		Proposed:  result.Proposed,
		CreatedAt: proposal.FormatTimestamp(result.CreatedAt),
	}, nil
}

func (s *Service) BuildHunks(current, proposed string) HunksOutput {
	hunks := hunk.Build(current, proposed)
	summary := hunk.Summarize(hunks)
	return HunksOutput{Hunks: hunks, Selected: summary.Accepted, Total: summary.Total}
}

// Merge reconstructs the approved document from the reviewed hunks, records
// it as the project's current revision and schedules the default exports.
func (s *Service) Merge(ctx context.Context, input MergeInput) (MergeOutput, error) {
	projectID, err := cleanProjectID(input.ProjectID)
	if err != nil {
		return MergeOutput{}, err
	}
	if err := hunk.Validate(input.Hunks); err != nil {
		var kindErr *hunk.InvalidKindError
		if errors.As(err, &kindErr) {
			return MergeOutput{}, invalid(err.Error(), map[string]any{
				"index": kindErr.Index,
				"kind":  kindErr.Kind,
			})
		}
		return MergeOutput{}, err
	}
	if err := hunkText(input.Hunks); err != nil {
		return MergeOutput{}, err
	}
	author := strings.TrimSpace(input.Author)
	if author == "" {
		author = defaultAuthor
	}

	approved := hunk.Apply(input.Hunks)
	summary := hunk.Summarize(input.Hunks)

	revision, created, err := s.saveApproved(ctx, projectID, approved, author, summary)
	if err != nil {
		return MergeOutput{}, err
	}

	if err := s.store.InsertMerge(ctx, store.MergeRecord{
		ID:         util.NewID("merge"),
		ProjectID:  projectID,
		RevisionID: revision.ID,
		Accepted:   summary.Accepted,
		Rejected:   summary.Rejected,
		Total:      summary.Total,
	}); err != nil {
		return MergeOutput{}, fmt.Errorf("record merge: %w", err)
	}

	s.publish(ctx, projectID, NoticeMerged)
	if created {
		s.scheduleDefaultExports(ctx, revision)
	}

	return MergeOutput{Status: "ok", Approved: approved}, nil
}

func (s *Service) saveApproved(ctx context.Context, projectID, approved, author string, summary hunk.Summary) (store.Revision, bool, error) {
	current, err := s.store.CurrentRevision(ctx, projectID)
	switch {
	case err == nil:
		if current.Digest == store.ContentDigest(approved) {
			return current, false, nil
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return store.Revision{}, false, fmt.Errorf("load current revision: %w", err)
	}

	// The revision row is written while the commit is still held; a failed
	// write takes the commit back off main.
	var saved store.Revision
	message := fmt.Sprintf("Merge %d accepted, %d rejected changes", summary.Accepted, summary.Rejected)
	_, err = s.git.CommitDocument(projectID, approved, author, message, func(commit store.CommitInfo) error {
		var err error
		saved, err = s.store.SaveRevision(ctx, store.Revision{
			ID:         util.NewID("rev"),
			ProjectID:  projectID,
			Content:    approved,
			CommitHash: commit.Hash,
		})
		if err != nil {
			return fmt.Errorf("save revision: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Revision{}, false, fmt.Errorf("record approved document: %w", err)
	}

	if s.search != nil {
		s.search.IndexRevision(saved, export.DocumentTitle(approved))
	}
	return saved, true, nil
}

// scheduleDefaultExports queues the configured export formats without
// holding up the caller. Failures are logged only.
func (s *Service) scheduleDefaultExports(ctx context.Context, revision store.Revision) {
	if s.queue == nil || len(s.cfg.ExportFormats) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		for _, raw := range s.cfg.ExportFormats {
			format, err := export.ParseFormat(raw)
			if err != nil {
				log.Warn().Err(err).Str("format", raw).Msg("skipping unknown default export format")
				continue
			}
			if _, err := s.queueExport(ctx, revision, format); err != nil {
				log.Error().Err(err).
					Str("project_id", revision.ProjectID).
					Str("revision_id", revision.ID).
					Str("format", string(format)).
					Msg("export enqueue failed")
			}
		}
	}()
}

func (s *Service) queueExport(ctx context.Context, revision store.Revision, format export.Format) (store.ExportRecord, error) {
	record, err := s.store.InsertExport(ctx, store.ExportRecord{
		ID:         util.NewID("exp"),
		ProjectID:  revision.ProjectID,
		RevisionID: revision.ID,
		Format:     string(format),
		Status:     store.ExportQueued,
	})
	if err != nil {
		return store.ExportRecord{}, fmt.Errorf("insert export: %w", err)
	}
	if err := s.queue.EnqueueExport(ctx, record.ProjectID, record.ID); err != nil {
		if failErr := s.store.FailExport(ctx, record.ID, err.Error()); failErr != nil {
			log.Error().Err(failErr).Str("export_id", record.ID).Msg("record enqueue failure")
		}
		return store.ExportRecord{}, err
	}
	return record, nil
}

// Project returns the project's metadata. Projects exist once they have a
// first approved revision.
func (s *Service) Project(ctx context.Context, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Project not found")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project_id":          project.ID,
		"current_revision_id": nilIfEmpty(project.CurrentRevisionID),
		"created_at":          proposal.FormatTimestamp(project.CreatedAt),
		"updated_at":          proposal.FormatTimestamp(project.UpdatedAt),
	}, nil
}

func (s *Service) Document(ctx context.Context, projectID string) (map[string]any, error) {
	revision, err := s.store.CurrentRevision(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project_id":  revision.ProjectID,
		"revision_id": revision.ID,
		"content":     revision.Content,
		"digest":      revision.Digest,
		"commit_hash": revision.CommitHash,
		"created_at":  proposal.FormatTimestamp(revision.CreatedAt),
	}, nil
}

func (s *Service) History(_ context.Context, projectID string, limit int) (map[string]any, error) {
	commits, err := s.git.History(projectID, clampLimit(limit, 50))
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoHistory) {
			return nil, notFound("Project has no approved revisions")
		}
		return nil, err
	}

	items := make([]map[string]any, 0, len(commits))
	for _, item := range commits {
		items = append(items, map[string]any{
			"hash":       item.Hash,
			"message":    strings.TrimSpace(item.Message),
			"author":     item.Author,
			"created_at": proposal.FormatTimestamp(item.CreatedAt),
		})
	}
	return map[string]any{
		"project_id": projectID,
		"commits":    items,
	}, nil
}

// HistoricalDocument returns the approved document as recorded by one commit.
func (s *Service) HistoricalDocument(_ context.Context, projectID, hash string) (map[string]any, error) {
	content, commit, err := s.git.DocumentAt(projectID, hash)
	switch {
	case errors.Is(err, gitrepo.ErrNoHistory):
		return nil, notFound("Project has no approved revisions")
	case errors.Is(err, gitrepo.ErrUnknownRevision):
		return nil, notFound("Unknown commit")
	case err != nil:
		return nil, err
	}
	return map[string]any{
		"project_id": projectID,
		"hash":       commit.Hash,
		"message":    strings.TrimSpace(commit.Message),
		"author":     commit.Author,
		"created_at": proposal.FormatTimestamp(commit.CreatedAt),
		"content":    content,
	}, nil
}

func (s *Service) CreateExport(ctx context.Context, projectID, rawFormat string) (map[string]any, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, invalid(err.Error(), map[string]any{
			"formats": []export.Format{export.FormatMarkdown, export.FormatHTML, export.FormatPDF, export.FormatDOCX},
		})
	}
	if s.queue == nil {
		return nil, unavailable(CodeExportsUnavailable, "Export queue is not configured")
	}
	revision, err := s.store.CurrentRevision(ctx, projectID)
	if err != nil {
		return nil, err
	}
	record, err := s.queueExport(ctx, revision, format)
	if err != nil {
		return nil, err
	}
	return exportView(record, ""), nil
}

func (s *Service) ListExports(ctx context.Context, projectID string, limit int) (map[string]any, error) {
	records, err := s.store.ListExports(ctx, projectID, clampLimit(limit, 20))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, exportView(record, ""))
	}
	return map[string]any{"project_id": projectID, "exports": items}, nil
}

func (s *Service) GetExport(ctx context.Context, exportID string) (map[string]any, error) {
	record, err := s.store.GetExport(ctx, exportID)
	if err != nil {
		return nil, err
	}
	downloadURL := ""
	if record.Status == store.ExportCompleted && record.ArtifactKey != "" && s.artifacts != nil {
		downloadURL, err = s.artifacts.DownloadURL(ctx, record.ArtifactKey, downloadURLExpiry)
		if err != nil {
			log.Warn().Err(err).Str("export_id", record.ID).Msg("presign export download")
			downloadURL = ""
		}
		if downloadURL == "" {
			downloadURL = "/exports/" + record.ID + "/download"
		}
	}
	return exportView(record, downloadURL), nil
}

// OpenExport streams a completed export's artifact.
func (s *Service) OpenExport(ctx context.Context, exportID string) (io.ReadCloser, artifact.Object, string, error) {
	record, err := s.store.GetExport(ctx, exportID)
	if err != nil {
		return nil, artifact.Object{}, "", err
	}
	if record.Status != store.ExportCompleted || record.ArtifactKey == "" {
		return nil, artifact.Object{}, "", domainError(http.StatusConflict, CodeExportNotReady, "Export has not completed", map[string]any{"status": record.Status})
	}
	if s.artifacts == nil {
		return nil, artifact.Object{}, "", unavailable(CodeArtifactsUnavailable, "Artifact storage is not configured")
	}
	rc, object, err := s.artifacts.Open(ctx, record.ArtifactKey)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, artifact.Object{}, "", notFound("Export artifact is missing")
		}
		return nil, artifact.Object{}, "", err
	}
	if object.ContentType == "" {
		object.ContentType = record.ContentType
	}
	filename := record.ID
	if format, err := export.ParseFormat(record.Format); err == nil {
		filename += "." + format.Extension()
	}
	return rc, object, filename, nil
}

func (s *Service) Search(ctx context.Context, query string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}
	}
	return s.search.Search(ctx, search.Query{Text: query, Limit: clampLimit(limit, 20), Offset: offset})
}

func (s *Service) Subscribe(ctx context.Context, projectID string) (<-chan notify.Notice, func(), error) {
	return s.notices.Subscribe(ctx, projectID)
}

func (s *Service) publish(ctx context.Context, projectID, message string) {
	notice := notify.Notice{ProjectID: projectID, Message: message, Timestamp: s.now().UTC()}
	if err := s.notices.Publish(ctx, notice); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Str("message", message).Msg("publish notice")
	}
}

func exportView(record store.ExportRecord, downloadURL string) map[string]any {
	view := map[string]any{
		"id":          record.ID,
		"project_id":  record.ProjectID,
		"revision_id": record.RevisionID,
		"format":      record.Format,
		"status":      record.Status,
		"attempts":    record.Attempts,
		"error":       nilIfEmpty(record.Error),
		"created_at":  proposal.FormatTimestamp(record.CreatedAt),
		"updated_at":  proposal.FormatTimestamp(record.UpdatedAt),
	}
	if record.Status == store.ExportCompleted {
		view["size_bytes"] = record.SizeBytes
		view["content_type"] = record.ContentType
	}
	if downloadURL != "" {
		view["download_url"] = downloadURL
	}
	return view
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
