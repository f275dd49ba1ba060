package app

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"draftdodger/api/internal/config"
	"draftdodger/api/internal/gitrepo"
	"draftdodger/api/internal/notify"
	"draftdodger/api/internal/search"
	"draftdodger/api/internal/store"
)

type fakeStore struct {
	pingFn            func(context.Context) error
	getProjectFn      func(context.Context, string) (store.Project, error)
	currentRevisionFn func(context.Context, string) (store.Revision, error)
	saveRevisionFn    func(context.Context, store.Revision) (store.Revision, error)
	insertProposalFn  func(context.Context, store.ProposalRecord) error
	insertMergeFn     func(context.Context, store.MergeRecord) error
	insertExportFn    func(context.Context, store.ExportRecord) (store.ExportRecord, error)
	getExportFn       func(context.Context, string) (store.ExportRecord, error)
	listExportsFn     func(context.Context, string, int) ([]store.ExportRecord, error)
	failExportFn      func(context.Context, string, string) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{}, sql.ErrNoRows
}
func (f *fakeStore) CurrentRevision(ctx context.Context, projectID string) (store.Revision, error) {
	if f.currentRevisionFn != nil {
		return f.currentRevisionFn(ctx, projectID)
	}
	return store.Revision{}, sql.ErrNoRows
}
func (f *fakeStore) SaveRevision(ctx context.Context, revision store.Revision) (store.Revision, error) {
	if f.saveRevisionFn != nil {
		return f.saveRevisionFn(ctx, revision)
	}
	revision.Digest = store.ContentDigest(revision.Content)
	return revision, nil
}
func (f *fakeStore) InsertProposal(ctx context.Context, record store.ProposalRecord) error {
	if f.insertProposalFn != nil {
		return f.insertProposalFn(ctx, record)
	}
	return nil
}
func (f *fakeStore) InsertMerge(ctx context.Context, record store.MergeRecord) error {
	if f.insertMergeFn != nil {
		return f.insertMergeFn(ctx, record)
	}
	return nil
}
func (f *fakeStore) InsertExport(ctx context.Context, record store.ExportRecord) (store.ExportRecord, error) {
	if f.insertExportFn != nil {
		return f.insertExportFn(ctx, record)
	}
	return record, nil
}
func (f *fakeStore) GetExport(ctx context.Context, exportID string) (store.ExportRecord, error) {
	if f.getExportFn != nil {
		return f.getExportFn(ctx, exportID)
	}
	return store.ExportRecord{}, sql.ErrNoRows
}
func (f *fakeStore) ListExports(ctx context.Context, projectID string, limit int) ([]store.ExportRecord, error) {
	if f.listExportsFn != nil {
		return f.listExportsFn(ctx, projectID, limit)
	}
	return nil, nil
}
func (f *fakeStore) FailExport(ctx context.Context, exportID, message string) error {
	if f.failExportFn != nil {
		return f.failExportFn(ctx, exportID, message)
	}
	return nil
}

type fakeGit struct {
	commitDocumentFn func(string, string, string, string) (store.CommitInfo, error)
	historyFn        func(string, int) ([]store.CommitInfo, error)
	documentAtFn     func(string, string) (string, store.CommitInfo, error)
}

func (f *fakeGit) DocumentAt(projectID, rev string) (string, store.CommitInfo, error) {
	if f.documentAtFn != nil {
		return f.documentAtFn(projectID, rev)
	}
	return "", store.CommitInfo{}, gitrepo.ErrNoHistory
}

func (f *fakeGit) CommitDocument(projectID, content, author, message string, record func(store.CommitInfo) error) (store.CommitInfo, error) {
	info := store.CommitInfo{Hash: "abc1234"}
	if f.commitDocumentFn != nil {
		var err error
		if info, err = f.commitDocumentFn(projectID, content, author, message); err != nil {
			return store.CommitInfo{}, err
		}
	}
	if record != nil {
		if err := record(info); err != nil {
			return store.CommitInfo{}, err
		}
	}
	return info, nil
}
func (f *fakeGit) History(projectID string, limit int) ([]store.CommitInfo, error) {
	if f.historyFn != nil {
		return f.historyFn(projectID, limit)
	}
	return nil, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (f *fakeQueue) EnqueueExport(_ context.Context, projectID, exportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, projectID+"/"+exportID)
	return nil
}

func (f *fakeQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

type fakeSearch struct {
	searchFn func(context.Context, search.Query) search.Response
	mu       sync.Mutex
	indexed  []string
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexRevision(revision store.Revision, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, revision.ProjectID+":"+title)
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

func newTestService(fs *fakeStore, fg *fakeGit) *Service {
	return &Service{
		cfg:       config.Config{StreamInterval: 20 * time.Millisecond, ExportFormats: []string{"markdown", "html"}},
		store:     fs,
		git:       fg,
		generator: fixedGenerator{},
		notices:   notify.NewMemoryBroker(),
		now:       func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) },
	}
}
