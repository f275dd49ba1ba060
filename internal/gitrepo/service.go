// Package gitrepo records every approved document as a commit in a
// per-project git repository.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"draftdodger/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	documentFile = "document.md"
	branch       = plumbing.ReferenceName("refs/heads/main")
	shortHashLen = 7
)

var (
	// ErrNoHistory is returned for projects that have no approved document yet.
	ErrNoHistory = errors.New("project has no document history")
	// ErrUnknownRevision is returned when a hash does not name a commit.
	ErrUnknownRevision = errors.New("unknown revision")
	// ErrInvalidProject is returned for ids that cannot name a directory
	// directly under the base directory.
	ErrInvalidProject = errors.New("invalid project id")
)

type Service struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir, locks: make(map[string]*sync.Mutex), now: time.Now}
}

// withRepo runs fn with the project's repository while holding its lock.
// Unless create is set, a missing repository yields ErrNoHistory.
func (s *Service) withRepo(projectID string, create bool, fn func(*git.Repository) error) error {
	dir, err := s.repoDir(projectID)
	if err != nil {
		return err
	}

	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(dir)
	switch {
	case err == nil:
	case errors.Is(err, git.ErrRepositoryNotExists) && !create:
		return ErrNoHistory
	case errors.Is(err, git.ErrRepositoryNotExists):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInitWithOptions(dir, &git.PlainInitOptions{
			InitOptions: git.InitOptions{DefaultBranch: branch},
		})
		if err != nil {
			return fmt.Errorf("init repo: %w", err)
		}
	default:
		return fmt.Errorf("open repo: %w", err)
	}
	return fn(repo)
}

// repoDir maps projectID to its repository directory, which must be a
// direct child of baseDir.
func (s *Service) repoDir(projectID string) (string, error) {
	if projectID == "" || projectID == "." || projectID == ".." ||
		strings.ContainsAny(projectID, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidProject, projectID)
	}
	base := filepath.Clean(s.baseDir)
	dir := filepath.Join(base, projectID)
	if filepath.Dir(dir) != base {
		return "", fmt.Errorf("%w: %q", ErrInvalidProject, projectID)
	}
	return dir, nil
}

func (s *Service) lockFor(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[projectID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

// CommitDocument replaces the project's document with content and commits it
// on main, creating the repository on first use. A non-nil record runs under
// the project lock once the commit exists; if it fails, main is moved back to
// its previous commit and record's error is returned.
func (s *Service) CommitDocument(projectID, content, author, message string, record func(store.CommitInfo) error) (store.CommitInfo, error) {
	var info store.CommitInfo
	err := s.withRepo(projectID, true, func(repo *git.Repository) error {
		prev, err := repo.Reference(branch, true)
		switch {
		case errors.Is(err, plumbing.ErrReferenceNotFound):
			prev = nil
		case err != nil:
			return fmt.Errorf("resolve %s: %w", branch.Short(), err)
		}

		wt, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("open worktree: %w", err)
		}
		path := filepath.Join(wt.Filesystem.Root(), documentFile)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write document: %w", err)
		}
		if _, err := wt.Add(documentFile); err != nil {
			return fmt.Errorf("stage document: %w", err)
		}
		hash, err := wt.Commit(message, &git.CommitOptions{
			AllowEmptyCommits: true,
			Author:            signature(author, s.now()),
		})
		if err != nil {
			return fmt.Errorf("commit document: %w", err)
		}
		commit, err := repo.CommitObject(hash)
		if err != nil {
			return fmt.Errorf("load commit: %w", err)
		}
		info = commitInfo(commit)

		if record == nil {
			return nil
		}
		if err := record(info); err != nil {
			if undoErr := resetBranch(repo, wt, prev); undoErr != nil {
				return errors.Join(err, fmt.Errorf("undo commit %s: %w", info.Hash, undoErr))
			}
			return err
		}
		return nil
	})
	return info, err
}

// resetBranch points main back at prev, or removes it when the undone commit
// was the first one.
func resetBranch(repo *git.Repository, wt *git.Worktree, prev *plumbing.Reference) error {
	if prev == nil {
		return repo.Storer.RemoveReference(branch)
	}
	return wt.Reset(&git.ResetOptions{Commit: prev.Hash(), Mode: git.HardReset})
}

// DocumentAt returns the document as of rev, which may be a full or
// abbreviated hash or any revision git understands ("main", "HEAD~1").
func (s *Service) DocumentAt(projectID, rev string) (string, store.CommitInfo, error) {
	var (
		content string
		info    store.CommitInfo
	)
	err := s.withRepo(projectID, false, func(repo *git.Repository) error {
		hash, err := repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownRevision, rev)
		}
		commit, err := repo.CommitObject(*hash)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownRevision, rev)
		}
		file, err := commit.File(documentFile)
		if err != nil {
			return fmt.Errorf("document missing at %s: %w", rev, err)
		}
		if content, err = file.Contents(); err != nil {
			return fmt.Errorf("read document at %s: %w", rev, err)
		}
		info = commitInfo(commit)
		return nil
	})
	return content, info, err
}

// History lists commits on main, newest first. limit <= 0 means all.
func (s *Service) History(projectID string, limit int) ([]store.CommitInfo, error) {
	var items []store.CommitInfo
	err := s.withRepo(projectID, false, func(repo *git.Repository) error {
		ref, err := repo.Reference(branch, true)
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return ErrNoHistory
		}
		if err != nil {
			return fmt.Errorf("resolve %s: %w", branch.Short(), err)
		}
		iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
		defer iter.Close()

		items = make([]store.CommitInfo, 0)
		err = iter.ForEach(func(c *object.Commit) error {
			items = append(items, commitInfo(c))
			if limit > 0 && len(items) == limit {
				return io.EOF
			}
			return nil
		})
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("walk log: %w", err)
		}
		return nil
	})
	return items, err
}

func commitInfo(c *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      c.Hash.String()[:shortHashLen],
		Message:   c.Message,
		Author:    c.Author.Name,
		CreatedAt: c.Author.When,
	}
}

func signature(author string, when time.Time) *object.Signature {
	return &object.Signature{Name: author, Email: sanitizeEmail(author) + "@draftdodger.local", When: when}
}

// sanitizeEmail reduces a display name to an email local part: ASCII
// alphanumerics survive and spaces, dashes and underscores become dots.
func sanitizeEmail(name string) string {
	local := strings.Map(func(r rune) rune {
		switch {
		case r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			return r
		case r == ' ' || r == '-' || r == '_':
			return '.'
		}
		return -1
	}, name)
	if local == "" {
		return "reviewer"
	}
	return local
}
