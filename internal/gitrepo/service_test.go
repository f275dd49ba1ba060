package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"draftdodger/api/internal/store"
)

func TestProjectRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, err := svc.CommitDocument("proj-1", "# Plan\nDraft\n", "Avery", "Approve merge", nil)
	if err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}
	if first.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "proj-1", documentFile)); err != nil {
		t.Fatalf("document missing from worktree: %v", err)
	}

	second, err := svc.CommitDocument("proj-1", "# Plan\nFinal\n", "Avery", "Approve second merge", nil)
	if err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}

	history, err := svc.History("proj-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("history not newest first: %+v", history)
	}
	if history[0].Author != "Avery" {
		t.Fatalf("unexpected author %q", history[0].Author)
	}

	old, oldInfo, err := svc.DocumentAt("proj-1", first.Hash)
	if err != nil {
		t.Fatalf("DocumentAt(first) error = %v", err)
	}
	if old != "# Plan\nDraft\n" || oldInfo.Hash != first.Hash {
		t.Fatalf("unexpected content at first commit: %q", old)
	}

	head, info, err := svc.DocumentAt("proj-1", "main")
	if err != nil {
		t.Fatalf("DocumentAt(main) error = %v", err)
	}
	if head != "# Plan\nFinal\n" || info.Hash != second.Hash {
		t.Fatalf("unexpected head %q at %s", head, info.Hash)
	}

	limited, err := svc.History("proj-1", 1)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap history, got %d", len(limited))
	}
}

func TestHistoryUnknownProject(t *testing.T) {
	svc := New(t.TempDir())

	if _, err := svc.History("missing", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("History() error = %v, want ErrNoHistory", err)
	}
	if _, _, err := svc.DocumentAt("missing", "main"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("DocumentAt() error = %v, want ErrNoHistory", err)
	}
}

func TestDocumentAtUnknownRevision(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.CommitDocument("proj-1", "body\n", "Avery", "Baseline", nil); err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}
	if _, _, err := svc.DocumentAt("proj-1", "0000000000000000000000000000000000000000"); !errors.Is(err, ErrUnknownRevision) {
		t.Fatalf("DocumentAt() error = %v, want ErrUnknownRevision", err)
	}
}

func TestConcurrentCommitDocumentSameProject(t *testing.T) {
	svc := New(t.TempDir())

	if _, err := svc.CommitDocument("proj-1", "baseline\n", "Avery", "Baseline", nil); err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := fmt.Sprintf("revision-%02d\n", idx)
			if _, err := svc.CommitDocument("proj-1", content, "Avery", fmt.Sprintf("Commit %02d", idx), nil); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitDocument() concurrent error = %v", err)
		}
	}

	history, err := svc.History("proj-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}

	head, _, err := svc.DocumentAt("proj-1", "main")
	if err != nil {
		t.Fatalf("DocumentAt() error = %v", err)
	}
	if !strings.HasPrefix(head, "revision-") {
		t.Fatalf("unexpected head content after concurrent commits: %q", head)
	}
}

func TestSanitizeEmail(t *testing.T) {
	tests := map[string]string{
		"Avery Q":  "Avery.Q",
		"":         "reviewer",
		"__":       "..",
		"ünïcødé!": "ncd",
	}
	for input, want := range tests {
		if got := sanitizeEmail(input); got != want {
			t.Errorf("sanitizeEmail(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCommitDocumentRejectsEscapingProjectIDs(t *testing.T) {
	root := t.TempDir()
	svc := New(filepath.Join(root, "repos"))

	for _, id := range []string{"../escaped", "..", ".", "", "a/b", `a\b`, "nul\x00id", "/abs"} {
		if _, err := svc.CommitDocument(id, "body\n", "Avery", "Escape", nil); !errors.Is(err, ErrInvalidProject) {
			t.Errorf("CommitDocument(%q) error = %v, want ErrInvalidProject", id, err)
		}
		if _, err := svc.History(id, 10); !errors.Is(err, ErrInvalidProject) {
			t.Errorf("History(%q) error = %v, want ErrInvalidProject", id, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "escaped")); !os.IsNotExist(err) {
		t.Fatalf("repository created outside the base directory: %v", err)
	}
}

func TestCommitDocumentUndoesCommitWhenRecordFails(t *testing.T) {
	svc := New(t.TempDir())
	recordErr := errors.New("database down")

	if _, err := svc.CommitDocument("fresh", "first\n", "Avery", "First", func(store.CommitInfo) error { return recordErr }); !errors.Is(err, recordErr) {
		t.Fatalf("CommitDocument() error = %v, want record error", err)
	}
	if _, err := svc.History("fresh", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("History() after undone first commit error = %v, want ErrNoHistory", err)
	}

	base, err := svc.CommitDocument("proj-1", "kept\n", "Avery", "Kept", func(store.CommitInfo) error { return nil })
	if err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}
	var recorded store.CommitInfo
	_, err = svc.CommitDocument("proj-1", "dropped\n", "Avery", "Dropped", func(info store.CommitInfo) error {
		recorded = info
		return recordErr
	})
	if !errors.Is(err, recordErr) {
		t.Fatalf("CommitDocument() error = %v, want record error", err)
	}
	if recorded.Hash == "" {
		t.Fatal("record was not called with the new commit")
	}

	history, err := svc.History("proj-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Hash != base.Hash {
		t.Fatalf("history after undo = %+v, want only %s", history, base.Hash)
	}
	head, _, err := svc.DocumentAt("proj-1", "main")
	if err != nil || head != "kept\n" {
		t.Fatalf("DocumentAt(main) = %q, %v", head, err)
	}

	next, err := svc.CommitDocument("proj-1", "next\n", "Avery", "Next", nil)
	if err != nil {
		t.Fatalf("CommitDocument() after undo error = %v", err)
	}
	history, _ = svc.History("proj-1", 10)
	if len(history) != 2 || history[0].Hash != next.Hash || history[1].Hash != base.Hash {
		t.Fatalf("history after recommit = %+v", history)
	}
}
