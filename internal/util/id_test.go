package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	bare := NewID("")
	if len(bare) != 32 || strings.Contains(bare, "-") {
		t.Fatalf("NewID(\"\") = %q, want 32 hex chars", bare)
	}

	id := NewID("rev")
	if !strings.HasPrefix(id, "rev_") || len(id) != len("rev_")+32 {
		t.Fatalf("NewID(rev) = %q", id)
	}

	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		next := NewID("exp")
		if _, dup := seen[next]; dup {
			t.Fatalf("duplicate id %q", next)
		}
		seen[next] = struct{}{}
	}
}
