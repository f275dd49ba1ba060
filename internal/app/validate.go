package app

import (
	"strings"
	"unicode"

	"draftdodger/api/internal/hunk"
)

const maxProjectIDLen = 128

// cleanProjectID trims raw and checks that it can double as a directory name:
// non-empty, at most maxProjectIDLen bytes, not "." or "..", and free of path
// separators and control characters.
func cleanProjectID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", invalid("project_id is required", nil)
	}
	bad := len(id) > maxProjectIDLen || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) ||
		strings.IndexFunc(id, unicode.IsControl) >= 0
	if bad {
		return "", invalid("project_id must be a plain name without path separators or control characters", map[string]any{
			"project_id": id,
		})
	}
	return id, nil
}

func hasNUL(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

// proposalText rejects NUL bytes, which Postgres text columns cannot store.
func proposalText(input ProposalInput) error {
	for _, f := range []struct{ name, value string }{
		{"base", input.Base},
		{"current", input.Current},
		{"instructions", input.Instructions},
	} {
		if hasNUL(f.value) {
			return invalid(f.name+" must not contain NUL characters", map[string]any{"field": f.name})
		}
	}
	return nil
}

func hunkText(hunks []hunk.Hunk) error {
	for i, h := range hunks {
		field := ""
		switch {
		case hasNUL(h.OldText):
			field = "oldText"
		case hasNUL(h.NewText):
			field = "newText"
		default:
			continue
		}
		return invalid("hunk text must not contain NUL characters", map[string]any{"index": i, "field": field})
	}
	return nil
}
