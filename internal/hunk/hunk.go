// Package hunk models diff fragments between two document versions and
// rebuilds an approved document from a reviewer's accept/reject decisions.
package hunk

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindEqual   Kind = "equal"
	KindReplace Kind = "replace"
	KindInsert  Kind = "insert"
	KindDelete  Kind = "delete"
)

func (k Kind) Valid() bool {
	switch k {
	case KindEqual, KindReplace, KindInsert, KindDelete:
		return true
	default:
		return false
	}
}

// Hunk is one contiguous fragment of a diff. ID is opaque to the server.
type Hunk struct {
	ID       string `json:"id,omitempty"`
	Kind     Kind   `json:"kind"`
	OldText  string `json:"oldText"`
	NewText  string `json:"newText"`
	Accepted bool   `json:"accepted"`
}

// Apply concatenates the contribution of each hunk in order:
//
//	equal    oldText
//	replace  newText if accepted, else oldText
//	insert   newText if accepted, else nothing
//	delete   nothing if accepted, else oldText
//
// Hunks of any other kind contribute nothing.
func Apply(hunks []Hunk) string {
	var out strings.Builder
	for _, h := range hunks {
		out.WriteString(h.Contribution())
	}
	return out.String()
}

func (h Hunk) Contribution() string {
	switch h.Kind {
	case KindEqual:
		return h.OldText
	case KindReplace:
		if h.Accepted {
			return h.NewText
		}
		return h.OldText
	case KindInsert:
		if h.Accepted {
			return h.NewText
		}
		return ""
	case KindDelete:
		if h.Accepted {
			return ""
		}
		return h.OldText
	default:
		return ""
	}
}

// InvalidKindError reports the first hunk whose kind is not recognised.
type InvalidKindError struct {
	Index int
	Kind  Kind
}

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("hunks[%d]: unknown kind %q", e.Index, e.Kind)
}

func Validate(hunks []Hunk) error {
	for i, h := range hunks {
		if !h.Kind.Valid() {
			return &InvalidKindError{Index: i, Kind: h.Kind}
		}
	}
	return nil
}

// Summary counts the reviewable hunks in a decision. Equal hunks are not changes.
type Summary struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

func Summarize(hunks []Hunk) Summary {
	var s Summary
	for _, h := range hunks {
		if h.Kind == KindEqual || !h.Kind.Valid() {
			continue
		}
		s.Total++
		if h.Accepted {
			s.Accepted++
		} else {
			s.Rejected++
		}
	}
	return s
}

func AcceptAll(hunks []Hunk) []Hunk {
	return setAccepted(hunks, true)
}

func RejectAll(hunks []Hunk) []Hunk {
	return setAccepted(hunks, false)
}

func setAccepted(hunks []Hunk, accepted bool) []Hunk {
	out := make([]Hunk, len(hunks))
	for i, h := range hunks {
		if h.Kind != KindEqual {
			h.Accepted = accepted
		}
		out[i] = h
	}
	return out
}
