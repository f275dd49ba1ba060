// Package proposal turns a document and a set of edit instructions into a
// proposed revision.
package proposal

import (
	"context"
	"errors"
	"strings"
	"time"
)

// TimestampLayout is the wire format for created_at and stream timestamps:
// UTC, second precision, no zone suffix.
const TimestampLayout = "2006-01-02T15:04:05"

var ErrEmptyProposal = errors.New("generator returned an empty proposal")

type Request struct {
	ProjectID    string
	Base         string
	Current      string
	Instructions string
}

type Result struct {
	Proposed  string
	CreatedAt time.Time
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (Result, error)
}

const nextStepsFooter = "\n## Next Steps\n- Integrate the actual LLM backend.\n"

// StubGenerator appends a fixed next-steps section to the trimmed document.
type StubGenerator struct {
	now func() time.Time
}

func NewStubGenerator() *StubGenerator {
	return &StubGenerator{now: time.Now}
}

func (g *StubGenerator) Name() string { return "stub" }

func (g *StubGenerator) Generate(_ context.Context, req Request) (Result, error) {
	return Result{
		Proposed:  strings.TrimSpace(req.Current) + "\n" + nextStepsFooter,
		CreatedAt: g.now().UTC(),
	}, nil
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
