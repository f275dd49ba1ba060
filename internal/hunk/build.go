package hunk

import (
	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Build diffs current against proposed line by line and returns the hunks a
// reviewer walks through. Replacements start accepted; lone inserts and
// deletes start rejected so the reviewer opts in.
func Build(current, proposed string) []Hunk {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(current, proposed)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	hunks := make([]Hunk, 0, len(diffs))
	for i := 0; i < len(diffs); i++ {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			hunks = append(hunks, newHunk(KindEqual, d.Text, d.Text, true))
		case diffmatchpatch.DiffDelete:
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				hunks = append(hunks, newHunk(KindReplace, d.Text, diffs[i+1].Text, true))
				i++
				continue
			}
			hunks = append(hunks, newHunk(KindDelete, d.Text, "", false))
		case diffmatchpatch.DiffInsert:
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffDelete {
				hunks = append(hunks, newHunk(KindReplace, diffs[i+1].Text, d.Text, true))
				i++
				continue
			}
			hunks = append(hunks, newHunk(KindInsert, "", d.Text, false))
		}
	}
	return hunks
}

func newHunk(kind Kind, oldText, newText string, accepted bool) Hunk {
	return Hunk{
		ID:       uuid.NewString(),
		Kind:     kind,
		OldText:  oldText,
		NewText:  newText,
		Accepted: accepted,
	}
}
