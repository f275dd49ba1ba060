package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// MarkdownToHTML renders a document body. Raw HTML in the source is omitted.
func MarkdownToHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}

// DocumentTitle returns the text of the first level-one heading, or the first
// heading of any level when there is none.
func DocumentTitle(source string) string {
	src := []byte(source)
	root := markdown.Parser().Parse(text.NewReader(src))

	var first, top string
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := node.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		title := strings.TrimSpace(headingText(heading, src))
		if first == "" {
			first = title
		}
		if heading.Level == 1 && title != "" {
			top = title
			return ast.WalkStop, nil
		}
		return ast.WalkSkipChildren, nil
	})
	if top != "" {
		return top
	}
	return first
}

func headingText(heading *ast.Heading, source []byte) string {
	var b strings.Builder
	for child := heading.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			continue
		}
		for grand := child.FirstChild(); grand != nil; grand = grand.NextSibling() {
			if t, ok := grand.(*ast.Text); ok {
				b.Write(t.Segment.Value(source))
			}
		}
	}
	return b.String()
}
