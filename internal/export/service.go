package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

var mimeTypes = map[Format]string{
	FormatMarkdown: "text/markdown; charset=utf-8",
	FormatHTML:     "text/html; charset=utf-8",
	FormatPDF:      "application/pdf",
	FormatDOCX:     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

func MimeType(f Format) string {
	return mimeTypes[f]
}

// Service renders revisions. PDF goes through headless Chrome and DOCX
// through pandoc; both report a *DependencyMissing error when the binary is
// not installed.
type Service struct {
	pdf  converter
	docx converter
	now  func() time.Time
}

func NewService() *Service {
	return &Service{
		pdf:  chromePDF(letter, 30*time.Second),
		docx: pandocDOCX("pandoc", time.Minute),
		now:  time.Now,
	}
}

func (s *Service) Render(ctx context.Context, req Request) (*Result, error) {
	title := DocumentTitle(req.Markdown)
	if title == "" {
		title = req.ProjectID
	}

	if req.Format == FormatMarkdown {
		return &Result{
			Data:     []byte(req.Markdown),
			Filename: sanitizeFilename(title) + ".md",
			MimeType: mimeTypes[FormatMarkdown],
		}, nil
	}

	generatedAt := req.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = s.now()
	}
	body, err := MarkdownToHTML(req.Markdown)
	if err != nil {
		return nil, err
	}
	html, err := RenderPage(Page{
		Title:       title,
		Body:        template.HTML(body),
		ProjectID:   req.ProjectID,
		RevisionID:  req.RevisionID,
		GeneratedAt: generatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: mimeTypes[FormatHTML],
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, title)
	case FormatDOCX:
		return s.docx(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
}
