package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("document.html").
	Funcs(template.FuncMap{"stamp": func(t time.Time) string { return t.UTC().Format("Jan 2, 2006 15:04 MST") }}).
	ParseFS(templateFS, "templates/document.html"))

// Page is the standalone HTML document wrapped around a rendered revision.
type Page struct {
	Title       string
	Body        template.HTML
	ProjectID   string
	RevisionID  string
	GeneratedAt time.Time
}

func RenderPage(p Page) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		return "", err
	}
	return buf.String(), nil
}
