// Package document renders generated documents to standalone HTML files.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Section is one headed block of a document.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Document is a drafted document.
type Document struct {
	FileName  string    `json:"file_name"`
	Title     string    `json:"title"`
	Sections  []Section `json:"sections"`
	CustomCSS string    `json:"custom_css"`
}

// Validate requires a file name and at least one non-empty section.
func (d Document) Validate() error {
	if strings.TrimSpace(d.FileName) == "" {
		return errors.New("document has no file name")
	}
	for _, s := range d.Sections {
		if strings.TrimSpace(s.Body) != "" || strings.TrimSpace(s.Heading) != "" {
			return nil
		}
	}
	return errors.New("document has no content")
}

// Renderer writes documents into a directory.
type Renderer struct {
	dir  string
	tmpl *template.Template
	id   func() string
}

// NewRenderer creates a Renderer writing into dir, creating it if needed.
func NewRenderer(dir string) (*Renderer, error) {
	if dir == "" {
		return nil, errors.New("document output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory %s: %w", dir, err)
	}
	tmpl, err := template.New("document").Funcs(template.FuncMap{
		"paragraphs": paragraphs,
		"css":        func(s string) template.CSS { return template.CSS(s) }, //nolint:gosec // style tags are stripped
	}).Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document template: %w", err)
	}
	return &Renderer{dir: dir, tmpl: tmpl, id: func() string { return uuid.NewString()[:8] }}, nil
}

// Render writes doc to a uuid-suffixed .html file and returns its path.
func (r *Renderer) Render(doc Document) (string, error) {
	if err := doc.Validate(); err != nil {
		return "", err
	}
	if doc.Title == "" {
		doc.Title = doc.FileName
	}
	doc.CustomCSS = styleTag.ReplaceAllString(doc.CustomCSS, "")

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("failed to render document %s: %w", doc.FileName, err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.html", slug(doc.FileName), r.id()))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write document %s: %w", path, err)
	}
	return path, nil
}

var (
	styleTag  = regexp.MustCompile(`(?i)</?style[^>]*>`)
	slugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

func slug(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	s := strings.Trim(slugChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if s == "" {
		return "document"
	}
	return s
}

func paragraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; line-height: 1.5; }
p { white-space: pre-wrap; }
{{css .CustomCSS}}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Sections}}<section>
{{if .Heading}}<h2>{{.Heading}}</h2>
{{end}}{{range paragraphs .Body}}<p>{{.}}</p>
{{end}}</section>
{{end}}</body>
</html>
`
