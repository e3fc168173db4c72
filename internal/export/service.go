package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"noteforge/api/internal/content"
	"noteforge/api/internal/store"
)

// Renderer converts a standalone HTML page into another binary format.
type Renderer func(ctx context.Context, html string) ([]byte, error)

// Options selects the binary renderers. Nil renderers fall back to headless
// Chrome and pandoc.
type Options struct {
	EnablePDF  bool
	PandocPath string
	PDF        Renderer
	DOCX       Renderer
}

// Service provides document export functionality
type Service struct {
	pdf  Renderer
	docx Renderer
}

// NewService creates a new export service
func NewService(opts Options) *Service {
	s := &Service{pdf: opts.PDF, docx: opts.DOCX}
	if s.pdf == nil {
		if opts.EnablePDF {
			s.pdf = renderPDF
		} else {
			s.pdf = func(context.Context, string) ([]byte, error) {
				return nil, fmt.Errorf("%w: pdf export disabled", ErrPDFDependencyMissing)
			}
		}
	}
	if s.docx == nil {
		s.docx = pandocRenderer(opts.PandocPath)
	}
	return s
}

// jsonSnapshot is the stable shape of the json export.
type jsonSnapshot struct {
	Title        string        `json:"title"`
	Content      content.Delta `json:"content"`
	Text         string        `json:"text"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastModified time.Time     `json:"lastModified"`
	WordCount    int           `json:"wordCount"`
}

// Export generates an export in the requested format. The document is taken
// by value and never modified; derived text is recomputed from its content so
// a stale projection cannot leak into a file. Output depends only on the
// document, so repeated exports are byte-identical.
func (s *Service) Export(ctx context.Context, doc store.Document, format Format) (*Result, error) {
	mime, ok := mimeTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	projection := content.Project(doc.Content)
	title := doc.Title
	if title == "" {
		title = store.DefaultTitle
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatTXT:
		data = []byte(projection.Text)
	case FormatHTML:
		var page string
		page, err = renderPage(title, doc.Content)
		data = []byte(page)
	case FormatMD:
		data = []byte(HTMLToMarkdown(content.RenderHTML(doc.Content)))
	case FormatJSON:
		ops := doc.Content.Clone()
		data, err = json.MarshalIndent(jsonSnapshot{
			Title:        title,
			Content:      ops,
			Text:         projection.Text,
			CreatedAt:    doc.CreatedAt,
			LastModified: doc.LastModified,
			WordCount:    projection.WordCount,
		}, "", "  ")
	case FormatPDF:
		data, err = s.renderBinary(ctx, s.pdf, title, doc.Content)
	case FormatDOCX:
		data, err = s.renderBinary(ctx, s.docx, title, doc.Content)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		Data:      data,
		Filename:  sanitizeFilename(title) + "." + string(format),
		MimeType:  mime,
		Extension: string(format),
	}, nil
}

func (s *Service) renderBinary(ctx context.Context, render Renderer, title string, delta content.Delta) ([]byte, error) {
	page, err := renderPage(title, delta)
	if err != nil {
		return nil, err
	}
	return render(ctx, page)
}

func renderPage(title string, delta content.Delta) (string, error) {
	page, err := RenderDocumentHTML(TemplateData{
		Title:       title,
		ContentHTML: template.HTML(content.RenderHTML(delta)),
	})
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return page, nil
}
