package export

import (
	"bytes"
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate *template.Template

func init() {
	templateContent, err := templateFS.ReadFile("templates/document.html")
	if err != nil {
		// Fallback to built-in template if file not found
		documentTemplate = template.Must(template.New("document").Parse(fallbackTemplate))
		return
	}

	documentTemplate = template.Must(template.New("document").Parse(string(templateContent)))
}

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
}

// RenderDocumentHTML renders the standalone page for a document. The title is
// escaped; ContentHTML is inserted as is.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <title>{{.Title}}</title>
  <meta charset="UTF-8">
  <style>
    body { font-family: Georgia, serif; max-width: 800px; margin: 0 auto; padding: 2rem; line-height: 1.6; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{.ContentHTML}}
</body>
</html>`
