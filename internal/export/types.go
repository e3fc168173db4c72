// Package export turns a document into downloadable files.
package export

import (
	"errors"
	"fmt"
	"strings"
)

// Format represents the export output format
type Format string

const (
	FormatTXT  Format = "txt"
	FormatHTML Format = "html"
	FormatMD   Format = "md"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Formats lists every supported format in menu order.
var Formats = []Format{FormatTXT, FormatHTML, FormatMD, FormatJSON, FormatPDF, FormatDOCX}

var mimeTypes = map[Format]string{
	FormatTXT:  "text/plain",
	FormatHTML: "text/html",
	FormatMD:   "text/markdown",
	FormatJSON: "application/json",
	FormatPDF:  "application/pdf",
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ParseFormat accepts a format name case-insensitively. "markdown" is an
// alias for md.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if f == "markdown" {
		f = FormatMD
	}
	if _, ok := mimeTypes[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	return f, nil
}

// Result contains the export output
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	Extension string
}

var (
	// ErrUnsupportedFormat indicates an export format with no transformer.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
