// Package export renders a project report as HTML or PDF and can publish it
// to S3-compatible object storage.
package export

import "errors"

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. Empty means HTML.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// URL is set when the report was uploaded.
	URL string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing means no headless Chrome binary could be found.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
