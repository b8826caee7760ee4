package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"thinkbigger/api/internal/model"
)

type Option func(*Service)

// WithUploader publishes every report after rendering.
func WithUploader(u Uploader) Option {
	return func(s *Service) { s.uploader = u }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Service struct {
	pdf      PDFRenderer
	uploader Uploader
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(pdf PDFRenderer, opts ...Option) *Service {
	s := &Service{pdf: pdf, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders the report of doc in the requested format. A failed
// upload is logged and the report is still returned without a URL.
func (s *Service) Export(ctx context.Context, doc model.Document, messages []model.Message, format Format) (*Result, error) {
	html, err := RenderHTML(BuildReport(doc, messages))
	if err != nil {
		return nil, err
	}

	var result *Result
	switch format {
	case FormatHTML:
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		if s.pdf == nil {
			return nil, ErrPDFDependencyMissing
		}
		data, err := s.pdf.PDF(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{
			Data:     data,
			Filename: sanitizeFilename(doc.Title) + ".pdf",
			MimeType: "application/pdf",
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if s.uploader != nil {
		key := fmt.Sprintf("%s/%s-%s", doc.ID, s.now().UTC().Format("20060102T150405Z"), result.Filename)
		link, err := s.uploader.Upload(ctx, key, result.Data, result.MimeType)
		if err != nil {
			s.logger.Warn("report upload failed", zap.String("project_id", doc.ID), zap.Error(err))
		} else {
			result.URL = link
		}
	}
	return result, nil
}
