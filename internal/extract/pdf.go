package extract

import (
	"bytes"
	"fmt"
	"strings"

	dslipak "github.com/dslipak/pdf"
	ledongthuc "github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/avolkov/ragchat/internal/domain"
)

// PDFExtractor extracts page text from PDF payloads. It tries the
// primary parser first and falls back to the secondary one when the
// primary fails or yields no text at all.
type PDFExtractor struct {
	logger *zap.Logger
}

// NewPDFExtractor creates a new PDF extractor
func NewPDFExtractor(logger *zap.Logger) *PDFExtractor {
	return &PDFExtractor{logger: logger}
}

// Pages extracts ordered page text from a PDF payload
func (e *PDFExtractor) Pages(data []byte) ([]Page, error) {
	pages, err := extractPrimary(data)
	if err != nil || len(pages) == 0 {
		if err != nil {
			e.logger.Warn("primary PDF parser failed, trying fallback", zap.Error(err))
		}
		pages, err = extractFallback(data)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf: %w", err)
	}
	if len(pages) == 0 {
		return nil, domain.ErrNoPages
	}
	return pages, nil
}

func extractPrimary(data []byte) ([]Page, error) {
	r, err := ledongthuc.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var pages []Page
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

func extractFallback(data []byte) ([]Page, error) {
	r, err := dslipak.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var pages []Page
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
