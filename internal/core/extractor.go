package core

import (
	"context"
)

// ExtractionResult is the outcome of running text extraction over a PDF.
// A rejected or unreadable file yields IsValid=false with ErrorMessage set
// rather than an error; extraction failure is data, not a crash.
type ExtractionResult struct {
	Text         string
	PageCount    int
	OCRPages     int // pages where OCR output was used
	IsValid      bool
	ErrorMessage string
}

// DocumentExtractor turns a PDF on disk into cleaned plain text.
type DocumentExtractor interface {
	Extract(ctx context.Context, pdfPath string) ExtractionResult
}
