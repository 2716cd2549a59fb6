// Package ocr extracts text from PDF documents, locally with pdftotext or
// remotely through the Mistral OCR API.
package ocr

import (
	"context"
)

// Extractor extracts text content from PDF files on disk.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// URLExtractor extracts text from a PDF the service downloads itself.
type URLExtractor interface {
	ExtractURL(ctx context.Context, documentURL string) (string, error)
}
