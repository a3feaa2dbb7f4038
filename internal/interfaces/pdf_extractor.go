// -----------------------------------------------------------------------
// PDF Extractor Interface - Extract text content from PDF documents
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
)

// PDFExtractor defines the interface for extracting text from PDF documents,
// used by the local-filesystem and upload ingestion Features to load PDF
// content without going through a storage lookup.
type PDFExtractor interface {
	// ExtractTextFromBytes extracts text directly from PDF bytes.
	ExtractTextFromBytes(ctx context.Context, pdfContent []byte) (string, error)

	// ReadPDFFromFile reads a PDF file from disk and extracts its text.
	ReadPDFFromFile(ctx context.Context, filePath string) (string, error)
}
