// -----------------------------------------------------------------------
// PDF Extractor Service - Extract text content from PDF documents
// Uses pdfcpu for Go-native PDF processing
// -----------------------------------------------------------------------

package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/interfaces"
)

// Extractor implements the PDFExtractor interface using pdfcpu
type Extractor struct {
	logger  arbor.ILogger
	tempDir string
}

// Compile-time interface assertion
var _ interfaces.PDFExtractor = (*Extractor)(nil)

// NewExtractor creates a new PDF extractor service
func NewExtractor(logger arbor.ILogger) *Extractor {
	// Create a temp directory for PDF processing
	tempDir := filepath.Join(os.TempDir(), "quaero-pdf")
	os.MkdirAll(tempDir, 0755)

	return &Extractor{
		logger:  logger,
		tempDir: tempDir,
	}
}

// ExtractTextFromBytes extracts text directly from PDF bytes without going through storage.
// This is useful for direct processing without storage lookup.
func (e *Extractor) ExtractTextFromBytes(ctx context.Context, pdfContent []byte) (string, error) {
	// Write to temp file for pdfcpu processing
	tempFile := filepath.Join(e.tempDir, fmt.Sprintf("direct_%d.pdf", os.Getpid()))
	if err := os.WriteFile(tempFile, pdfContent, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	defer os.Remove(tempFile)

	// Get page count using pdfcpu
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF context: %w", err)
	}

	pageCount := pdfCtx.PageCount

	// Extract content from all pages
	outDir := filepath.Join(e.tempDir, fmt.Sprintf("direct_pages_%d", os.Getpid()))
	os.MkdirAll(outDir, 0755)
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	// Read and concatenate all extracted content
	var fullText strings.Builder
	files, _ := os.ReadDir(outDir)
	pageTexts := make(map[int]string)

	for _, file := range files {
		if !file.IsDir() {
			content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
			if err == nil {
				var pageNum int
				if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
					pageTexts[pageNum] = string(content)
				}
			}
		}
	}

	// Build text in page order
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if text, ok := pageTexts[pageNum]; ok {
			if fullText.Len() > 0 {
				fullText.WriteString("\n\n--- Page ")
				fullText.WriteString(fmt.Sprintf("%d", pageNum))
				fullText.WriteString(" ---\n\n")
			}
			fullText.WriteString(text)
		}
	}

	return fullText.String(), nil
}

// ReadPDFFromFile reads and extracts text from a PDF file path directly.
// This is useful for local files that aren't in storage.
func (e *Extractor) ReadPDFFromFile(ctx context.Context, filePath string) (string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF file: %w", err)
	}
	return e.ExtractTextFromBytes(ctx, content)
}
