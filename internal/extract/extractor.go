package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

// Extractor dispatches extraction by file suffix.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract converts the file at path into ordered blocks. The settings
// control the OCR branch for scanned PDFs.
func (e *Extractor) Extract(path string, settings model.ParsingSettings) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NotFound("file", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		return extractText(path)
	case ".docx":
		return extractDocx(path)
	case ".pdf":
		return e.extractPDF(path, settings)
	case ".xlsx":
		return extractXlsx(path)
	default:
		// .html and .epub are recognised but deliberately rejected.
		return nil, errors.UnsupportedFormat(ext)
	}
}

// FileHash returns the SHA-256 hex digest of the file's bytes.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DetectLanguage guesses the document language from its letter mix.
func DetectLanguage(text string) string {
	var cyr, lat int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyr++
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			lat++
		}
		if cyr+lat > 4000 {
			break
		}
	}
	total := cyr + lat
	if total < 20 {
		return "unknown"
	}
	if cyr*2 > total {
		return "ru"
	}
	return "en"
}

// FileKind maps a filename to the coarse kind stored on the Source row.
func FileKind(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	case ".xlsx":
		return "xlsx"
	default:
		return "other"
	}
}
