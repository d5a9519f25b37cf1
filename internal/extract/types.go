// Package extract converts source files into ordered semantic blocks.
// PDF files branch between the embedded text layer and OCR; DOCX walks
// the WordprocessingML body; txt/md use a line heuristic.
package extract

import (
	"github.com/Bezzdar/local-rag/internal/model"
)

// Block is one semantic unit of a document in source order.
type Block struct {
	Type model.ChunkType
	Text string
	// Page is 1-based. Plain text formats use a single logical page.
	Page int
	// SectionHeader is the last heading seen before this block.
	SectionHeader string
}

// Result is the output of an extraction run.
type Result struct {
	Blocks    []Block
	PageCount int
	// Language is the detected document language ("ru", "en", "unknown").
	Language string
	// OCRUsed reports that the PDF had no text layer and OCR ran.
	OCRUsed bool
}

// Text concatenates all block texts; used for language detection and
// the symbol chunking strategy.
func (r *Result) Text() string {
	total := 0
	for _, b := range r.Blocks {
		total += len(b.Text) + 1
	}
	buf := make([]byte, 0, total)
	for i, b := range r.Blocks {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, b.Text...)
	}
	return string(buf)
}
