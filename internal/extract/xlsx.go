package extract

import (
	"fmt"
	"path/filepath"

	"github.com/Bezzdar/local-rag/internal/model"
)

// extractXlsx emits a single placeholder block. Spreadsheet cell
// extraction is not implemented; the placeholder keeps the source
// indexable by filename.
func extractXlsx(path string) (*Result, error) {
	name := filepath.Base(path)
	return &Result{
		Blocks: []Block{{
			Type: model.ChunkTable,
			Text: fmt.Sprintf("Table content placeholder for %s", name),
			Page: 1,
		}},
		PageCount: 1,
		Language:  "unknown",
	}, nil
}
