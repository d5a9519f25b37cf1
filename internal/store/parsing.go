package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

// ParsingResult is the on-disk parse artifact for one source. The
// structured form wraps metadata and chunks; older files were a flat
// chunk array and are still accepted on read.
type ParsingResult struct {
	Metadata model.DocumentMetadata `json:"metadata"`
	Chunks   []model.ParsedChunk    `json:"chunks"`
}

// SaveParsingResult writes the structured {"metadata","chunks"} form
// atomically (temp file + rename).
func SaveParsingResult(path string, result ParsingResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parsing directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode parsing result: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write parsing result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace parsing result: %w", err)
	}
	return nil
}

// LoadParsingResult reads a parse artifact, accepting both the
// structured form and the legacy flat chunk array.
func LoadParsingResult(path string) (ParsingResult, error) {
	var result ParsingResult

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return result, ragerrors.NotFound("parsing result", path)
	}
	if err != nil {
		return result, fmt.Errorf("read parsing result: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(data, &result); err != nil {
			return result, ragerrors.ParseError(filepath.Base(path), err)
		}
		normalizeChunks(result.Chunks)
		return result, nil
	}

	// Legacy flat array.
	var flat []model.ParsedChunk
	if err := json.Unmarshal(data, &flat); err != nil {
		return result, ragerrors.ParseError(filepath.Base(path), err)
	}
	result.Chunks = flat
	if len(flat) > 0 {
		result.Metadata.DocID = flat[0].DocID
		result.Metadata.TotalChunks = len(flat)
	}
	normalizeChunks(result.Chunks)
	return result, nil
}

// normalizeChunks canonicalises serialised chunk types in place.
func normalizeChunks(chunks []model.ParsedChunk) {
	for i := range chunks {
		chunks[i].ChunkType = model.NormalizeChunkType(string(chunks[i].ChunkType))
	}
}
