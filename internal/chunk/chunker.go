package chunk

import (
	"fmt"

	"github.com/Bezzdar/local-rag/internal/extract"
	"github.com/Bezzdar/local-rag/internal/model"
)

// Chunk runs the strategy selected by settings.ChunkingMethod over the
// extracted blocks. Output chunk indices are always dense 0..N-1.
func Chunk(docID string, blocks []extract.Block, settings model.ParsingSettings) []model.ParsedChunk {
	var chunks []model.ParsedChunk

	switch settings.ChunkingMethod {
	case model.MethodContextEnrichment:
		chunks = chunkGeneral(docID, blocks, settings)
		enrichContext(chunks, settings.ContextWindow)
	case model.MethodHierarchy:
		chunks = chunkHierarchy(docID, blocks, settings)
	case model.MethodPCR:
		chunks = chunkPCR(docID, blocks, settings)
	case model.MethodSymbol:
		chunks = chunkSymbol(docID, blocks, settings)
	default:
		chunks = chunkGeneral(docID, blocks, settings)
	}

	renumber(docID, chunks)
	return chunks
}

// renumber assigns dense indices and derived chunk ids.
func renumber(docID string, chunks []model.ParsedChunk) {
	for i := range chunks {
		chunks[i].DocID = docID
		chunks[i].ChunkIndex = i
		chunks[i].ChunkID = fmt.Sprintf("%s:%d", docID, i)
		if chunks[i].TokenCount == 0 {
			chunks[i].TokenCount = CountTokens(chunks[i].Text)
		}
	}
}

// enrichContext sets each chunk's embedding text to a character window
// of its neighbours around its own text. Chunks without neighbours keep
// an empty embedding text and embed their display text as-is.
func enrichContext(chunks []model.ParsedChunk, window int) {
	if window <= 0 || len(chunks) < 2 {
		return
	}
	originals := make([]string, len(chunks))
	for i := range chunks {
		originals[i] = chunks[i].Text
	}
	for i := range chunks {
		var parts []string
		if i > 0 {
			prev := originals[i-1]
			if len(prev) > window {
				prev = prev[len(prev)-window:]
			}
			parts = append(parts, prev)
		}
		parts = append(parts, originals[i])
		if i < len(chunks)-1 {
			next := originals[i+1]
			if len(next) > window {
				next = next[:window]
			}
			parts = append(parts, next)
		}
		if len(parts) > 1 {
			chunks[i].EmbeddingText = joinNonEmpty(parts)
		}
	}
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
