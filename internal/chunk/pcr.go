package chunk

import (
	"fmt"
	"strings"

	"github.com/Bezzdar/local-rag/internal/extract"
	"github.com/Bezzdar/local-rag/internal/model"
)

// chunkPCR implements parent-child retrieval: parent windows carry the
// display text, child windows the embedding text. One chunk is emitted
// per child; siblings share their parent's text and id.
func chunkPCR(docID string, blocks []extract.Block, s model.ParsingSettings) []model.ParsedChunk {
	body := concatContent(blocks)
	words := splitWords(body)
	if len(words) == 0 {
		return nil
	}

	parentSize := s.ParentChunkSize
	if parentSize <= 0 {
		parentSize = 1024
	}
	childSize := s.ChildChunkSize
	if childSize <= 0 {
		childSize = 128
	}

	var chunks []model.ParsedChunk
	parentIdx := 0
	for p := 0; p < len(words); p += parentSize {
		end := p + parentSize
		if end > len(words) {
			end = len(words)
		}
		parentWords := words[p:end]
		parentText := strings.Join(parentWords, " ")
		parentID := fmt.Sprintf("%s:pcr_parent:%d", docID, parentIdx)
		section := fmt.Sprintf("Блок %d", parentIdx+1)

		for c := 0; c < len(parentWords); c += childSize {
			cEnd := c + childSize
			if cEnd > len(parentWords) {
				cEnd = len(parentWords)
			}
			chunks = append(chunks, model.ParsedChunk{
				ChunkType:     model.ChunkText,
				Text:          parentText,
				EmbeddingText: strings.Join(parentWords[c:cEnd], " "),
				ParentChunkID: parentID,
				SectionHeader: section,
				PageNumber:    firstPage(blocks),
			})
		}
		parentIdx++
	}
	return chunks
}

// chunkSymbol splits the concatenated content on a literal separator.
// Empty segments are dropped; with no separator present the whole text
// becomes a single chunk.
func chunkSymbol(docID string, blocks []extract.Block, s model.ParsingSettings) []model.ParsedChunk {
	body := concatContent(blocks)
	if strings.TrimSpace(body) == "" {
		return nil
	}

	sep := s.SymbolSeparator
	if sep == "" {
		sep = "---chunk---"
	}

	var chunks []model.ParsedChunk
	for _, part := range strings.Split(body, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		chunks = append(chunks, model.ParsedChunk{
			ChunkType:  model.ChunkText,
			Text:       part,
			PageNumber: firstPage(blocks),
		})
	}
	if len(chunks) == 0 {
		chunks = append(chunks, model.ParsedChunk{
			ChunkType:  model.ChunkText,
			Text:       strings.TrimSpace(body),
			PageNumber: firstPage(blocks),
		})
	}
	return chunks
}

// concatContent joins all non-heading block texts.
func concatContent(blocks []extract.Block) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == model.ChunkHeader {
			continue
		}
		if strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func firstPage(blocks []extract.Block) int {
	for _, b := range blocks {
		if b.Page > 0 {
			return b.Page
		}
	}
	return 1
}
