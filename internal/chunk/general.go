package chunk

import (
	"strings"

	"github.com/Bezzdar/local-rag/internal/extract"
	"github.com/Bezzdar/local-rag/internal/model"
)

// chunkGeneral slices text blocks into token windows and tables into
// row groups. A buffered heading is prepended to the first chunk of the
// following block and recorded as its section header.
func chunkGeneral(docID string, blocks []extract.Block, s model.ParsingSettings) []model.ParsedChunk {
	var chunks []model.ParsedChunk
	pendingHeader := ""

	for _, b := range blocks {
		switch b.Type {
		case model.ChunkHeader:
			pendingHeader = b.Text
			continue
		case model.ChunkTable:
			chunks = append(chunks, sliceTable(b, pendingHeader, s)...)
		case model.ChunkFormula, model.ChunkCaption:
			chunks = append(chunks, model.ParsedChunk{
				ChunkType:     b.Type,
				Text:          withHeader(pendingHeader, b.Text),
				PageNumber:    b.Page,
				SectionHeader: headerFor(b, pendingHeader),
			})
		default:
			chunks = append(chunks, sliceText(b, pendingHeader, s)...)
		}
		pendingHeader = ""
	}

	recordOverlaps(chunks, s.ChunkOverlap)
	return chunks
}

// sliceText splits a text block into windows of ChunkSize tokens. A
// tail shorter than MinChunkSize merges into the previous window,
// producing one final window of up to twice ChunkSize.
func sliceText(b extract.Block, pendingHeader string, s model.ParsingSettings) []model.ParsedChunk {
	words := splitWords(b.Text)
	if len(words) == 0 {
		return nil
	}

	section := headerFor(b, pendingHeader)
	var out []model.ParsedChunk

	for i := 0; i < len(words); {
		size := s.ChunkSize
		remaining := len(words) - i
		if remaining <= size {
			size = remaining
		} else if remaining-size < s.MinChunkSize {
			// Short tail: absorb it into this window.
			size = remaining
		}

		text := strings.Join(words[i:i+size], " ")
		if i == 0 && pendingHeader != "" {
			text = pendingHeader + "\n" + text
		}
		out = append(out, model.ParsedChunk{
			ChunkType:     model.ChunkText,
			Text:          text,
			PageNumber:    b.Page,
			SectionHeader: section,
		})
		i += size
	}
	return out
}

// sliceTable splits a pipe table row-wise. The first two lines (header
// and separator) are duplicated into every produced chunk so each is
// self-contained.
func sliceTable(b extract.Block, pendingHeader string, s model.ParsingSettings) []model.ParsedChunk {
	lines := strings.Split(b.Text, "\n")
	section := headerFor(b, pendingHeader)

	if len(lines) <= 2 {
		return []model.ParsedChunk{{
			ChunkType:     model.ChunkTable,
			Text:          withHeader(pendingHeader, b.Text),
			PageNumber:    b.Page,
			SectionHeader: section,
		}}
	}

	header := lines[:2]
	rows := lines[2:]

	var out []model.ParsedChunk
	var group []string
	groupTokens := 0
	headerTokens := CountTokens(strings.Join(header, "\n"))

	flush := func() {
		if len(group) == 0 {
			return
		}
		text := strings.Join(append(append([]string{}, header...), group...), "\n")
		if len(out) == 0 && pendingHeader != "" {
			text = pendingHeader + "\n" + text
		}
		out = append(out, model.ParsedChunk{
			ChunkType:     model.ChunkTable,
			Text:          text,
			PageNumber:    b.Page,
			SectionHeader: section,
		})
		group = nil
		groupTokens = 0
	}

	for _, row := range rows {
		rowTokens := CountTokens(row)
		if groupTokens > 0 && headerTokens+groupTokens+rowTokens > s.ChunkSize {
			flush()
		}
		group = append(group, row)
		groupTokens += rowTokens
	}
	flush()
	return out
}

// recordOverlaps fills prev_tail / next_head with the overlap tokens of
// each chunk's neighbours. Chunks never physically overlap.
func recordOverlaps(chunks []model.ParsedChunk, overlap int) {
	if overlap <= 0 {
		return
	}
	for i := range chunks {
		if i > 0 {
			chunks[i].PrevTail = tailWords(chunks[i-1].Text, overlap)
		}
		if i < len(chunks)-1 {
			chunks[i].NextHead = headWords(chunks[i+1].Text, overlap)
		}
	}
}

func withHeader(header, text string) string {
	if header == "" {
		return text
	}
	return header + "\n" + text
}

func headerFor(b extract.Block, pendingHeader string) string {
	if pendingHeader != "" {
		return pendingHeader
	}
	return b.SectionHeader
}
