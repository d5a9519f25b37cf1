package chunk

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Bezzdar/local-rag/internal/extract"
	"github.com/Bezzdar/local-rag/internal/model"
)

// headingPattern maps a heading regex to its outline level.
type headingPattern struct {
	re    *regexp.Regexp
	level int
}

// Pattern sets per document type. First match wins.
var hierarchyPatterns = map[model.DocType][]headingPattern{
	model.DocMarkdown: {
		{regexp.MustCompile(`^#\s+.+`), 1},
		{regexp.MustCompile(`^##\s+.+`), 2},
		{regexp.MustCompile(`^#{3,6}\s+.+`), 3},
	},
	model.DocTechnicalManual: {
		{regexp.MustCompile(`^\d+\.?\s+.+`), 1},
		{regexp.MustCompile(`^\d+\.\d+\.?\s+.+`), 2},
		{regexp.MustCompile(`^\d+\.\d+\.\d+\.?\s+.+`), 3},
	},
	model.DocGost: {
		{regexp.MustCompile(`^(?:ГОСТ|ПРИЛОЖЕНИЕ|Приложение)\b.*`), 1},
		{regexp.MustCompile(`^\d+\.?\s+.+`), 1},
		{regexp.MustCompile(`^\d+\.\d+\.?\s+.+`), 2},
		{regexp.MustCompile(`^\d+\.\d+\.\d+\.?\s+.+`), 3},
	},
	model.DocAPIDocs: {
		{regexp.MustCompile(`^#\s+.+`), 1},
		{regexp.MustCompile(`^##\s+.+`), 2},
		{regexp.MustCompile(`^(?:GET|POST|PUT|PATCH|DELETE)\s+/.*`), 3},
		{regexp.MustCompile(`^#{3,6}\s+.+`), 3},
	},
}

// matchHeading returns the outline level of a heading text, or 0 when
// no pattern of the document type recognises it. More specific
// (deeper) patterns win over prefix-matching shallow ones.
func matchHeading(text string, docType model.DocType) int {
	patterns, ok := hierarchyPatterns[docType]
	if !ok {
		patterns = hierarchyPatterns[model.DocTechnicalManual]
	}
	best := 0
	for _, p := range patterns {
		if p.re.MatchString(text) && p.level > best {
			best = p.level
		}
	}
	return best
}

// chunkHierarchy groups content under a breadcrumb of heading titles.
// A recognised heading flushes the buffered section, then replaces its
// level in the outline and drops deeper levels. Heading-looking blocks
// no pattern recognises are treated as content.
func chunkHierarchy(docID string, blocks []extract.Block, s model.ParsingSettings) []model.ParsedChunk {
	levels := map[int]string{}
	var buffer []extract.Block
	var chunks []model.ParsedChunk

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		chunks = append(chunks, flushSection(buffer, breadcrumb(levels), s)...)
		buffer = nil
	}

	for _, b := range blocks {
		if b.Type == model.ChunkHeader {
			level := matchHeading(b.Text, s.DocType)
			if level > 0 {
				flush()
				levels[level] = b.Text
				for l := range levels {
					if l > level {
						delete(levels, l)
					}
				}
				continue
			}
		}
		buffer = append(buffer, b)
	}
	flush()
	return chunks
}

// flushSection emits one chunk for the buffered section, sub-slicing
// oversize sections with the general text logic. Every produced chunk
// carries the breadcrumb prefix.
func flushSection(buffer []extract.Block, crumb string, s model.ParsingSettings) []model.ParsedChunk {
	var parts []string
	page := buffer[0].Page
	for _, b := range buffer {
		if strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	body := strings.Join(parts, "\n")

	if CountTokens(body) <= s.ChunkSize {
		return []model.ParsedChunk{{
			ChunkType:     model.ChunkText,
			Text:          withHeader(crumb, body),
			PageNumber:    page,
			SectionHeader: crumb,
		}}
	}

	sub := sliceText(extract.Block{Type: model.ChunkText, Text: body, Page: page}, "", s)
	for i := range sub {
		sub[i].Text = withHeader(crumb, sub[i].Text)
		sub[i].SectionHeader = crumb
	}
	return sub
}

// breadcrumb joins the outline titles shallow-to-deep with " > ".
func breadcrumb(levels map[int]string) string {
	if len(levels) == 0 {
		return ""
	}
	keys := make([]int, 0, len(levels))
	for l := range levels {
		keys = append(keys, l)
	}
	sort.Ints(keys)
	titles := make([]string, len(keys))
	for i, l := range keys {
		titles[i] = levels[l]
	}
	return strings.Join(titles, " > ")
}
