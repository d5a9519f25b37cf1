package extract

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/Bezzdar/local-rag/internal/model"
)

// headingRe matches markdown headings and numbered section titles
// ("## Title", "2.3.1 Cooling circuit").
var headingRe = regexp.MustCompile(`^(#{1,6}\s+.+|\d+(?:\.\d+)*\s+.+)$`)

// extractText handles .txt and .md files as one logical page.
func extractText(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var blocks []Block
	section := ""

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var para []string
	flush := func() {
		if len(para) == 0 {
			return
		}
		blocks = append(blocks, Block{
			Type:          model.ChunkText,
			Text:          strings.Join(para, "\n"),
			Page:          1,
			SectionHeader: section,
		})
		para = para[:0]
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if headingRe.MatchString(trimmed) {
			flush()
			blocks = append(blocks, Block{
				Type: model.ChunkHeader,
				Text: trimmed,
				Page: 1,
			})
			section = strings.TrimLeft(trimmed, "# ")
			continue
		}
		para = append(para, trimmed)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()

	return &Result{
		Blocks:    blocks,
		PageCount: 1,
		Language:  DetectLanguage(textOf(blocks)),
	}, nil
}

func textOf(blocks []Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// reparseOCRText feeds OCR output back through the text heuristic so
// scanned pages get the same heading detection as plain text.
func reparseOCRText(text string, page int) []Block {
	var blocks []Block
	section := ""
	var para []string

	flush := func() {
		if len(para) == 0 {
			return
		}
		blocks = append(blocks, Block{
			Type:          model.ChunkText,
			Text:          strings.Join(para, "\n"),
			Page:          page,
			SectionHeader: section,
		})
		para = para[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if headingRe.MatchString(trimmed) {
			flush()
			blocks = append(blocks, Block{Type: model.ChunkHeader, Text: trimmed, Page: page})
			section = strings.TrimLeft(trimmed, "# ")
			continue
		}
		para = append(para, trimmed)
	}
	flush()
	return blocks
}
