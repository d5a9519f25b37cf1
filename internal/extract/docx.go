package extract

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"strings"

	"github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

// extractDocx walks word/document.xml in body order. Paragraph styles
// containing "heading" become header blocks, "list" paragraphs get a
// "- " prefix, tables are rendered to pipe-table strings.
func extractDocx(path string) (*Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.ParseError("open docx archive", err)
	}
	defer zr.Close()

	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return nil, errors.ParseError("open word/document.xml", err)
			}
			break
		}
	}
	if doc == nil {
		return nil, errors.ParseError("docx missing word/document.xml", nil)
	}
	defer doc.Close()

	blocks, err := parseDocumentXML(doc)
	if err != nil {
		return nil, errors.ParseError("parse word/document.xml", err)
	}

	return &Result{
		Blocks:    blocks,
		PageCount: 1,
		Language:  DetectLanguage(textOf(blocks)),
	}, nil
}

// parseDocumentXML streams the body, keeping paragraph and table order.
func parseDocumentXML(r io.Reader) ([]Block, error) {
	dec := xml.NewDecoder(r)
	var blocks []Block
	section := ""
	depth := 0 // element depth below <w:body>
	inBody := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "body" {
				inBody = true
				continue
			}
			if !inBody {
				continue
			}
			switch {
			case t.Name.Local == "p" && depth == 0:
				style, text := parseParagraph(dec, &t)
				text = strings.TrimSpace(text)
				if text == "" {
					continue
				}
				lower := strings.ToLower(style)
				switch {
				case strings.Contains(lower, "heading"):
					blocks = append(blocks, Block{Type: model.ChunkHeader, Text: text, Page: 1})
					section = text
				case strings.Contains(lower, "list"):
					blocks = append(blocks, Block{Type: model.ChunkText, Text: "- " + text, Page: 1, SectionHeader: section})
				default:
					blocks = append(blocks, Block{Type: model.ChunkText, Text: text, Page: 1, SectionHeader: section})
				}
			case t.Name.Local == "tbl" && depth == 0:
				table := parseTable(dec, &t)
				if table != "" {
					blocks = append(blocks, Block{Type: model.ChunkTable, Text: table, Page: 1, SectionHeader: section})
				}
			default:
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == "body" {
				inBody = false
				continue
			}
			if inBody && depth > 0 {
				depth--
			}
		}
	}
	return blocks, nil
}

// parseParagraph consumes tokens through the paragraph's end element,
// returning the pStyle value and the concatenated run text.
func parseParagraph(dec *xml.Decoder, start *xml.StartElement) (style string, text string) {
	var sb strings.Builder
	depth := 1
	inT := false

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						style = a.Value
					}
				}
			case "t":
				inT = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			depth--
			if t.Name.Local == "t" {
				inT = false
			}
		case xml.CharData:
			if inT {
				sb.Write(t)
			}
		}
	}
	return style, sb.String()
}

// parseTable consumes a w:tbl element and renders it as a pipe table.
// Pipes inside cells are escaped so rows stay parseable.
func parseTable(dec *xml.Decoder, start *xml.StartElement) string {
	var rows [][]string
	var row []string
	var cell strings.Builder
	depth := 1
	inT := false
	cellDepth := 0

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "tr":
				row = nil
			case "tc":
				cell.Reset()
				cellDepth = depth
			case "t":
				inT = true
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "t":
				inT = false
			case "tc":
				if depth < cellDepth {
					row = append(row, strings.ReplaceAll(strings.TrimSpace(cell.String()), "|", `\|`))
				}
			case "tr":
				if len(row) > 0 {
					rows = append(rows, row)
				}
			}
		case xml.CharData:
			if inT {
				cell.Write(t)
			}
		}
	}

	if len(rows) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, r := range rows {
		sb.WriteString("| " + strings.Join(r, " | ") + " |")
		sb.WriteByte('\n')
		if i == 0 {
			sb.WriteString("|" + strings.Repeat(" --- |", len(r)))
			sb.WriteByte('\n')
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
