package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ============================================================================
// Dispatch
// ============================================================================

func TestExtract_MissingFile(t *testing.T) {
	e := New(nil)
	_, err := e.Extract(filepath.Join(t.TempDir(), "gone.txt"), model.DefaultParsingSettings())

	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
}

func TestExtract_UnsupportedFormats(t *testing.T) {
	e := New(nil)
	for _, name := range []string{"page.html", "book.epub", "data.bin"} {
		path := writeFile(t, name, "content")
		_, err := e.Extract(path, model.DefaultParsingSettings())
		assert.Equal(t, errors.ErrCodeUnsupportedFormat, errors.GetCode(err), name)
	}
}

func TestExtract_XlsxPlaceholder(t *testing.T) {
	e := New(nil)
	path := writeFile(t, "report.xlsx", "not a real workbook")

	res, err := e.Extract(path, model.DefaultParsingSettings())

	require.NoError(t, err)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, model.ChunkTable, res.Blocks[0].Type)
	assert.Equal(t, "Table content placeholder for report.xlsx", res.Blocks[0].Text)
}

// ============================================================================
// Plain text and markdown
// ============================================================================

func TestExtractText_HeadingsAndParagraphs(t *testing.T) {
	content := `# Installation

Unpack the archive.
Run the installer.

2.1 Configuration

Edit the config file.`
	path := writeFile(t, "doc.md", content)

	res, err := New(nil).Extract(path, model.DefaultParsingSettings())
	require.NoError(t, err)

	require.Len(t, res.Blocks, 4)
	assert.Equal(t, model.ChunkHeader, res.Blocks[0].Type)
	assert.Equal(t, "# Installation", res.Blocks[0].Text)

	assert.Equal(t, model.ChunkText, res.Blocks[1].Type)
	assert.Equal(t, "Unpack the archive.\nRun the installer.", res.Blocks[1].Text)
	assert.Equal(t, "Installation", res.Blocks[1].SectionHeader)

	assert.Equal(t, model.ChunkHeader, res.Blocks[2].Type)
	assert.Equal(t, "2.1 Configuration", res.Blocks[2].Text)
	assert.Equal(t, "2.1 Configuration", res.Blocks[3].SectionHeader)

	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, "en", res.Language)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "ru", DetectLanguage(strings.Repeat("установка системы охлаждения ", 5)))
	assert.Equal(t, "en", DetectLanguage(strings.Repeat("cooling system installation ", 5)))
	assert.Equal(t, "unknown", DetectLanguage("123 456"))
}

func TestFileKind(t *testing.T) {
	assert.Equal(t, "pdf", FileKind("a.PDF"))
	assert.Equal(t, "docx", FileKind("b.docx"))
	assert.Equal(t, "xlsx", FileKind("c.xlsx"))
	assert.Equal(t, "other", FileKind("d.txt"))
}

// ============================================================================
// DOCX
// ============================================================================

const docxBody = `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
 <w:body>
  <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Overview</w:t></w:r></w:p>
  <w:p><w:r><w:t>First </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  <w:p><w:pPr><w:pStyle w:val="ListParagraph"/></w:pPr><w:r><w:t>bullet item</w:t></w:r></w:p>
  <w:tbl>
   <w:tr><w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Value</w:t></w:r></w:p></w:tc></w:tr>
   <w:tr><w:tc><w:p><w:r><w:t>rate</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>a|b</w:t></w:r></w:p></w:tc></w:tr>
  </w:tbl>
 </w:body>
</w:document>`

func writeDocx(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractDocx_BodyOrder(t *testing.T) {
	path := writeDocx(t, docxBody)

	res, err := New(nil).Extract(path, model.DefaultParsingSettings())
	require.NoError(t, err)

	require.Len(t, res.Blocks, 4)

	assert.Equal(t, model.ChunkHeader, res.Blocks[0].Type)
	assert.Equal(t, "Overview", res.Blocks[0].Text)

	assert.Equal(t, model.ChunkText, res.Blocks[1].Type)
	assert.Equal(t, "First paragraph.", res.Blocks[1].Text)
	assert.Equal(t, "Overview", res.Blocks[1].SectionHeader)

	assert.Equal(t, "- bullet item", res.Blocks[2].Text)

	table := res.Blocks[3]
	assert.Equal(t, model.ChunkTable, table.Type)
	assert.Contains(t, table.Text, "| Name | Value |")
	assert.Contains(t, table.Text, "| --- |")
	// Pipes inside cells are escaped
	assert.Contains(t, table.Text, `a\|b`)
}

func TestExtractDocx_MissingDocumentXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = New(nil).Extract(path, model.DefaultParsingSettings())
	assert.Equal(t, errors.ErrCodeParse, errors.GetCode(err))
}

// ============================================================================
// PDF line ordering
// ============================================================================

func TestOrderLines_TwoColumnSplit(t *testing.T) {
	// Largest x-gap (50 -> 300) exceeds the threshold: left column reads
	// fully before the right one.
	lines := []pdfLine{
		{Y: 10, X: 50, Text: "L1"},
		{Y: 20, X: 50, Text: "L2"},
		{Y: 10, X: 300, Text: "R1"},
		{Y: 20, X: 300, Text: "R2"},
	}

	got := orderLines(lines)

	texts := make([]string, len(got))
	for i, ln := range got {
		texts[i] = ln.Text
	}
	assert.Equal(t, []string{"L1", "L2", "R1", "R2"}, texts)
}

func TestOrderLines_SingleColumnTopToBottom(t *testing.T) {
	// Gap below the threshold: natural (y, x) order.
	lines := []pdfLine{
		{Y: 20, X: 50, Text: "second"},
		{Y: 10, X: 50, Text: "first"},
		{Y: 10, X: 110, Text: "first-right"},
	}

	got := orderLines(lines)

	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "first-right", got[1].Text)
	assert.Equal(t, "second", got[2].Text)
}

func TestBaselineAndPageNumbers(t *testing.T) {
	lines := []pdfLine{
		{FontSize: 10}, {FontSize: 10}, {FontSize: 10}, {FontSize: 16},
	}
	assert.Equal(t, 10.0, baselineFontSize(lines))

	assert.True(t, isPageNumber("42"))
	assert.False(t, isPageNumber("42a"))
	assert.False(t, isPageNumber("12345"))
}
