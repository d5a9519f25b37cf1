package extract

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dslipak/pdf"

	"github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

// columnGapThreshold is the minimum gap between distinct line x-origins
// that triggers the two-column reading order.
const columnGapThreshold = 80.0

// headingFontDelta marks a line as a heading when its font size exceeds
// the page baseline by at least this much.
const headingFontDelta = 1.5

// pdfLine is one text line with top-down page coordinates.
type pdfLine struct {
	Y        float64 // distance from the top of the page
	X        float64 // left origin
	Text     string
	FontSize float64
}

// extractPDF reads the text layer; scanned documents without one fall
// through to OCR when enabled.
func (e *Extractor) extractPDF(path string, settings model.ParsingSettings) (*Result, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return nil, errors.ParseError("open pdf", err)
	}

	pageCount := r.NumPage()
	var blocks []Block
	hasText := false
	section := ""

	for n := 1; n <= pageCount; n++ {
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}

		lines := buildLines(page)
		if len(lines) > 0 {
			hasText = true
		}
		ordered := orderLines(lines)
		baseline := baselineFontSize(ordered)

		for _, ln := range ordered {
			text := strings.TrimSpace(ln.Text)
			if text == "" || isPageNumber(text) {
				continue
			}
			if ln.FontSize >= baseline+headingFontDelta {
				blocks = append(blocks, Block{Type: model.ChunkHeader, Text: text, Page: n})
				section = text
				continue
			}
			blocks = append(blocks, Block{Type: model.ChunkText, Text: text, Page: n, SectionHeader: section})
		}

		for m, name := range pageImages(page) {
			_ = name
			blocks = append(blocks, Block{
				Type:          model.ChunkFormula,
				Text:          fmt.Sprintf("[FORMULA_IMAGE: page_%d_formula_%d]", n, m+1),
				Page:          n,
				SectionHeader: section,
			})
		}
	}

	if !hasText {
		if !settings.OCREnabled {
			return nil, errors.ParseError("pdf has no text layer and OCR is disabled", nil)
		}
		return e.extractPDFOCR(path, settings)
	}

	return &Result{
		Blocks:    blocks,
		PageCount: pageCount,
		Language:  DetectLanguage(textOf(blocks)),
	}, nil
}

// buildLines groups the page's positioned text into lines keyed by
// rounded baseline, converting to top-down coordinates.
func buildLines(page pdf.Page) []pdfLine {
	content := page.Content()
	if len(content.Text) == 0 {
		return nil
	}

	height := pageHeight(page)

	type agg struct {
		x        float64
		fontSize float64
		parts    []pdf.Text
	}
	byY := map[int]*agg{}
	for _, t := range content.Text {
		key := int(math.Round(t.Y))
		a, ok := byY[key]
		if !ok {
			a = &agg{x: t.X, fontSize: t.FontSize}
			byY[key] = a
		}
		if t.X < a.x {
			a.x = t.X
		}
		if t.FontSize > a.fontSize {
			a.fontSize = t.FontSize
		}
		a.parts = append(a.parts, t)
	}

	lines := make([]pdfLine, 0, len(byY))
	for key, a := range byY {
		sort.Slice(a.parts, func(i, j int) bool { return a.parts[i].X < a.parts[j].X })
		var sb strings.Builder
		for _, p := range a.parts {
			sb.WriteString(p.S)
		}
		lines = append(lines, pdfLine{
			Y:        height - float64(key),
			X:        a.x,
			Text:     sb.String(),
			FontSize: a.fontSize,
		})
	}
	return lines
}

// orderLines produces reading order. Two-column pages are detected by
// the largest gap between sorted distinct x-origins: past the
// threshold, the page splits at the gap midpoint and reads the left
// column fully before the right one.
func orderLines(lines []pdfLine) []pdfLine {
	if len(lines) < 2 {
		return lines
	}

	xs := distinctSorted(lines)
	maxGap, mid := 0.0, 0.0
	for i := 1; i < len(xs); i++ {
		gap := xs[i] - xs[i-1]
		if gap > maxGap {
			maxGap = gap
			mid = (xs[i] + xs[i-1]) / 2
		}
	}

	out := make([]pdfLine, len(lines))
	copy(out, lines)

	if maxGap <= columnGapThreshold {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Y != out[j].Y {
				return out[i].Y < out[j].Y
			}
			return out[i].X < out[j].X
		})
		return out
	}

	var left, right []pdfLine
	for _, ln := range out {
		if ln.X < mid {
			left = append(left, ln)
		} else {
			right = append(right, ln)
		}
	}
	byYX := func(s []pdfLine) {
		sort.SliceStable(s, func(i, j int) bool {
			if s[i].Y != s[j].Y {
				return s[i].Y < s[j].Y
			}
			return s[i].X < s[j].X
		})
	}
	byYX(left)
	byYX(right)
	return append(left, right...)
}

func distinctSorted(lines []pdfLine) []float64 {
	seen := map[float64]bool{}
	var xs []float64
	for _, ln := range lines {
		r := math.Round(ln.X)
		if !seen[r] {
			seen[r] = true
			xs = append(xs, r)
		}
	}
	sort.Float64s(xs)
	return xs
}

// baselineFontSize is the most common font size on the page.
func baselineFontSize(lines []pdfLine) float64 {
	if len(lines) == 0 {
		return 0
	}
	counts := map[float64]int{}
	for _, ln := range lines {
		counts[math.Round(ln.FontSize*2)/2]++
	}
	best, bestCount := 0.0, -1
	for size, c := range counts {
		if c > bestCount || (c == bestCount && size < best) {
			best, bestCount = size, c
		}
	}
	return best
}

// isPageNumber drops bare page-number lines.
func isPageNumber(s string) bool {
	if s == "" || len(s) > 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pageHeight(page pdf.Page) float64 {
	box := page.V.Key("MediaBox")
	if box.Len() == 4 {
		return box.Index(3).Float64()
	}
	return 842 // A4 default
}

// pageImages lists embedded image XObject names in page order.
func pageImages(page pdf.Page) []string {
	res := page.V.Key("Resources").Key("XObject")
	if res.IsNull() {
		return nil
	}
	var names []string
	for _, key := range res.Keys() {
		obj := res.Key(key)
		if obj.Key("Subtype").Name() == "Image" {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}
