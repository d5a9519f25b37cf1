package extract

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

// ocrDPI renders pages at 2x the 72dpi PDF default.
const ocrDPI = 144

// deskewMinAngle is the smallest skew (degrees) worth correcting.
const deskewMinAngle = 0.3

// extractPDFOCR rasterises each page, preprocesses the image, and runs
// tesseract. The recognised text goes back through the plain-text
// heading heuristic.
func (e *Extractor) extractPDFOCR(path string, settings model.ParsingSettings) (*Result, error) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		return nil, errors.ParseError("tesseract binary not found, OCR unavailable", err)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, errors.ParseError("open pdf for rasterisation", err)
	}
	defer doc.Close()

	tmpDir, err := os.MkdirTemp("", "rag_ocr_*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	var blocks []Block
	pages := doc.NumPage()

	for n := 0; n < pages; n++ {
		img, err := doc.ImageDPI(n, ocrDPI)
		if err != nil {
			e.logger.Warn("ocr: rasterise page failed", "page", n+1, "error", err)
			continue
		}

		prepared := preprocessForOCR(img)
		imgPath := filepath.Join(tmpDir, "page.png")
		if err := writePNG(imgPath, prepared); err != nil {
			return nil, err
		}

		text, err := runTesseract(imgPath, settings.OCRLanguage)
		if err != nil {
			e.logger.Warn("ocr: tesseract failed", "page", n+1, "error", err)
			continue
		}
		blocks = append(blocks, reparseOCRText(text, n+1)...)
	}

	return &Result{
		Blocks:    blocks,
		PageCount: pages,
		Language:  DetectLanguage(textOf(blocks)),
		OCRUsed:   true,
	}, nil
}

// preprocessForOCR runs the grayscale → deskew → binarise pipeline.
func preprocessForOCR(img image.Image) image.Image {
	gray := toGray(img)

	threshold := otsuThreshold(gray)
	if angle := estimateSkew(gray, threshold); math.Abs(angle) > deskewMinAngle {
		gray = rotateGray(gray, -angle)
		threshold = otsuThreshold(gray)
	}

	return binarize(gray, threshold)
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	xdraw.Draw(gray, b, img, b.Min, xdraw.Src)
	return gray
}

// otsuThreshold picks the binarisation threshold maximising
// between-class variance of the gray histogram.
func otsuThreshold(gray *image.Gray) uint8 {
	var hist [256]int
	total := 0
	b := gray.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := gray.Pix[(y-b.Min.Y)*gray.Stride:]
		for x := 0; x < b.Dx(); x++ {
			hist[row[x]]++
			total++
		}
	}
	if total == 0 {
		return 128
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, wB float64
	bestVar, best := -1.0, 128
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		v := wB * wF * (mB - mF) * (mB - mF)
		if v > bestVar {
			bestVar = v
			best = t
		}
	}
	return uint8(best)
}

// estimateSkew measures the dominant text angle in degrees via the
// second-order central moments of dark pixels.
func estimateSkew(gray *image.Gray, threshold uint8) float64 {
	b := gray.Bounds()
	var n, sx, sy float64
	for y := b.Min.Y; y < b.Max.Y; y += 2 {
		row := gray.Pix[(y-b.Min.Y)*gray.Stride:]
		for x := 0; x < b.Dx(); x += 2 {
			if row[x] < threshold {
				n++
				sx += float64(x)
				sy += float64(y)
			}
		}
	}
	if n < 100 {
		return 0
	}
	cx, cy := sx/n, sy/n

	var mxx, myy, mxy float64
	for y := b.Min.Y; y < b.Max.Y; y += 2 {
		row := gray.Pix[(y-b.Min.Y)*gray.Stride:]
		for x := 0; x < b.Dx(); x += 2 {
			if row[x] < threshold {
				dx, dy := float64(x)-cx, float64(y)-cy
				mxx += dx * dx
				myy += dy * dy
				mxy += dx * dy
			}
		}
	}
	if mxx == myy {
		return 0
	}

	angle := 0.5 * math.Atan2(2*mxy, mxx-myy) * 180 / math.Pi
	// Text runs horizontally; angles near ±90 are the column axis.
	if math.Abs(angle) > 45 {
		return 0
	}
	return angle
}

// rotateGray rotates the image by the given angle (degrees) around its
// center, filling uncovered corners with white.
func rotateGray(src *image.Gray, degrees float64) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for i := range dst.Pix {
		dst.Pix[i] = 255
	}

	rad := degrees * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx := float64(b.Dx()) / 2
	cy := float64(b.Dy()) / 2

	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	xdraw.BiLinear.Transform(dst, m, src, b, xdraw.Src, nil)
	return dst
}

func binarize(gray *image.Gray, threshold uint8) *image.Gray {
	b := gray.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if gray.GrayAt(x, y).Y < threshold {
				out.SetGray(x, y, color.Gray{Y: 0})
			} else {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

func writePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// runTesseract shells out to the tesseract CLI, writing to stdout.
func runTesseract(imgPath, lang string) (string, error) {
	if lang == "" {
		lang = "rus+eng"
	}
	cmd := exec.Command("tesseract", imgPath, "stdout", "-l", lang)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.ParseError("tesseract: "+strings.TrimSpace(stderr.String()), err)
	}
	return out.String(), nil
}
