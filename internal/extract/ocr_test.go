package extract

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOtsuThreshold_SeparatesBimodalImage(t *testing.T) {
	// Half dark (30), half light (220): the threshold lands between.
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			v := uint8(30)
			if x >= 10 {
				v = 220
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	th := otsuThreshold(img)
	assert.Greater(t, th, uint8(30))
	assert.Less(t, th, uint8(220))
}

func TestBinarize_ProducesPureBlackAndWhite(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 1))
	img.SetGray(0, 0, color.Gray{Y: 10})
	img.SetGray(1, 0, color.Gray{Y: 100})
	img.SetGray(2, 0, color.Gray{Y: 200})
	img.SetGray(3, 0, color.Gray{Y: 255})

	out := binarize(img, 128)

	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), out.GrayAt(1, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(2, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(3, 0).Y)
}

func TestEstimateSkew_TooFewPixelsReturnsZero(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	assert.Equal(t, 0.0, estimateSkew(img, 128))
}

func TestReparseOCRText_HeadingHeuristic(t *testing.T) {
	text := "1.2 Питание\n\nПодключите кабель.\nПроверьте напряжение."

	blocks := reparseOCRText(text, 3)

	assert.Len(t, blocks, 2)
	assert.Equal(t, "1.2 Питание", blocks[0].Text)
	assert.Equal(t, 3, blocks[0].Page)
	assert.Equal(t, "1.2 Питание", blocks[1].SectionHeader)
}
