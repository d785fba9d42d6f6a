package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const defaultJPEGQuality = 85

// Preprocessor shrinks page images before they go to the vision model.
// Oversized scans slow generation without adding recognizable detail,
// so anything above the configured dimension is resampled down.
type Preprocessor struct {
	quality int
}

func New() *Preprocessor {
	return &Preprocessor{quality: defaultJPEGQuality}
}

// Downscale returns data unchanged when the image already fits within
// maxDim on both axes. Larger images are resampled with Catmull-Rom
// and re-encoded as JPEG.
func (p *Preprocessor) Downscale(data []byte, maxDim int) ([]byte, error) {
	if maxDim <= 0 {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDim && height <= maxDim {
		return data, nil
	}

	newWidth, newHeight := fitWithin(width, height, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode downscaled image: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithin(width, height, maxDim int) (int, int) {
	longest := width
	if height > longest {
		longest = height
	}
	scale := float64(maxDim) / float64(longest)

	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}
	return newWidth, newHeight
}
