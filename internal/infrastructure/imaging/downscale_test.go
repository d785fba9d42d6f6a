package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 127, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDownscaleLeavesSmallImagesUntouched(t *testing.T) {
	original := encodePNG(t, 100, 60)

	out, err := New().Downscale(original, 2048)
	if err != nil {
		t.Fatalf("Downscale() error = %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("small image was re-encoded")
	}
}

func TestDownscaleShrinksLongestSideToLimit(t *testing.T) {
	original := encodePNG(t, 400, 200)

	out, err := New().Downscale(original, 100)
	if err != nil {
		t.Fatalf("Downscale() error = %v", err)
	}

	resized, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("output format = %q, want jpeg", format)
	}
	bounds := resized.Bounds()
	if bounds.Dx() != 100 || bounds.Dy() != 50 {
		t.Fatalf("resized to %dx%d, want 100x50", bounds.Dx(), bounds.Dy())
	}
}

func TestDownscaleSkipsWhenLimitDisabled(t *testing.T) {
	original := encodePNG(t, 400, 200)

	out, err := New().Downscale(original, 0)
	if err != nil {
		t.Fatalf("Downscale() error = %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("disabled limit must pass data through")
	}
}

func TestDownscaleRejectsCorruptImage(t *testing.T) {
	if _, err := New().Downscale([]byte("not an image"), 100); err == nil {
		t.Fatalf("expected decode error")
	}
}
