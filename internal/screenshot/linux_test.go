// SPDX-License-Identifier: MIT

//go:build linux

package screenshot

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func TestCropAndEncodeReturnsFullFrameWhenRegionNil(t *testing.T) {
	full := testPNG(t, 100, 80)

	data, width, height, err := cropAndEncode(full, nil)
	if err != nil {
		t.Fatalf("cropAndEncode: %v", err)
	}
	if width != 100 || height != 80 {
		t.Errorf("dims = %dx%d, want 100x80", width, height)
	}
	if !bytes.Equal(data, full) {
		t.Error("expected the full-frame PNG to pass through unchanged")
	}
}

func TestCropAndEncodeCropsToRegion(t *testing.T) {
	full := testPNG(t, 200, 150)

	data, width, height, err := cropAndEncode(full, &Region{X: 10, Y: 20, Width: 50, Height: 40})
	if err != nil {
		t.Fatalf("cropAndEncode: %v", err)
	}
	if width != 50 || height != 40 {
		t.Errorf("dims = %dx%d, want 50x40", width, height)
	}

	cropped, err := decodePNG(data)
	if err != nil {
		t.Fatalf("decodePNG: %v", err)
	}
	if cropped.Bounds().Dx() != 50 || cropped.Bounds().Dy() != 40 {
		t.Errorf("decoded bounds = %v", cropped.Bounds())
	}
}

func TestCropAndEncodeClampsToFrameBounds(t *testing.T) {
	full := testPNG(t, 100, 100)

	_, width, height, err := cropAndEncode(full, &Region{X: 80, Y: 80, Width: 50, Height: 50})
	if err != nil {
		t.Fatalf("cropAndEncode: %v", err)
	}
	if width != 20 || height != 20 {
		t.Errorf("dims = %dx%d, want the region clamped to 20x20", width, height)
	}
}

func TestCropAndEncodeRejectsRegionOutsideFrame(t *testing.T) {
	full := testPNG(t, 100, 100)

	if _, _, _, err := cropAndEncode(full, &Region{X: 500, Y: 500, Width: 10, Height: 10}); err == nil {
		t.Fatal("expected an error for an out-of-bounds region")
	}
}

func TestPreviewJPEGProducesBase64(t *testing.T) {
	full := testPNG(t, 40, 30)

	preview, err := previewJPEG(full)
	if err != nil {
		t.Fatalf("previewJPEG: %v", err)
	}
	if preview == "" {
		t.Error("expected a non-empty base64 preview")
	}
}
