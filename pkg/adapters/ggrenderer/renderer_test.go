package ggrenderer

import (
	"image"
	"image/color"
	"testing"

	"github.com/user/framebrc/pkg/ports"
)

func qpStyle() ports.MapStyle {
	return ports.MapStyle{
		CellSize: 4,
		Min:      -12,
		Max:      12,
		Low:      color.RGBA{B: 255, A: 255},
		High:     color.RGBA{R: 255, A: 255},
	}
}

func TestRenderer_RenderMacroblockMapSize(t *testing.T) {
	r := New()
	img := r.RenderMacroblockMap(make([]int8, 6), 3, 2, qpStyle())

	bounds := img.Bounds()
	if bounds.Dx() != 12 || bounds.Dy() != 8 {
		t.Errorf("expected 12x8, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderer_RenderMacroblockMapColors(t *testing.T) {
	r := New()
	img := r.RenderMacroblockMap([]int8{-12, 12, 40, -40}, 2, 2, qpStyle())

	tests := []struct {
		name    string
		x, y    int
		wantRed bool
	}{
		{"minimum is low colour", 1, 1, false},
		{"maximum is high colour", 5, 1, true},
		{"above range clamps high", 1, 5, true},
		{"below range clamps low", 5, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			red, _, blue, _ := img.At(tt.x, tt.y).RGBA()
			if tt.wantRed && (red < 0xf000 || blue > 0x0fff) {
				t.Errorf("expected red pixel, got r=%d b=%d", red, blue)
			}
			if !tt.wantRed && (blue < 0xf000 || red > 0x0fff) {
				t.Errorf("expected blue pixel, got r=%d b=%d", red, blue)
			}
		})
	}
}

func TestRenderer_RenderMacroblockMapShortValues(t *testing.T) {
	r := New()
	img := r.RenderMacroblockMap(nil, 2, 1, qpStyle())

	red, _, blue, _ := img.At(1, 1).RGBA()
	if red == 0 || blue == 0 {
		t.Errorf("expected midpoint colour for missing value, got r=%d b=%d", red, blue)
	}
}

func TestRenderer_RenderMacroblockMapGrid(t *testing.T) {
	r := New()
	style := qpStyle()
	style.CellSize = 8
	style.Grid = color.White
	img := r.RenderMacroblockMap([]int8{-12, -12}, 2, 1, style)

	// Column 8 is a cell boundary.
	red, green, _, _ := img.At(8, 4).RGBA()
	if red == 0 && green == 0 {
		t.Error("expected grid line at cell boundary")
	}
	_, green, _, _ = img.At(4, 4).RGBA()
	if green != 0 {
		t.Error("expected cell interior free of grid colour")
	}
}

func TestRenderer_RenderMacroblockMapEmpty(t *testing.T) {
	r := New()
	img := r.RenderMacroblockMap(nil, 0, 0, qpStyle())
	if !img.Bounds().Empty() {
		t.Errorf("expected empty image, got %v", img.Bounds())
	}
}

func TestRenderer_EncodeDecodeJPEG(t *testing.T) {
	r := New()

	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	data, err := r.EncodeImage(img, ports.FormatJPEG, 80)
	if err != nil {
		t.Fatalf("EncodeImage failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty data")
	}

	decoded, err := r.DecodeImage(data, ports.FormatJPEG)
	if err != nil {
		t.Fatalf("DecodeImage failed: %v", err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() != 50 || bounds.Dy() != 50 {
		t.Errorf("expected 50x50, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderer_EncodeDecodePNG(t *testing.T) {
	r := New()

	img := r.RenderMacroblockMap(make([]int8, 4), 2, 2, qpStyle())

	data, err := r.EncodeImage(img, ports.FormatPNG, 0)
	if err != nil {
		t.Fatalf("EncodeImage failed: %v", err)
	}

	decoded, err := r.DecodeImage(data, ports.FormatPNG)
	if err != nil {
		t.Fatalf("DecodeImage failed: %v", err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() != 8 || bounds.Dy() != 8 {
		t.Errorf("expected 8x8, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderer_EncodeUnsupported(t *testing.T) {
	r := New()
	if _, err := r.EncodeImage(image.NewRGBA(image.Rect(0, 0, 1, 1)), ports.ImageFormat(99), 0); err == nil {
		t.Error("expected error for unsupported format")
	}
}
