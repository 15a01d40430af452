// Package ggrenderer provides a renderer implementation using the gg library.
package ggrenderer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/user/framebrc/pkg/ports"
)

// DefaultCellSize is used when a MapStyle leaves CellSize unset.
const DefaultCellSize = 8

// Renderer implements ports.Renderer using the gg library.
type Renderer struct{}

// New creates a new Renderer.
func New() *Renderer {
	return &Renderer{}
}

// RenderMacroblockMap draws values as a heat map with one cell per macroblock.
// Values are clamped to [style.Min, style.Max] and mapped linearly from
// style.Low to style.High. Missing values render as the midpoint of the range.
func (r *Renderer) RenderMacroblockMap(values []int8, widthInMB, heightInMB int, style ports.MapStyle) image.Image {
	if widthInMB <= 0 || heightInMB <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	cell := style.CellSize
	if cell <= 0 {
		cell = DefaultCellSize
	}
	low, high := style.Low, style.High
	if low == nil {
		low = color.Black
	}
	if high == nil {
		high = color.White
	}
	lo, hi := int(style.Min), int(style.Max)
	if hi <= lo {
		lo, hi = -51, 51
	}

	// One pixel per macroblock, upscaled without filtering.
	grid := image.NewRGBA(image.Rect(0, 0, widthInMB, heightInMB))
	mid := (lo + hi) / 2
	for y := 0; y < heightInMB; y++ {
		for x := 0; x < widthInMB; x++ {
			v := mid
			if i := y*widthInMB + x; i < len(values) {
				v = int(values[i])
			}
			v = min(max(v, lo), hi)
			grid.Set(x, y, lerp(low, high, float64(v-lo)/float64(hi-lo)))
		}
	}

	w, h := widthInMB*cell, heightInMB*cell
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), grid, grid.Bounds(), draw.Src, nil)
	if style.Grid == nil || cell < 3 {
		return scaled
	}

	dc := gg.NewContextForRGBA(scaled)
	dc.SetColor(style.Grid)
	dc.SetLineWidth(1)
	for x := 0; x <= widthInMB; x++ {
		px := float64(x*cell) + 0.5
		dc.DrawLine(px, 0, px, float64(h))
	}
	for y := 0; y <= heightInMB; y++ {
		py := float64(y*cell) + 0.5
		dc.DrawLine(0, py, float64(w), py)
	}
	dc.Stroke()
	return dc.Image()
}

func lerp(a, b color.Color, t float64) color.RGBA {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	mix := func(x, y uint32) uint8 {
		return uint8((float64(x)*(1-t) + float64(y)*t) / 257)
	}
	return color.RGBA{R: mix(ar, br), G: mix(ag, bg), B: mix(ab, bb), A: mix(aa, ba)}
}

// DecodeImage decodes image data into an image.Image.
func (r *Renderer) DecodeImage(data []byte, format ports.ImageFormat) (image.Image, error) {
	reader := bytes.NewReader(data)

	switch format {
	case ports.FormatJPEG:
		return jpeg.Decode(reader)
	case ports.FormatPNG:
		return png.Decode(reader)
	default:
		// Try to auto-detect
		img, _, err := image.Decode(reader)
		return img, err
	}
}

// EncodeImage encodes an image to the specified format.
func (r *Renderer) EncodeImage(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case ports.FormatJPEG:
		opts := &jpeg.Options{Quality: quality}
		if err := jpeg.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("encode JPEG: %w", err)
		}
	case ports.FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode PNG: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format: %d", format)
	}

	return buf.Bytes(), nil
}

// Ensure Renderer implements ports.Renderer
var _ ports.Renderer = (*Renderer)(nil)
