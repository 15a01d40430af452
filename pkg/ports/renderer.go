package ports

import (
	"image"
	"image/color"
)

// Renderer abstracts image processing operations.
type Renderer interface {
	// RenderMacroblockMap draws one cell per macroblock, coloured by value.
	RenderMacroblockMap(values []int8, widthInMB, heightInMB int, style MapStyle) image.Image

	// EncodeImage encodes an image to the specified format.
	EncodeImage(img image.Image, format ImageFormat, quality int) ([]byte, error)
}

// MapStyle controls macroblock map rendering.
type MapStyle struct {
	CellSize int  // pixels per macroblock
	Min, Max int8 // value range mapped onto the gradient
	Low      color.Color
	High     color.Color
	Grid     color.Color // nil disables grid lines
}

// ImageFormat specifies image encoding format.
type ImageFormat int

const (
	FormatJPEG ImageFormat = iota
	FormatPNG
)
