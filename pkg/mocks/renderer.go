package mocks

import (
	"image"

	"github.com/user/framebrc/pkg/ports"
)

// Renderer is a mock implementation of ports.Renderer.
type Renderer struct {
	RenderMacroblockMapFunc func(values []int8, widthInMB, heightInMB int, style ports.MapStyle) image.Image
	EncodeImageFunc         func(img image.Image, format ports.ImageFormat, quality int) ([]byte, error)

	// Recorded calls for verification
	RenderCalls int
}

func (m *Renderer) RenderMacroblockMap(values []int8, widthInMB, heightInMB int, style ports.MapStyle) image.Image {
	m.RenderCalls++
	if m.RenderMacroblockMapFunc != nil {
		return m.RenderMacroblockMapFunc(values, widthInMB, heightInMB, style)
	}
	return image.NewRGBA(image.Rect(0, 0, widthInMB, heightInMB))
}

func (m *Renderer) EncodeImage(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
	if m.EncodeImageFunc != nil {
		return m.EncodeImageFunc(img, format, quality)
	}
	return []byte{}, nil
}

var _ ports.Renderer = (*Renderer)(nil)
