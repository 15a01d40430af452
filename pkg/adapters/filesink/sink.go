// Package filesink provides a file-based debug sink implementation.
package filesink

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/user/framebrc/pkg/ports"
)

// Sink saves debug output to files under one directory:
//
//	params/frame-0001-pass-0-mb-encode.json
//	qp/frame-0001-pass-1.png
//	roi/frame-0001.png
//	session.json
type Sink struct {
	baseDir  string
	fs       ports.FileSystem
	renderer ports.Renderer
}

// New creates a new FileSink.
func New(baseDir string, fs ports.FileSystem, renderer ports.Renderer) *Sink {
	return &Sink{
		baseDir:  baseDir,
		fs:       fs,
		renderer: renderer,
	}
}

// Enabled returns true as this sink saves output.
func (s *Sink) Enabled() bool {
	return true
}

// SaveParameterBlock saves a stage parameter block.
func (s *Sink) SaveParameterBlock(frame, pass int, stage ports.StageKind, data []byte) error {
	name := fmt.Sprintf("frame-%04d-pass-%d-%s.json", frame, pass, stage)
	return s.write("params", name, data)
}

// SaveQPMap saves the QP map of a pass as PNG.
func (s *Sink) SaveQPMap(frame, pass int, img image.Image) error {
	data, err := s.renderer.EncodeImage(img, ports.FormatPNG, 0)
	if err != nil {
		return fmt.Errorf("encode QP map: %w", err)
	}
	return s.write("qp", fmt.Sprintf("frame-%04d-pass-%d.png", frame, pass), data)
}

// SaveROIMap saves the region map of a frame as PNG.
func (s *Sink) SaveROIMap(frame int, img image.Image) error {
	data, err := s.renderer.EncodeImage(img, ports.FormatPNG, 0)
	if err != nil {
		return fmt.Errorf("encode ROI map: %w", err)
	}
	return s.write("roi", fmt.Sprintf("frame-%04d.png", frame), data)
}

// SaveSessionJSON saves the final session state.
func (s *Sink) SaveSessionJSON(data []byte) error {
	if err := s.fs.MkdirAll(s.baseDir); err != nil {
		return err
	}
	return s.fs.WriteFile(filepath.Join(s.baseDir, "session.json"), data)
}

func (s *Sink) write(subdir, name string, data []byte) error {
	dir := filepath.Join(s.baseDir, subdir)
	if err := s.fs.MkdirAll(dir); err != nil {
		return err
	}
	return s.fs.WriteFile(filepath.Join(dir, name), data)
}

// Ensure Sink implements ports.DebugSink
var _ ports.DebugSink = (*Sink)(nil)
