// Package scenario provides a ParameterBundleProvider driven by a YAML script.
package scenario

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/user/framebrc/pkg/ports"
)

var (
	// ErrInvalidScript is returned when a script cannot describe a sequence.
	ErrInvalidScript = errors.New("scenario: invalid script")
)

// DefaultQP is the picture QP when a script sets none.
const DefaultQP = 26

// Script describes a sequence of pictures.
type Script struct {
	Frames       int         `yaml:"frames"`
	GOP          string      `yaml:"gop"` // display-order type pattern such as "IBBP", repeated; empty derives it from the sequence
	Interlaced   bool        `yaml:"interlaced"`
	Slices       int         `yaml:"slices"`
	QP           int         `yaml:"qp"`
	MinQP        int         `yaml:"min_qp"`
	MaxQP        int         `yaml:"max_qp"`
	WeightedPred bool        `yaml:"weighted_pred"`
	ROIs         []ports.ROI `yaml:"rois"` // applied to every picture without its own
	IntraRefresh *Refresh    `yaml:"intra_refresh"`
	Overrides    []Override  `yaml:"overrides"`
}

// Refresh is a rolling intra refresh band that advances one band per picture.
type Refresh struct {
	Mode    string `yaml:"mode"` // "row" or "column"
	Size    int    `yaml:"size"`
	QPDelta int    `yaml:"qp_delta"`
}

// Override changes one picture of the sequence, addressed by display index.
type Override struct {
	Frame            int          `yaml:"frame"`
	Type             string       `yaml:"type"`
	QP               int          `yaml:"qp"`
	MinQP            int          `yaml:"min_qp"`
	MaxQP            int          `yaml:"max_qp"`
	ROIs             []ports.ROI  `yaml:"rois"`
	ROIDeltaQP       bool         `yaml:"roi_delta_qp"`
	DirtyRects       []ports.Rect `yaml:"dirty_rects"`
	SkippedFrames    int          `yaml:"skipped_frames"`
	SkippedBits      int64        `yaml:"skipped_bits"`
	Reset            bool         `yaml:"reset"`
	DisableFrameSkip bool         `yaml:"disable_frame_skip"`
	ForceSkip        bool         `yaml:"force_skip"`
}

// Parse decodes a YAML script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and decodes a YAML script.
func Load(fs ports.FileSystem, path string) (*Script, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Validate checks the script for values no sequence can satisfy.
func (s *Script) Validate() error {
	if s.Frames < 0 {
		return fmt.Errorf("%w: frames must not be negative", ErrInvalidScript)
	}
	if s.Slices < 0 {
		return fmt.Errorf("%w: slices must not be negative", ErrInvalidScript)
	}
	for _, c := range s.GOP {
		if _, err := ports.ParsePictureType(string(c)); err != nil {
			return fmt.Errorf("%w: gop: %v", ErrInvalidScript, err)
		}
	}
	if s.GOP != "" && s.GOP[0] != 'I' && s.GOP[0] != 'i' {
		return fmt.Errorf("%w: gop must start with I", ErrInvalidScript)
	}
	if s.IntraRefresh != nil {
		if _, err := refreshMode(s.IntraRefresh.Mode); err != nil {
			return err
		}
	}
	for _, o := range s.Overrides {
		if o.Frame < 0 {
			return fmt.Errorf("%w: override frame %d", ErrInvalidScript, o.Frame)
		}
		if o.Type != "" {
			if _, err := ports.ParsePictureType(o.Type); err != nil {
				return fmt.Errorf("%w: override frame %d: %v", ErrInvalidScript, o.Frame, err)
			}
		}
	}
	return nil
}

func refreshMode(s string) (ports.IntraRefreshMode, error) {
	switch s {
	case "", "none":
		return ports.IntraRefreshNone, nil
	case "row":
		return ports.IntraRefreshRow, nil
	case "column":
		return ports.IntraRefreshColumn, nil
	default:
		return ports.IntraRefreshNone, fmt.Errorf("%w: intra refresh mode %q", ErrInvalidScript, s)
	}
}
