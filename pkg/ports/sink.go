package ports

import (
	"image"
)

// DebugSink abstracts debug output for intermediate results.
// It allows saving intermediate processing results for debugging purposes.
type DebugSink interface {
	// Enabled returns true if debug output is enabled.
	Enabled() bool

	// SaveParameterBlock saves a stage parameter block as JSON.
	SaveParameterBlock(frame, pass int, stage StageKind, data []byte) error

	// SaveQPMap saves the per-macroblock QP map produced for a pass.
	SaveQPMap(frame, pass int, img image.Image) error

	// SaveROIMap saves the region-of-interest map of a frame.
	SaveROIMap(frame int, img image.Image) error

	// SaveSessionJSON saves the final rate-control state of a session.
	SaveSessionJSON(data []byte) error
}
