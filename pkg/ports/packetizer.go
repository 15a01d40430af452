package ports

import "context"

// SliceOutput is the final encode output of one slice.
type SliceOutput struct {
	Index     int
	Data      []byte // Annex-B byte stream
	BitLength int64
}

// PacketizedFrame is a fully encoded picture ready for the bitstream.
type PacketizedFrame struct {
	FrameIndex int
	Type       PictureType
	Field      FieldSelector
	QP         int
	Passes     int
	TotalBits  int64
	Slices     []SliceOutput
}

// Keyframe reports whether the frame can start decoding.
func (f PacketizedFrame) Keyframe() bool {
	return f.Type == PictureI
}

// Packetizer consumes encoded frames.
type Packetizer interface {
	// Packetize appends a frame to the output.
	Packetize(ctx context.Context, frame PacketizedFrame) error

	// Close flushes any buffered output.
	Close() error
}
