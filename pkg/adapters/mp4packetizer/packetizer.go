// Package mp4packetizer writes packetized frames as a fragmented MP4 file.
package mp4packetizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/framebrc/pkg/ports"
)

var (
	// ErrUnsupportedCodec is returned for sequences the AVC sample entry cannot carry.
	ErrUnsupportedCodec = errors.New("mp4packetizer: unsupported codec")
	// ErrClosed is returned when packetizing after Close.
	ErrClosed = errors.New("mp4packetizer: closed")
	// ErrFieldOrder is returned when a bottom field arrives without its top field.
	ErrFieldOrder = errors.New("mp4packetizer: bottom field without top field")
)

// Timescale is the media timescale of the video track.
const Timescale = 90000

const trackID = 1

// Options configures a Packetizer.
type Options struct {
	Path         string
	Codec        ports.Codec
	WidthInMB    int
	HeightInMB   int
	FrameRateNum uint32
	FrameRateDen uint32
	// ReorderDepth is the number of B pictures between anchors. It delays
	// presentation so composition offsets stay non-negative.
	ReorderDepth int
	Logger       ports.Logger
}

// Packetizer implements ports.Packetizer. The init segment replaces the file
// on the first frame and each frame is appended as one moof+mdat fragment, so
// a write failure rejects the frame that caused it.
type Packetizer struct {
	fs   ports.FileSystem
	opts Options
	dur  uint32

	mu      sync.Mutex
	buf     bytes.Buffer // scratch for the segment being written
	inited  bool
	closed  bool
	coded   uint64 // samples written, in decode order
	field   []byte // pending top field sample data
	frames  int
	payload int64
}

// New creates a Packetizer.
func New(fs ports.FileSystem, opts Options) (*Packetizer, error) {
	if opts.Codec != ports.CodecAVC {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, opts.Codec)
	}
	if opts.FrameRateNum == 0 {
		opts.FrameRateNum = 30
	}
	if opts.FrameRateDen == 0 {
		opts.FrameRateDen = 1
	}
	dur := uint32(uint64(Timescale) * uint64(opts.FrameRateDen) / uint64(opts.FrameRateNum))
	return &Packetizer{fs: fs, opts: opts, dur: max(dur, 1)}, nil
}

// Packetize appends frame as a fragment. The top field of an interlaced
// frame is held until its bottom field arrives.
func (p *Packetizer) Packetize(ctx context.Context, frame ports.PacketizedFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.inited {
		if err := p.writeInit(); err != nil {
			return err
		}
		if err := p.fs.WriteFile(p.opts.Path, p.buf.Bytes()); err != nil {
			return fmt.Errorf("write %s: %w", p.opts.Path, err)
		}
		p.inited = true
	}

	var data []byte
	for _, s := range frame.Slices {
		data = appendAVCC(data, s.Data)
	}

	switch frame.Field {
	case ports.FieldTop:
		p.field = data
		return nil
	case ports.FieldBottom:
		if p.field == nil {
			return fmt.Errorf("%w: frame %d", ErrFieldOrder, frame.FrameIndex)
		}
		data = append(p.field, data...)
		p.field = nil
	}

	if err := p.writeFragment(frame, data); err != nil {
		return err
	}
	if err := p.fs.AppendFile(p.opts.Path, p.buf.Bytes()); err != nil {
		return fmt.Errorf("append %s: %w", p.opts.Path, err)
	}
	p.coded++
	p.frames++
	p.payload += int64(len(data))
	if p.opts.Logger != nil {
		p.opts.Logger.Debug("Wrote fragment %d for frame %d (%d bytes)", p.coded, frame.FrameIndex, len(data))
	}
	return nil
}

func (p *Packetizer) writeInit() error {
	p.buf.Reset()
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(Timescale, "video", "und")
	trak := init.Moov.Trak

	width := uint16(p.opts.WidthInMB * 16)
	height := uint16(p.opts.HeightInMB * 16)

	avcC := &mp4.AvcCBox{DecConfRec: avc.DecConfRec{
		AVCProfileIndication: 66,
		ProfileCompatibility: 0xc0,
		AVCLevelIndication:   level(p.opts.WidthInMB * p.opts.HeightInMB),
		SPSnalus:             [][]byte{parameterSet(nalTypeSPS, width, height)},
		PPSnalus:             [][]byte{parameterSet(nalTypePPS, width, height)},
		ChromaFormat:         1,
		NoTrailingInfo:       true,
	}}
	avc1 := mp4.CreateVisualSampleEntryBox("avc1", width, height, avcC)
	trak.Mdia.Minf.Stbl.Stsd.AddChild(avc1)
	trak.Tkhd.Width = mp4.Fixed32(uint32(width) << 16)
	trak.Tkhd.Height = mp4.Fixed32(uint32(height) << 16)

	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso6", "avc1", "mp41"})
	if err := ftyp.Encode(&p.buf); err != nil {
		return fmt.Errorf("encode ftyp: %w", err)
	}
	if err := init.Moov.Encode(&p.buf); err != nil {
		return fmt.Errorf("encode moov: %w", err)
	}
	return nil
}

func (p *Packetizer) writeFragment(frame ports.PacketizedFrame, data []byte) error {
	p.buf.Reset()
	frag, err := mp4.CreateFragment(uint32(p.coded+1), trackID)
	if err != nil {
		return fmt.Errorf("create fragment: %w", err)
	}

	flags := mp4.NonSyncSampleFlags
	if frame.Keyframe() {
		flags = mp4.SyncSampleFlags
	}
	// Presentation runs ReorderDepth frames behind decode.
	offset := (int64(frame.FrameIndex) - int64(p.coded) + int64(p.opts.ReorderDepth)) * int64(p.dur)
	frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags:                 flags,
			Size:                  uint32(len(data)),
			Dur:                   p.dur,
			CompositionTimeOffset: int32(max(offset, 0)),
		},
		DecodeTime: p.coded * uint64(p.dur),
		Data:       data,
	})
	if err := frag.Encode(&p.buf); err != nil {
		return fmt.Errorf("encode fragment: %w", err)
	}
	return nil
}

// Close stops the stream. A pending top field is dropped.
func (p *Packetizer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.field != nil && p.opts.Logger != nil {
		p.opts.Logger.Warn("Dropping unpaired top field")
	}
	p.field = nil
	return nil
}

// Frames returns the number of samples written.
func (p *Packetizer) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// PayloadBytes returns the sample data written, excluding box overhead.
func (p *Packetizer) PayloadBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payload
}

// level picks the lowest AVC level whose frame size limit covers numMBs.
func level(numMBs int) byte {
	switch {
	case numMBs <= 396:
		return 21
	case numMBs <= 1620:
		return 31
	case numMBs <= 8192:
		return 40
	case numMBs <= 22080:
		return 50
	default:
		return 51
	}
}

// parameterSet returns a placeholder parameter set NAL unit carrying the
// picture size. The simulated device emits no real parameter sets.
func parameterSet(nalType byte, width, height uint16) []byte {
	return []byte{0x60 | nalType, 66, 0xc0, byte(width >> 8), byte(width), byte(height >> 8), byte(height)}
}

var _ ports.Packetizer = (*Packetizer)(nil)
