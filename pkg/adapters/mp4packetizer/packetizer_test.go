package mp4packetizer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/framebrc/pkg/mocks"
	"github.com/user/framebrc/pkg/ports"
)

func slice(header byte, body ...byte) ports.SliceOutput {
	data := append([]byte{0, 0, 0, 1, header}, body...)
	return ports.SliceOutput{Data: data, BitLength: int64(len(data)) * 8}
}

func newTestPacketizer(t *testing.T, fs ports.FileSystem, opts Options) *Packetizer {
	t.Helper()
	opts.Path = "out.mp4"
	opts.WidthInMB = 4
	opts.HeightInMB = 3
	p, err := New(fs, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func decode(t *testing.T, fs *mocks.FileSystem) *mp4.File {
	t.Helper()
	data, err := fs.ReadFile("out.mp4")
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode mp4: %v", err)
	}
	return f
}

func fullSamples(t *testing.T, f *mp4.File) []mp4.FullSample {
	t.Helper()
	var trex *mp4.TrexBox
	if f.Init != nil && f.Init.Moov.Mvex != nil && len(f.Init.Moov.Mvex.Trexs) > 0 {
		trex = f.Init.Moov.Mvex.Trexs[0]
	}
	var out []mp4.FullSample
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			samples, err := frag.GetFullSamples(trex)
			if err != nil {
				t.Fatalf("get samples: %v", err)
			}
			out = append(out, samples...)
		}
	}
	return out
}

func TestAppendAVCC(t *testing.T) {
	annexB := []byte{0, 0, 0, 1, 0x67, 1, 2, 0, 0, 1, 0x65, 9, 9, 9}
	got := appendAVCC(nil, annexB)
	want := []byte{0, 0, 0, 4, 0x65, 9, 9, 9}
	if !bytes.Equal(got, want) {
		t.Errorf("expected % x, got % x", want, got)
	}
}

func TestPacketizer_WritesFragments(t *testing.T) {
	fs := mocks.NewFileSystem()
	p := newTestPacketizer(t, fs, Options{FrameRateNum: 30, FrameRateDen: 1})
	ctx := context.Background()

	frames := []ports.PacketizedFrame{
		{FrameIndex: 0, Type: ports.PictureI, Slices: []ports.SliceOutput{slice(0x65, 1, 2, 3)}},
		{FrameIndex: 1, Type: ports.PictureP, Slices: []ports.SliceOutput{slice(0x41, 4, 5), slice(0x41, 6)}},
	}
	for _, f := range frames {
		if err := p.Packetize(ctx, f); err != nil {
			t.Fatalf("Packetize failed: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if p.Frames() != 2 {
		t.Errorf("expected 2 frames, got %d", p.Frames())
	}
	// 4+4 bytes for the I slice, 4+3 and 4+2 for the P slices.
	if p.PayloadBytes() != 8+7+6 {
		t.Errorf("expected 21 payload bytes, got %d", p.PayloadBytes())
	}

	f := decode(t, fs)
	if !f.IsFragmented() {
		t.Fatal("expected fragmented MP4")
	}
	samples := fullSamples(t, f)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Flags != mp4.SyncSampleFlags {
		t.Error("expected first sample to be a sync sample")
	}
	if samples[1].Flags == mp4.SyncSampleFlags {
		t.Error("expected P sample to be non-sync")
	}
	if samples[1].DecodeTime != 3000 {
		t.Errorf("expected second decode time 3000, got %d", samples[1].DecodeTime)
	}
}

func TestPacketizer_CompositionOffsets(t *testing.T) {
	fs := mocks.NewFileSystem()
	p := newTestPacketizer(t, fs, Options{FrameRateNum: 25, FrameRateDen: 1, ReorderDepth: 1})
	ctx := context.Background()

	// Encode order I0 P2 B1.
	for _, f := range []ports.PacketizedFrame{
		{FrameIndex: 0, Type: ports.PictureI, Slices: []ports.SliceOutput{slice(0x65, 1)}},
		{FrameIndex: 2, Type: ports.PictureP, Slices: []ports.SliceOutput{slice(0x41, 1)}},
		{FrameIndex: 1, Type: ports.PictureB, Slices: []ports.SliceOutput{slice(0x01, 1)}},
	} {
		if err := p.Packetize(ctx, f); err != nil {
			t.Fatalf("Packetize failed: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	samples := fullSamples(t, decode(t, fs))
	want := []int32{3600, 7200, 0}
	for i, s := range samples {
		if s.CompositionTimeOffset != want[i] {
			t.Errorf("sample %d: expected offset %d, got %d", i, want[i], s.CompositionTimeOffset)
		}
	}
}

func TestPacketizer_FieldPair(t *testing.T) {
	fs := mocks.NewFileSystem()
	p := newTestPacketizer(t, fs, Options{})
	ctx := context.Background()

	if err := p.Packetize(ctx, ports.PacketizedFrame{Type: ports.PictureI, Field: ports.FieldTop, Slices: []ports.SliceOutput{slice(0x65, 1)}}); err != nil {
		t.Fatalf("top field failed: %v", err)
	}
	if p.Frames() != 0 {
		t.Error("top field should be held")
	}
	if err := p.Packetize(ctx, ports.PacketizedFrame{Type: ports.PictureI, Field: ports.FieldBottom, Slices: []ports.SliceOutput{slice(0x65, 2)}}); err != nil {
		t.Fatalf("bottom field failed: %v", err)
	}
	if p.Frames() != 1 || p.PayloadBytes() != 12 {
		t.Errorf("expected one 12 byte sample, got %d frames %d bytes", p.Frames(), p.PayloadBytes())
	}

	err := p.Packetize(ctx, ports.PacketizedFrame{FrameIndex: 1, Field: ports.FieldBottom})
	if !errors.Is(err, ErrFieldOrder) {
		t.Errorf("expected ErrFieldOrder, got %v", err)
	}
}

func TestPacketizer_Errors(t *testing.T) {
	if _, err := New(mocks.NewFileSystem(), Options{Codec: ports.CodecMPEG2}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}

	fs := mocks.NewFileSystem()
	fs.WriteFileFunc = func(string, []byte) error { return errors.New("disk full") }
	p := newTestPacketizer(t, fs, Options{})
	if err := p.Packetize(context.Background(), ports.PacketizedFrame{Type: ports.PictureI}); err == nil {
		t.Error("expected init segment write error")
	}
	if p.Frames() != 0 {
		t.Errorf("expected no frames after a failed write, got %d", p.Frames())
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := p.Packetize(context.Background(), ports.PacketizedFrame{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	full := mocks.NewFileSystem()
	full.AppendFileFunc = func(string, []byte) error { return errors.New("disk full") }
	r := newTestPacketizer(t, full, Options{})
	if err := r.Packetize(context.Background(), ports.PacketizedFrame{Type: ports.PictureI}); err == nil {
		t.Error("expected fragment append error")
	}
	if r.Frames() != 0 {
		t.Errorf("expected rejected frame not counted, got %d", r.Frames())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := newTestPacketizer(t, mocks.NewFileSystem(), Options{})
	if err := q.Packetize(ctx, ports.PacketizedFrame{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPacketizer_CloseWithoutFrames(t *testing.T) {
	fs := mocks.NewFileSystem()
	p := newTestPacketizer(t, fs, Options{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if ok, _ := fs.Exists("out.mp4"); ok {
		t.Error("expected no output without frames")
	}
}

func TestPacketizer_StreamsBeforeClose(t *testing.T) {
	fs := mocks.NewFileSystem()
	p := newTestPacketizer(t, fs, Options{})
	ctx := context.Background()

	for i, typ := range []ports.PictureType{ports.PictureI, ports.PictureP} {
		frame := ports.PacketizedFrame{FrameIndex: i, Type: typ, Slices: []ports.SliceOutput{slice(0x41, byte(i+1))}}
		if err := p.Packetize(ctx, frame); err != nil {
			t.Fatalf("Packetize(%d) failed: %v", i, err)
		}
		if got := fs.Appends("out.mp4"); got != i+1 {
			t.Errorf("after frame %d: %d fragments appended, want %d", i, got, i+1)
		}
	}

	if got := len(fullSamples(t, decode(t, fs))); got != 2 {
		t.Errorf("expected 2 samples before Close, got %d", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
