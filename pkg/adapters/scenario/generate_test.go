package scenario

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/user/framebrc/pkg/mocks"
	"github.com/user/framebrc/pkg/ports"
)

func testSequence() ports.SequenceParams {
	return ports.SequenceParams{
		WidthInMB:    4,
		HeightInMB:   3,
		GopSize:      8,
		GopRefDist:   3,
		NumRefFrames: 2,
	}
}

func TestGenerate_EncodeOrder(t *testing.T) {
	bundles, err := Generate(testSequence(), &Script{Frames: 9})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Display order IBBPBBPBI.
	if got := Pattern(bundles); got != "IPBBPBBIB" {
		t.Errorf("expected IPBBPBBIB, got %s", got)
	}
	want := []int{0, 3, 1, 2, 6, 4, 5, 8, 7}
	for i, b := range bundles {
		if b.Picture.FrameIndex != want[i] {
			t.Errorf("bundle %d: expected frame %d, got %d", i, want[i], b.Picture.FrameIndex)
		}
	}
}

func TestGenerate_TrailingBPromoted(t *testing.T) {
	bundles, err := Generate(testSequence(), &Script{Frames: 3})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := Pattern(bundles); got != "IPB" {
		t.Errorf("expected IPB, got %s", got)
	}
	if bundles[1].Picture.FrameIndex != 2 {
		t.Errorf("expected promoted frame 2 second, got %d", bundles[1].Picture.FrameIndex)
	}
}

func TestGenerate_References(t *testing.T) {
	bundles, err := Generate(testSequence(), &Script{Frames: 7, WeightedPred: true})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	byFrame := make(map[int]ports.PictureParams)
	for _, b := range bundles {
		byFrame[b.Picture.FrameIndex] = b.Picture
	}

	if refs := byFrame[0].References; len(refs) != 0 {
		t.Errorf("I picture should have no references, got %v", refs)
	}

	p6 := byFrame[6]
	if len(p6.References) != 2 || p6.References[0].FrameIndex != 3 || p6.References[1].FrameIndex != 0 {
		t.Errorf("P6: expected refs [3 0], got %+v", p6.References)
	}

	b4 := byFrame[4]
	if len(b4.References) != 2 {
		t.Fatalf("B4: expected 2 refs, got %+v", b4.References)
	}
	if b4.References[0].FrameIndex != 3 || b4.References[0].List != 0 {
		t.Errorf("B4: expected L0 ref 3, got %+v", b4.References[0])
	}
	if b4.References[1].FrameIndex != 6 || b4.References[1].List != 1 {
		t.Errorf("B4: expected L1 ref 6, got %+v", b4.References[1])
	}
	if !b4.References[0].LumaWeightFlag {
		t.Error("expected luma weight flag with weighted prediction")
	}
	if b4.UseAsReference {
		t.Error("B pictures should not be references")
	}
}

func TestGenerate_ReferenceWindow(t *testing.T) {
	seq := testSequence()
	seq.GopRefDist = 1
	seq.NumRefFrames = 1
	bundles, err := Generate(seq, &Script{Frames: 4})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	for _, b := range bundles[1:] {
		refs := b.Picture.References
		if len(refs) != 1 || refs[0].FrameIndex != b.Picture.FrameIndex-1 {
			t.Errorf("frame %d: expected single ref to previous frame, got %+v", b.Picture.FrameIndex, refs)
		}
	}
}

func TestGenerate_Overrides(t *testing.T) {
	script := &Script{
		Frames: 4,
		GOP:    "IPPP",
		QP:     30,
		Overrides: []Override{
			{Frame: 2, Type: "I", QP: 22, SkippedFrames: 3, SkippedBits: 900, Reset: true},
			{Frame: 3, DirtyRects: []ports.Rect{{Left: 0, Top: 0, Right: 2, Bottom: 2}}},
		},
	}
	bundles, err := Generate(testSequence(), script)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := Pattern(bundles); got != "IPIP" {
		t.Errorf("expected IPIP, got %s", got)
	}
	if bundles[1].Picture.QP != 30 {
		t.Errorf("expected script QP 30, got %d", bundles[1].Picture.QP)
	}
	f2 := bundles[2].Picture
	if f2.QP != 22 || f2.SkippedFrames != 3 || f2.SkippedBits != 900 || !f2.ResetRateControl {
		t.Errorf("override not applied: %+v", f2)
	}
	if len(bundles[3].Picture.DirtyRects) != 1 {
		t.Errorf("expected dirty rect on frame 3")
	}
}

func TestGenerate_Interlaced(t *testing.T) {
	script := &Script{
		Frames:     2,
		GOP:        "IP",
		Interlaced: true,
		Overrides:  []Override{{Frame: 1, SkippedFrames: 2}},
	}
	bundles, err := Generate(testSequence(), script)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(bundles) != 4 {
		t.Fatalf("expected 4 field bundles, got %d", len(bundles))
	}
	if bundles[2].Picture.Field != ports.FieldTop || bundles[3].Picture.Field != ports.FieldBottom {
		t.Errorf("expected top then bottom field")
	}
	if bundles[2].Picture.FrameIndex != bundles[3].Picture.FrameIndex {
		t.Errorf("fields should share a frame index")
	}
	if bundles[2].Picture.SkippedFrames != 2 || bundles[3].Picture.SkippedFrames != 0 {
		t.Errorf("skips should be charged on the first field only")
	}
}

func TestGenerate_Slices(t *testing.T) {
	bundles, err := Generate(testSequence(), &Script{Frames: 1, Slices: 2})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	slices := bundles[0].Slices
	if len(slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(slices))
	}
	if slices[0].NumMBs != 8 || slices[1].FirstMB != 8 || slices[1].NumMBs != 4 {
		t.Errorf("unexpected layout: %+v", slices)
	}
}

func TestGenerate_IntraRefresh(t *testing.T) {
	script := &Script{Frames: 4, GOP: "IPPP", IntraRefresh: &Refresh{Mode: "row", Size: 1}}
	bundles, err := Generate(testSequence(), script)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if bundles[0].Picture.IntraRefresh.Mode != ports.IntraRefreshNone {
		t.Error("I picture should not carry intra refresh")
	}
	positions := []int{1, 2, 0}
	for i, want := range positions {
		ir := bundles[i+1].Picture.IntraRefresh
		if ir.Mode != ports.IntraRefreshRow || ir.Position != want {
			t.Errorf("frame %d: expected row band at %d, got %+v", i+1, want, ir)
		}
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
frames: 5
gop: IPPPP
slices: 2
rois:
  - rect: {left: 0, top: 0, right: 2, bottom: 2}
    priority: 2
overrides:
  - frame: 3
    type: I
    reset: true
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.Frames != 5 || s.Slices != 2 || len(s.ROIs) != 1 || s.ROIs[0].Priority != 2 {
		t.Errorf("unexpected script: %+v", s)
	}
	if len(s.Overrides) != 1 || !s.Overrides[0].Reset {
		t.Errorf("unexpected overrides: %+v", s.Overrides)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "frames: [1"},
		{"bad gop letter", "gop: IXP"},
		{"gop without I", "gop: PPP"},
		{"negative frames", "frames: -1"},
		{"bad override type", "overrides: [{frame: 1, type: Q}]"},
		{"bad refresh mode", "intra_refresh: {mode: diagonal, size: 1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	fs := mocks.NewFileSystem()
	if err := fs.WriteFile("scenario.yaml", []byte("frames: 2\n")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s, err := Load(fs, "scenario.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Frames != 2 {
		t.Errorf("expected 2 frames, got %d", s.Frames)
	}
	if _, err := Load(fs, "missing.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestProvider(t *testing.T) {
	p, err := FromScript(testSequence(), &Script{Frames: 2, GOP: "IP"})
	if err != nil {
		t.Fatalf("FromScript failed: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		b, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if b.Picture.FrameIndex != i {
			t.Errorf("expected frame %d, got %d", i, b.Picture.FrameIndex)
		}
	}
	if _, err := p.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.Next(canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
