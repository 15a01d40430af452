package scenario

import (
	"fmt"
	"strings"

	"github.com/user/framebrc/pkg/ports"
)

type picture struct {
	display int
	typ     ports.PictureType
}

// Generate expands a script into bundles in encode order. B pictures follow the
// anchor after them; a trailing B picture is promoted to P. Frame indices are
// display indices, and both fields of an interlaced frame share one index.
func Generate(seq ports.SequenceParams, s *Script) ([]ports.ParameterBundle, error) {
	if s == nil {
		s = &Script{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if seq.NumMBs() <= 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidScript)
	}

	overrides := make(map[int]Override, len(s.Overrides))
	for _, o := range s.Overrides {
		overrides[o.Frame] = o
	}

	types := make([]ports.PictureType, s.Frames)
	for i := range types {
		types[i] = displayType(seq, s.GOP, i)
		if o, ok := overrides[i]; ok && o.Type != "" {
			types[i], _ = ports.ParsePictureType(o.Type)
		}
	}
	if n := len(types); n > 0 && types[n-1] == ports.PictureB {
		types[n-1] = ports.PictureP
	}

	slices := sliceLayout(seq, max(s.Slices, 1))
	numRef := max(seq.NumRefFrames, 1)
	var anchors []int // encoded anchors, oldest first
	var out []ports.ParameterBundle
	coded := 0

	for _, p := range encodeOrder(types) {
		pic := ports.PictureParams{
			FrameIndex:     p.display,
			Type:           p.typ,
			QP:             DefaultQP,
			MinQP:          s.MinQP,
			MaxQP:          s.MaxQP,
			UseAsReference: p.typ != ports.PictureB,
			WeightedPred:   s.WeightedPred,
			ROIs:           s.ROIs,
		}
		if s.QP > 0 {
			pic.QP = s.QP
		}
		if p.typ != ports.PictureI {
			pic.References = references(p, anchors, s.WeightedPred)
		}
		if s.IntraRefresh != nil && p.typ != ports.PictureI {
			pic.IntraRefresh = refreshBand(seq, s.IntraRefresh, coded)
		}
		if o, ok := overrides[p.display]; ok {
			applyOverride(&pic, o)
		}

		fields := []ports.FieldSelector{ports.FieldFrame}
		if s.Interlaced {
			fields = []ports.FieldSelector{ports.FieldTop, ports.FieldBottom}
		}
		for i, f := range fields {
			b := ports.ParameterBundle{Sequence: seq, Picture: pic, Slices: slices}
			b.Picture.Field = f
			if i > 0 {
				// Skips and resets are charged once per frame.
				b.Picture.SkippedFrames = 0
				b.Picture.SkippedBits = 0
				b.Picture.ResetRateControl = false
			}
			out = append(out, b)
		}

		coded++
		if pic.UseAsReference {
			anchors = append(anchors, p.display)
			if len(anchors) > numRef {
				anchors = anchors[1:]
			}
		}
	}
	return out, nil
}

func displayType(seq ports.SequenceParams, gop string, i int) ports.PictureType {
	if gop != "" {
		t, _ := ports.ParsePictureType(string(gop[i%len(gop)]))
		return t
	}
	if i == 0 || (seq.GopSize > 0 && i%seq.GopSize == 0) {
		return ports.PictureI
	}
	dist := max(seq.GopRefDist, 1)
	pos := i
	if seq.GopSize > 0 {
		pos = i % seq.GopSize
	}
	if pos%dist == 0 {
		return ports.PictureP
	}
	return ports.PictureB
}

func encodeOrder(types []ports.PictureType) []picture {
	out := make([]picture, 0, len(types))
	var pending []picture
	for i, t := range types {
		if t == ports.PictureB {
			pending = append(pending, picture{display: i, typ: t})
			continue
		}
		out = append(out, picture{display: i, typ: t})
		out = append(out, pending...)
		pending = pending[:0]
	}
	return append(out, pending...)
}

// references lists the retained anchors newest first: all in L0 for P, split
// around the picture for B.
func references(p picture, anchors []int, weighted bool) []ports.RefEntry {
	var l0, l1 []ports.RefEntry
	for i := len(anchors) - 1; i >= 0; i-- {
		a := anchors[i]
		switch {
		case p.typ == ports.PictureP || a < p.display:
			l0 = append(l0, ports.RefEntry{FrameIndex: a, List: 0, LumaWeightFlag: weighted})
		default:
			l1 = append(l1, ports.RefEntry{FrameIndex: a, List: 1, LumaWeightFlag: weighted})
		}
	}
	return append(l0, l1...)
}

func refreshBand(seq ports.SequenceParams, r *Refresh, coded int) ports.IntraRefresh {
	mode, _ := refreshMode(r.Mode)
	if mode == ports.IntraRefreshNone || r.Size <= 0 {
		return ports.IntraRefresh{}
	}
	extent := seq.HeightInMB
	if mode == ports.IntraRefreshColumn {
		extent = seq.WidthInMB
	}
	return ports.IntraRefresh{
		Mode:     mode,
		Position: (coded * r.Size) % max(extent, 1),
		Size:     r.Size,
		QPDelta:  r.QPDelta,
	}
}

func applyOverride(pic *ports.PictureParams, o Override) {
	if o.QP > 0 {
		pic.QP = o.QP
	}
	if o.MinQP > 0 {
		pic.MinQP = o.MinQP
	}
	if o.MaxQP > 0 {
		pic.MaxQP = o.MaxQP
	}
	if o.ROIs != nil {
		pic.ROIs = o.ROIs
	}
	pic.ROIDeltaQP = o.ROIDeltaQP
	pic.DirtyRects = o.DirtyRects
	pic.SkippedFrames = o.SkippedFrames
	pic.SkippedBits = o.SkippedBits
	pic.ResetRateControl = o.Reset
	pic.DisableFrameSkip = o.DisableFrameSkip
	pic.ForceSkipEnable = o.ForceSkip
}

// sliceLayout splits the frame into n slices of whole MB rows.
func sliceLayout(seq ports.SequenceParams, n int) []ports.SliceParams {
	n = min(n, max(seq.HeightInMB, 1))
	slices := make([]ports.SliceParams, 0, n)
	first := 0
	for i := 0; i < n; i++ {
		rows := seq.HeightInMB / n
		if i < seq.HeightInMB%n {
			rows++
		}
		slices = append(slices, ports.SliceParams{FirstMB: first, NumMBs: rows * seq.WidthInMB})
		first += rows * seq.WidthInMB
	}
	return slices
}

// Pattern renders the picture types of bundles in encode order, one letter per frame.
func Pattern(bundles []ports.ParameterBundle) string {
	var b strings.Builder
	for _, bundle := range bundles {
		if bundle.Picture.Field == ports.FieldBottom {
			continue
		}
		b.WriteString(bundle.Picture.Type.String())
	}
	return b.String()
}
