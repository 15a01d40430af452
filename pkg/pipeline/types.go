package pipeline

import (
	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
	"github.com/user/framebrc/pkg/resource"
)

// =============================================================================
// Motion Search Levels
// =============================================================================

// HMELevel is one level of the hierarchical motion search.
type HMELevel int

const (
	HME4x HMELevel = iota
	HME16x
	HME32x
)

// String returns the string representation of the level.
func (l HMELevel) String() string {
	switch l {
	case HME4x:
		return "4x"
	case HME16x:
		return "16x"
	case HME32x:
		return "32x"
	default:
		return "?"
	}
}

// Scale returns the downscale factor of the level.
func (l HMELevel) Scale() int {
	switch l {
	case HME16x:
		return 16
	case HME32x:
		return 32
	default:
		return 4
	}
}

// Role returns the downscaled surface the level searches.
func (l HMELevel) Role() ports.BufferRole {
	switch l {
	case HME16x:
		return ports.RoleDownscaled16x
	case HME32x:
		return ports.RoleDownscaled32x
	default:
		return ports.RoleDownscaled4x
	}
}

// HMELevels returns the enabled levels in search order, coarsest first.
// 16x requires 4x, 32x requires 16x. MPEG-2 searches at 4x only.
func HMELevels(seq ports.SequenceParams) []HMELevel {
	if !seq.HME {
		return nil
	}
	if seq.Codec == ports.CodecMPEG2 || !seq.HME16x {
		return []HMELevel{HME4x}
	}
	if !seq.HME32x {
		return []HMELevel{HME16x, HME4x}
	}
	return []HMELevel{HME32x, HME16x, HME4x}
}

// =============================================================================
// Frame Context
// =============================================================================

// Reference is a reference picture list entry with its read-only lease.
type Reference struct {
	Entry ports.RefEntry
	Lease *resource.Lease
}

// Analysis holds results collected while the frame runs.
type Analysis struct {
	MotionSearched bool
	Distortion     int64 // 4x motion search distortion
	StaticFrame    bool
	IntraCost      int64
	SceneChange    bool

	// MBQPMap is the per-MB QP delta produced by the previous pass, nil before it exists.
	MBQPMap []int8
}

// ROIMap is the per-MB region map of a picture.
type ROIMap struct {
	Values []int8  // priority or delta QP per MB
	Levels []uint8 // 15 inside a region, 14/13/12 on the smoothing apron, 0 outside
	Ratio  int     // area ratio hint for the MB rate control
	Count  int     // regions applied
	Dirty  bool    // built from dirty rectangles
}

// Active reports whether the map carries any region.
func (m *ROIMap) Active() bool {
	return m != nil && m.Count > 0
}

// FrameContext is the state of one picture moving through the stages.
type FrameContext struct {
	Bundle  *ports.ParameterBundle
	Index   int
	Picture ports.PictureType
	Field   ports.FieldSelector
	Codec   ports.Codec
	Tier    ports.QualityTier

	// SecondField is set on the second field of an interlaced frame, which
	// shares the slot and the downscaled surfaces of the first.
	SecondField bool

	// BRC is set when an adaptive rate control mode drives the frame.
	BRC bool
	// InitRateControl requests a rate control init or reset on this frame.
	InitRateControl bool
	// PreviousReconstruction is the index of the last reconstructed frame, -1 if none.
	PreviousReconstruction int

	Pass       int
	MaxPasses  int
	QP         int
	Panic      bool
	TargetBits int64
	Budget     *ratecontrol.Budget
	// RateControl is the engine state read at the start of phase B.
	RateControl ratecontrol.State

	Slot          *resource.Lease
	References    []Reference
	RecycledIndex int

	ROI      *ROIMap
	Analysis Analysis

	// Selectors for stages submitted more than once per frame.
	Level      HMELevel
	RefIndex   int
	SliceIndex int
}

// NewFrameContext creates the context of bundle.
func NewFrameContext(bundle *ports.ParameterBundle) *FrameContext {
	seq := bundle.Sequence
	fc := &FrameContext{
		Bundle:                 bundle,
		Index:                  bundle.Picture.FrameIndex,
		Picture:                bundle.Picture.Type,
		Field:                  bundle.Picture.Field,
		Codec:                  seq.Codec,
		Tier:                   ports.TierForTargetUsage(seq.TargetUsage),
		BRC:                    seq.RateControl.Adaptive(),
		PreviousReconstruction: -1,
		QP:                     bundle.Picture.QP,
	}
	if fc.BRC {
		fc.MaxPasses = max(seq.MaxPasses, 0)
	}
	return fc
}

// Sequence returns the sequence parameters.
func (fc *FrameContext) Sequence() ports.SequenceParams {
	return fc.Bundle.Sequence
}

// PictureParams returns the picture parameters.
func (fc *FrameContext) PictureParams() ports.PictureParams {
	return fc.Bundle.Picture
}

// Key returns the descriptor key of stage for this frame.
func (fc *FrameContext) Key(stage ports.StageKind) descriptor.Key {
	return descriptor.Key{Codec: fc.Codec, Stage: stage, Picture: fc.Picture, Tier: fc.Tier}
}

// Slices returns the slices of the picture, or one slice covering the frame.
func (fc *FrameContext) Slices() []ports.SliceParams {
	if len(fc.Bundle.Slices) > 0 {
		return fc.Bundle.Slices
	}
	return []ports.SliceParams{{FirstMB: 0, NumMBs: fc.Bundle.Sequence.NumMBs()}}
}

// ReferenceCounts returns the number of L0 and L1 entries.
func (fc *FrameContext) ReferenceCounts() (l0, l1 int) {
	for _, r := range fc.References {
		if r.Entry.List == 0 {
			l0++
		} else {
			l1++
		}
	}
	return l0, l1
}
