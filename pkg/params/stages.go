package params

import (
	"context"
	"fmt"

	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/pipeline"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/resource"
)

func defaultStages() []pipeline.Stage {
	return []pipeline.Stage{
		scalingStage{base(ports.StageScaling)},
		motionSearchStage{base(ports.StageMotionSearch)},
		staticFrameStage{base(ports.StageStaticFrameCheck)},
		rateControlInitStage{base(ports.StageRateControlInit)},
		intraDistortionStage{base(ports.StageIntraDistortion)},
		macroblockEncodeStage{base(ports.StageMacroblockEncode)},
		rateControlUpdateStage{base(ports.StageRateControlUpdate)},
		macroblockRateControlStage{base(ports.StageMacroblockRateControl)},
		weightedPredictionStage{base(ports.StageWeightedPrediction)},
		packetizeStage{base(ports.StageSlicePacketize)},
	}
}

// base supplies Kind and Execute to every stage.
type base ports.StageKind

func (b base) Kind() ports.StageKind {
	return ports.StageKind(b)
}

func (b base) Execute(ctx context.Context, exec ports.DeviceExecutor, sub ports.Submission) (ports.CompletionToken, error) {
	return pipeline.Submit(ctx, exec, sub)
}

// downscaled returns the MB count of n MBs after downscaling by scale.
func downscaled(n, scale int) int {
	return (n + scale - 1) / scale
}

// binder collects bindings and keeps the first error.
type binder struct {
	fc  *pipeline.FrameContext
	out []ports.BufferBinding
	err error
}

func (b *binder) own(role ports.BufferRole, access ports.Access) {
	b.ownAs(role, role, access)
}

func (b *binder) ownAs(src, as ports.BufferRole, access ports.Access) {
	if b.err != nil {
		return
	}
	if b.fc.Slot == nil {
		b.err = fmt.Errorf("%w: frame %d has no slot", resource.ErrMissingBuffer, b.fc.Index)
		return
	}
	v, err := b.fc.Slot.View(src, b.fc.Field)
	if err != nil {
		b.err = err
		return
	}
	b.out = append(b.out, ports.BufferBinding{Role: as, View: v, Access: access})
}

func (b *binder) ref(i int, src, as ports.BufferRole) {
	if b.err != nil {
		return
	}
	r := b.fc.References[i]
	if r.Lease == nil {
		b.err = fmt.Errorf("%w: reference frame %d", resource.ErrMissingBuffer, r.Entry.FrameIndex)
		return
	}
	v, err := r.Lease.View(src, ports.FieldFrame)
	if err != nil {
		b.err = err
		return
	}
	b.out = append(b.out, ports.BufferBinding{Role: as, View: v, Access: ports.AccessRead, RefIndex: i})
}

func (b *binder) refs(src, as ports.BufferRole) {
	for i := range b.fc.References {
		b.ref(i, src, as)
	}
}

func (b *binder) result() ([]ports.BufferBinding, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.out, nil
}

func useHME16x(seq ports.SequenceParams) bool {
	return seq.HME && seq.HME16x && seq.Codec == ports.CodecAVC
}

func useHME32x(seq ports.SequenceParams) bool {
	return useHME16x(seq) && seq.HME32x
}

// =============================================================================
// Phase A
// =============================================================================

type scalingStage struct{ base }

func (scalingStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	seq := fc.Sequence()
	return ScalingParams{
		Frame:        fc.Index,
		Field:        fc.Field,
		WidthInMB:    seq.WidthInMB,
		HeightInMB:   seq.HeightInMB,
		Output16x:    useHME16x(seq),
		Output32x:    useHME32x(seq),
		MBStatistics: fc.BRC,
		Flatness:     fc.BRC && seq.MBBRC,
	}, nil
}

func (scalingStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	seq := fc.Sequence()
	b := &binder{fc: fc}
	b.own(ports.RoleSource, ports.AccessRead)
	b.own(ports.RoleDownscaled4x, ports.AccessWrite)
	if useHME16x(seq) {
		b.own(ports.RoleDownscaled16x, ports.AccessWrite)
	}
	if useHME32x(seq) {
		b.own(ports.RoleDownscaled32x, ports.AccessWrite)
	}
	return b.result()
}

type motionSearchStage struct{ base }

func (motionSearchStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	seq := fc.Sequence()
	scale := fc.Level.Scale()
	l0, l1 := fc.ReferenceCounts()
	levels := pipeline.HMELevels(seq)
	return MotionSearchParams{
		Frame:           fc.Index,
		Picture:         fc.Picture,
		Level:           fc.Level,
		WidthInMB:       downscaled(seq.WidthInMB, scale),
		HeightInMB:      downscaled(seq.HeightInMB, scale),
		NumRefL0:        l0,
		NumRefL1:        l1,
		Search:          descriptor.MotionSearchFor(fc.Tier),
		UsePrevious:     len(levels) > 0 && levels[0] != fc.Level,
		WriteDistortion: fc.Level == pipeline.HME4x,
	}, nil
}

func (motionSearchStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	b := &binder{fc: fc}
	b.own(ports.RoleDownscaled4x, ports.AccessRead)
	if fc.Level != pipeline.HME4x {
		b.own(fc.Level.Role(), ports.AccessRead)
	}
	b.refs(fc.Level.Role(), ports.RoleReference4x)
	b.own(ports.RoleMotionVectors, ports.AccessReadWrite)
	b.own(ports.RoleDistortion, ports.AccessWrite)
	return b.result()
}

type staticFrameStage struct{ base }

func (staticFrameStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	return StaticFrameParams{
		Frame:         fc.Index,
		Picture:       fc.Picture,
		QP:            fc.QP,
		CostThreshold: descriptor.StaticFrameCost(fc.Picture, fc.QP),
		SkipThreshold: descriptor.SkipThreshold(fc.Picture, fc.QP),
		NumRefs:       len(fc.References),
	}, nil
}

func (staticFrameStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	b := &binder{fc: fc}
	b.own(ports.RoleMotionVectors, ports.AccessRead)
	b.own(ports.RoleDistortion, ports.AccessRead)
	b.own(ports.RoleStaticFrame, ports.AccessWrite)
	return b.result()
}

// =============================================================================
// Phase B
// =============================================================================

type rateControlInitStage struct{ base }

func (rateControlInitStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	st := fc.RateControl
	if !st.Initialized {
		return nil, fmt.Errorf("%w: frame %d", ErrNoBudget, fc.Index)
	}
	seq := fc.Sequence()
	gopP, gopB := gopStructure(seq.GopSize, seq.GopRefDist)
	return RateControlInitParams{
		Mode:              st.Mode,
		TargetBitRate:     st.TargetBitRate,
		MaxBitRate:        st.MaxBitRate,
		MinBitRate:        seq.MinBitRate,
		FrameRateNum:      seq.FrameRateNum,
		FrameRateDen:      seq.FrameRateDen,
		BufferSize:        int64(st.BufferSize),
		InitialFullness:   int64(st.InitialFullness),
		InputBitsPerFrame: int64(st.InputBitsPerFrame),
		BPSRatio:          st.BPSRatio,
		GopP:              gopP,
		GopB:              gopB,
		Thresholds:        st.Thresholds,
		ICQQualityFactor:  st.ICQQualityFactor,
		AVBR:              st.AVBR,
		Reset:             st.Resets > 0,
		FieldCoding:       fc.Field.IsField(),
	}, nil
}

func (rateControlInitStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	b := &binder{fc: fc}
	b.own(ports.RoleBRCHistory, ports.AccessWrite)
	b.own(ports.RoleBRCConstData, ports.AccessWrite)
	return b.result()
}

func gopStructure(gopSize, refDist int) (p, b int) {
	if gopSize <= 1 {
		return 0, 0
	}
	refDist = max(refDist, 1)
	p = (gopSize - 1) / refDist
	return p, gopSize - 1 - p
}

type intraDistortionStage struct{ base }

func (intraDistortionStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	seq := fc.Sequence()
	return IntraDistortionParams{
		Frame:       fc.Index,
		Picture:     fc.Picture,
		WidthInMB:   downscaled(seq.WidthInMB, 4),
		HeightInMB:  downscaled(seq.HeightInMB, 4),
		SceneChange: fc.Analysis.SceneChange,
	}, nil
}

func (intraDistortionStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	b := &binder{fc: fc}
	b.own(ports.RoleDownscaled4x, ports.AccessRead)
	b.own(ports.RoleIntraDistortion, ports.AccessWrite)
	return b.result()
}

type macroblockEncodeStage struct{ base }

// usesQPMap reports whether the pass consumes the QP map of the previous pass.
func usesQPMap(fc *pipeline.FrameContext) bool {
	return fc.Pass > 0 && fc.Analysis.MBQPMap != nil
}

// usesROIMap reports whether the pass consumes the region map.
func usesROIMap(fc *pipeline.FrameContext) bool {
	return fc.Pass == 0 && fc.ROI.Active()
}

func weightedPrediction(pic ports.PictureParams) bool {
	return (pic.Type == ports.PictureP && pic.WeightedPred) ||
		(pic.Type == ports.PictureB && pic.WeightedBipredIDC == 1)
}

func (macroblockEncodeStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	seq, pic := fc.Sequence(), fc.PictureParams()
	l0, l1 := fc.ReferenceCounts()
	p := MacroblockEncodeParams{
		Frame:        fc.Index,
		Pass:         fc.Pass,
		Picture:      fc.Picture,
		Field:        fc.Field,
		WidthInMB:    seq.WidthInMB,
		HeightInMB:   seq.HeightInMB,
		QP:           fc.QP,
		MinQP:        pic.MinQP,
		MaxQP:        pic.MaxQP,
		Panic:        fc.Panic,
		TargetBits:   fc.TargetBits,
		ModeCosts:    descriptor.ModeCosts(fc.Picture),
		Search:       descriptor.MotionSearchFor(fc.Tier),
		NumRefL0:     l0,
		NumRefL1:     l1,
		UseHME:       fc.Analysis.MotionSearched,
		NumSlices:    len(fc.Slices()),
		WeightedPred: weightedPrediction(pic),
		IntraRefresh: pic.IntraRefresh,
	}
	if fc.Analysis.StaticFrame {
		p.SkipBias = true
		p.SkipThreshold = descriptor.SkipThreshold(fc.Picture, fc.QP)
	}
	if usesQPMap(fc) {
		p.MBQPMap = fc.Analysis.MBQPMap
		p.UseMBQPMap = true
	}
	if usesROIMap(fc) {
		p.ROI = fc.ROI
		p.UseROI = true
	}
	return p, nil
}

func (macroblockEncodeStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	b := &binder{fc: fc}
	b.own(ports.RoleSource, ports.AccessRead)
	if fc.Picture != ports.PictureI {
		b.refs(ports.RoleReconstruction, ports.RoleReference)
		b.own(ports.RoleMotionVectors, ports.AccessRead)
	}
	if fc.BRC {
		b.own(ports.RoleBRCConstData, ports.AccessRead)
	}
	if usesQPMap(fc) {
		b.own(ports.RoleMBQPMap, ports.AccessRead)
	}
	if usesROIMap(fc) {
		b.own(ports.RoleROIMap, ports.AccessRead)
	}
	b.own(ports.RoleReconstruction, ports.AccessWrite)
	b.own(ports.RoleEncodeOutput, ports.AccessWrite)
	return b.result()
}

type rateControlUpdateStage struct{ base }

func (rateControlUpdateStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	bud := fc.Budget
	if bud == nil {
		return nil, fmt.Errorf("%w: frame %d", ErrNoBudget, fc.Index)
	}
	return RateControlUpdateParams{
		Frame:              fc.Index,
		Pass:               fc.Pass,
		MaxPasses:          fc.MaxPasses,
		Picture:            fc.Picture,
		QP:                 fc.QP,
		MinQP:              bud.MinQP,
		MaxQP:              bud.MaxQP,
		TargetBits:         bud.TargetBits,
		StartFullness:      int64(bud.StartFullness),
		Fullness:           int64(bud.Fullness),
		TargetSizeExceeded: bud.TargetSizeExceeded,
		NumSkipFrames:      bud.NumSkipFrames,
		SkipBits:           bud.SkipBits,
		Thresholds:         bud.Thresholds,
		Panic:              fc.Panic,
		PanicAllowed:       bud.PanicAllowed,
		SceneChange:        bud.SceneChange,
		ForceSkip:          bud.ForceSkip,
		AVBR:               fc.RateControl.AVBR,
	}, nil
}

func (rateControlUpdateStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	b := &binder{fc: fc}
	b.own(ports.RoleEncodeOutput, ports.AccessRead)
	b.own(ports.RoleBRCConstData, ports.AccessRead)
	b.own(ports.RoleBRCHistory, ports.AccessReadWrite)
	return b.result()
}

type macroblockRateControlStage struct{ base }

func (macroblockRateControlStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	p := MacroblockRateControlParams{
		Frame:   fc.Index,
		Pass:    fc.Pass,
		Picture: fc.Picture,
		MBBRC:   fc.Sequence().MBBRC,
		DeltaQP: fc.PictureParams().ROIDeltaQP,
	}
	if fc.ROI.Active() {
		p.ROI = fc.ROI
		p.ROICount = fc.ROI.Count
		p.ROIRatio = fc.ROI.Ratio
		p.DirtyROI = fc.ROI.Dirty
	}
	return p, nil
}

func (macroblockRateControlStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	b := &binder{fc: fc}
	b.own(ports.RoleEncodeOutput, ports.AccessRead)
	b.own(ports.RoleBRCHistory, ports.AccessRead)
	if fc.ROI.Active() {
		b.own(ports.RoleROIMap, ports.AccessRead)
	}
	b.own(ports.RoleMBQPMap, ports.AccessWrite)
	return b.result()
}

// =============================================================================
// Phase C
// =============================================================================

type weightedPredictionStage struct{ base }

func (weightedPredictionStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	if fc.RefIndex < 0 || fc.RefIndex >= len(fc.References) {
		return nil, fmt.Errorf("%w: reference %d of %d", ErrIndexRange, fc.RefIndex, len(fc.References))
	}
	ref := fc.References[fc.RefIndex].Entry
	return WeightedPredictionParams{
		Frame:          fc.Index,
		List:           ref.List,
		RefIndex:       fc.RefIndex,
		RefFrame:       ref.FrameIndex,
		LumaLog2Denom:  6,
		ExplicitBipred: fc.Picture == ports.PictureB,
	}, nil
}

func (weightedPredictionStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	if fc.RefIndex < 0 || fc.RefIndex >= len(fc.References) {
		return nil, fmt.Errorf("%w: reference %d of %d", ErrIndexRange, fc.RefIndex, len(fc.References))
	}
	b := &binder{fc: fc}
	b.ref(fc.RefIndex, ports.RoleReconstruction, ports.RoleReference)
	b.own(ports.RoleWeightedReference, ports.AccessWrite)
	return b.result()
}

type packetizeStage struct{ base }

func (packetizeStage) BuildParameters(fc *pipeline.FrameContext) (ports.ParameterBlock, error) {
	slices := fc.Slices()
	if fc.SliceIndex < 0 || fc.SliceIndex >= len(slices) {
		return nil, fmt.Errorf("%w: slice %d of %d", ErrIndexRange, fc.SliceIndex, len(slices))
	}
	sl := slices[fc.SliceIndex]
	seq, pic := fc.Sequence(), fc.PictureParams()
	return PacketizeParams{
		Frame:     fc.Index,
		Slice:     fc.SliceIndex,
		FirstMB:   sl.FirstMB,
		NumMBs:    sl.NumMBs,
		SliceQP:   min(max(fc.QP+sl.QPDelta, 0), descriptor.NumQP-1),
		Picture:   fc.Picture,
		Field:     fc.Field,
		IDR:       isIDR(seq, pic),
		Reference: pic.UseAsReference,
		Passes:    fc.Pass + 1,
	}, nil
}

func (packetizeStage) BindBuffers(fc *pipeline.FrameContext, _ descriptor.Descriptor) ([]ports.BufferBinding, error) {
	b := &binder{fc: fc}
	b.own(ports.RoleEncodeOutput, ports.AccessRead)
	b.own(ports.RoleReconstruction, ports.AccessRead)
	return b.result()
}

func isIDR(seq ports.SequenceParams, pic ports.PictureParams) bool {
	if pic.Type != ports.PictureI {
		return false
	}
	if seq.GopSize <= 0 {
		return pic.FrameIndex == 0
	}
	return pic.FrameIndex%seq.GopSize == 0
}
