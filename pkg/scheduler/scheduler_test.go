package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/framebrc/pkg/adapters/logger"
	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/mocks"
	"github.com/user/framebrc/pkg/params"
	"github.com/user/framebrc/pkg/pipeline"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
	"github.com/user/framebrc/pkg/resource"
)

const (
	testWidthMB  = 8
	testHeightMB = 4
)

// testSequence has a buffer of 30 frames, which gives a bps ratio of exactly 1.
func testSequence() ports.SequenceParams {
	return ports.SequenceParams{
		Codec:         ports.CodecAVC,
		WidthInMB:     testWidthMB,
		HeightInMB:    testHeightMB,
		FrameRateNum:  30,
		FrameRateDen:  1,
		RateControl:   ports.RateControlCBR,
		TargetBitRate: 4_000_000,
		BufferSize:    4_000_000,
		GopSize:       30,
		GopRefDist:    1,
		NumRefFrames:  1,
		HME:           true,
		MaxPasses:     2,
	}
}

type harness struct {
	exec    *mocks.DeviceExecutor
	engine  *ratecontrol.Engine
	builder *params.Builder
	pool    *resource.Pool
	sink    *mocks.DebugSink
	sched   *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pool, err := resource.New(mocks.NewBufferAllocator(),
		resource.Geometry{WidthInMB: testWidthMB, HeightInMB: testHeightMB},
		resource.Options{Slots: 4, Logger: logger.NewNoop()})
	if err != nil {
		t.Fatalf("resource.New failed: %v", err)
	}
	t.Cleanup(pool.Close)

	h := &harness{
		exec:    mocks.NewDeviceExecutor(),
		engine:  ratecontrol.NewEngine(ratecontrol.Config{Logger: logger.NewNoop()}),
		builder: params.NewBuilder(params.Options{Logger: logger.NewNoop()}),
		pool:    pool,
		sink:    mocks.NewDebugSink(true),
	}
	h.sched = New(descriptor.NewTable(), h.builder, h.exec, h.engine, Options{
		WaitTimeout: time.Second,
		Sink:        h.sink,
		Logger:      logger.NewNoop(),
	})
	return h
}

// frame builds the context of frame index. Inter pictures reference frame
// index-1, which is acquired and kept resident for the test.
func (h *harness) frame(t *testing.T, seq ports.SequenceParams, pic ports.PictureParams) *pipeline.FrameContext {
	t.Helper()
	ctx := context.Background()
	fc := pipeline.NewFrameContext(&ports.ParameterBundle{Sequence: seq, Picture: pic})
	fc.InitRateControl = fc.BRC && !h.engine.Initialized()

	for _, ref := range pic.References {
		owner, err := h.pool.Acquire(ctx, ref.FrameIndex)
		if err != nil {
			t.Fatalf("Acquire ref failed: %v", err)
		}
		t.Cleanup(owner.Release)
		fc.References = append(fc.References, pipeline.Reference{Entry: ref, Lease: owner.Borrow()})
	}
	slot, err := h.pool.Acquire(ctx, pic.FrameIndex)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	t.Cleanup(slot.Release)
	fc.Slot = slot
	return fc
}

func interPicture(index int, typ ports.PictureType) ports.PictureParams {
	pic := ports.PictureParams{FrameIndex: index, Type: typ, QP: 30, UseAsReference: true}
	pic.References = []ports.RefEntry{{FrameIndex: index - 1, List: 0}}
	if typ == ports.PictureB {
		pic.References = append(pic.References, ports.RefEntry{FrameIndex: index + 1, List: 1})
	}
	return pic
}

// onTarget answers every encode with exactly the frame budget.
func onTarget(fc *pipeline.FrameContext) func(ports.Submission) (ports.StageStatistics, error) {
	return func(sub ports.Submission) (ports.StageStatistics, error) {
		switch sub.Stage {
		case ports.StageMacroblockEncode:
			return ports.StageStatistics{ConsumedBits: fc.TargetBits, AverageQP: float64(fc.QP)}, nil
		case ports.StageMotionSearch:
			return ports.StageStatistics{Distortion: 1000}, nil
		case ports.StageSlicePacketize:
			return ports.StageStatistics{Payload: []byte{0, 0, 0, 1, 0x65}, BitLength: 40}, nil
		}
		return ports.StageStatistics{}, nil
	}
}

func indexOf(events []mocks.DeviceEvent, kind mocks.DeviceEventKind, stage ports.StageKind) int {
	for i, e := range events {
		if e.Kind == kind && e.Stage == stage {
			return i
		}
	}
	return -1
}

func TestRunFrame_MotionSearchCompletesBeforeEncode(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	if err := h.engine.Init(seq, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	fc := h.frame(t, seq, interPicture(1, ports.PictureP))
	h.exec.StatsFunc = onTarget(fc)

	res, err := h.sched.RunFrame(context.Background(), fc)
	if err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}

	events := h.exec.EventLog()
	meWait := indexOf(events, mocks.EventWait, ports.StageMotionSearch)
	encSubmit := indexOf(events, mocks.EventSubmit, ports.StageMacroblockEncode)
	if meWait < 0 || encSubmit < 0 || meWait > encSubmit {
		t.Errorf("motion search wait at %d, encode submit at %d", meWait, encSubmit)
	}
	if !fc.Analysis.MotionSearched || fc.Analysis.Distortion != 1000 {
		t.Errorf("Analysis = %+v", fc.Analysis)
	}
	if h.exec.Count(ports.StageRateControlInit) != 0 {
		t.Error("rate control initialized twice")
	}
	if !res.Converged || res.Passes != 1 {
		t.Errorf("Converged = %v, Passes = %d", res.Converged, res.Passes)
	}
	if len(res.Slices) != 1 || res.Slices[0].BitLength != 40 {
		t.Errorf("Slices = %+v", res.Slices)
	}
	if h.exec.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", h.exec.Pending())
	}
}

func TestRunFrame_ConstantQPRunsSinglePass(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.RateControl = ports.RateControlCQP
	seq.HME = false
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 28})
	h.exec.StatsFunc = onTarget(fc)

	res, err := h.sched.RunFrame(context.Background(), fc)
	if err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	want := []ports.StageKind{ports.StageMacroblockEncode, ports.StageSlicePacketize}
	got := h.exec.Stages()
	if len(got) != len(want) {
		t.Fatalf("Stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Stages[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if res.QP != 28 || res.Passes != 1 || len(res.Decisions) != 0 {
		t.Errorf("QP = %d, Passes = %d, Decisions = %d", res.QP, res.Passes, len(res.Decisions))
	}
}

func TestRunFrame_PanicOnIntraOvershoot(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 26, UseAsReference: true})
	h.exec.StatsFunc = func(sub ports.Submission) (ports.StageStatistics, error) {
		if sub.Stage == ports.StageMacroblockEncode {
			bits := fc.TargetBits
			if sub.Pass == 0 {
				bits *= 4
			}
			return ports.StageStatistics{ConsumedBits: bits}, nil
		}
		return ports.StageStatistics{}, nil
	}

	res, err := h.sched.RunFrame(context.Background(), fc)
	if err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	if !res.Panic || res.Passes != 2 || !res.Converged {
		t.Errorf("Panic = %v, Passes = %d, Converged = %v", res.Panic, res.Passes, res.Converged)
	}
	if res.QP != 38 {
		t.Errorf("QP = %d, want 38", res.QP)
	}
	if n := h.exec.Count(ports.StageRateControlInit); n != 1 {
		t.Errorf("rc-init submitted %d times, want 1", n)
	}
	if n := h.exec.Count(ports.StageMacroblockEncode); n != 2 {
		t.Errorf("mb-encode submitted %d times, want 2", n)
	}
	if n := h.exec.Count(ports.StageRateControlUpdate); n != 2 {
		t.Errorf("rc-update submitted %d times, want 2", n)
	}
	if _, ok := h.sink.ParameterBlocks[mocks.BlockKey(0, 1, ports.StageMacroblockEncode)]; !ok {
		t.Error("second pass encode parameters were not dumped")
	}
	if !h.engine.Initialized() {
		t.Error("engine not initialized after rc-init frame")
	}
}

func TestRunFrame_PassBudgetBoundsRetries(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.MaxPasses = 3
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 10})
	// Always four times over budget.
	h.exec.StatsFunc = func(sub ports.Submission) (ports.StageStatistics, error) {
		if sub.Stage == ports.StageMacroblockEncode {
			return ports.StageStatistics{ConsumedBits: 4 * fc.TargetBits}, nil
		}
		return ports.StageStatistics{}, nil
	}

	res, err := h.sched.RunFrame(context.Background(), fc)
	if err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	if res.Passes != 4 {
		t.Errorf("Passes = %d, want 4", res.Passes)
	}
	if res.Converged {
		t.Error("over-budget frame reported as converged")
	}
	last := res.Decisions[len(res.Decisions)-1]
	if !last.Accept {
		t.Error("last pass not accepted")
	}
}

func TestRunFrame_PhaseFlags(t *testing.T) {
	for _, single := range []bool{false, true} {
		h := newHarness(t)
		seq := testSequence()
		seq.SingleTaskPhase = single
		fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 30})
		h.exec.StatsFunc = onTarget(fc)

		if _, err := h.sched.RunFrame(context.Background(), fc); err != nil {
			t.Fatalf("RunFrame failed: %v", err)
		}
		subs := h.exec.Submissions
		for i, sub := range subs {
			if !single {
				if !sub.FirstInPhase || !sub.LastInPhase {
					t.Errorf("single=false: %s flags = %v/%v", sub.Stage, sub.FirstInPhase, sub.LastInPhase)
				}
				continue
			}
			// Pass 0 is rc-init, mb-encode, rc-update.
			if sub.Stage == ports.StageRateControlInit && (!sub.FirstInPhase || sub.LastInPhase) {
				t.Errorf("rc-init flags = %v/%v, want first only", sub.FirstInPhase, sub.LastInPhase)
			}
			if sub.Stage == ports.StageMacroblockEncode && (sub.FirstInPhase || sub.LastInPhase) {
				t.Errorf("mb-encode flags = %v/%v, want neither", sub.FirstInPhase, sub.LastInPhase)
			}
			if sub.Stage == ports.StageRateControlUpdate && (sub.FirstInPhase || !sub.LastInPhase) {
				t.Errorf("rc-update flags = %v/%v, want last only", sub.FirstInPhase, sub.LastInPhase)
			}
			if i == 0 && sub.Stage != ports.StageScaling {
				t.Errorf("first stage = %s, want scaling", sub.Stage)
			}
		}
	}
}

func TestRunFrame_StageFailureCancelsOutstanding(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	if err := h.engine.Init(seq, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	fc := h.frame(t, seq, interPicture(1, ports.PictureP))
	h.exec.StatsFunc = func(sub ports.Submission) (ports.StageStatistics, error) {
		if sub.Stage == ports.StageMacroblockEncode {
			return ports.StageStatistics{Failed: true}, nil
		}
		return ports.StageStatistics{}, nil
	}

	_, err := h.sched.RunFrame(context.Background(), fc)
	if !errors.Is(err, ports.ErrStageFailed) {
		t.Fatalf("RunFrame error = %v, want ErrStageFailed", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != ports.StageMacroblockEncode {
		t.Errorf("error %v not attributed to mb-encode", err)
	}
	if h.exec.Pending() != 0 {
		t.Errorf("Pending = %d after failure", h.exec.Pending())
	}
	if indexOf(h.exec.EventLog(), mocks.EventCancel, ports.StageRateControlUpdate) < 0 {
		t.Error("rc-update was not cancelled")
	}
	if _, err := h.pool.Reference(1); !errors.Is(err, resource.ErrInvalidated) {
		t.Errorf("Reference(1) error = %v, want ErrInvalidated", err)
	}
}

func TestRunFrame_WaitTimeout(t *testing.T) {
	h := newHarness(t)
	h.sched.timeout = 20 * time.Millisecond
	seq := testSequence()
	seq.RateControl = ports.RateControlCQP
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 30})
	h.exec.WaitFunc = func(ctx context.Context, sub ports.Submission) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := h.sched.RunFrame(context.Background(), fc)
	if !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("RunFrame error = %v, want ErrSyncTimeout", err)
	}
}

func TestRunFrame_ContextCanceled(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.RateControl = ports.RateControlCQP
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 30})
	ctx, cancel := context.WithCancel(context.Background())
	h.exec.WaitFunc = func(wctx context.Context, sub ports.Submission) error {
		cancel()
		<-wctx.Done()
		return wctx.Err()
	}

	_, err := h.sched.RunFrame(ctx, fc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunFrame error = %v, want context.Canceled", err)
	}
}

// partialStage binds nothing, leaving every descriptor role unbound.
type partialStage struct{ pipeline.Stage }

func (partialStage) BindBuffers(*pipeline.FrameContext, descriptor.Descriptor) ([]ports.BufferBinding, error) {
	return nil, nil
}

func TestRunFrame_MissingBinding(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.RateControl = ports.RateControlCQP
	seq.HME = false
	enc, err := h.builder.Stage(ports.StageMacroblockEncode)
	if err != nil {
		t.Fatal(err)
	}
	h.builder.Register(partialStage{enc})
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 30})

	_, err = h.sched.RunFrame(context.Background(), fc)
	if !errors.Is(err, resource.ErrMissingBuffer) {
		t.Fatalf("RunFrame error = %v, want ErrMissingBuffer", err)
	}
	if h.exec.Count(ports.StageMacroblockEncode) != 0 {
		t.Error("encode submitted without its buffers")
	}
}

func TestRunFrame_MissingSlot(t *testing.T) {
	h := newHarness(t)
	fc := pipeline.NewFrameContext(&ports.ParameterBundle{
		Sequence: testSequence(),
		Picture:  ports.PictureParams{Type: ports.PictureI, QP: 30},
	})
	if _, err := h.sched.RunFrame(context.Background(), fc); !errors.Is(err, resource.ErrMissingBuffer) {
		t.Fatalf("RunFrame error = %v, want ErrMissingBuffer", err)
	}
}

func TestRunFrame_RateControlNeverInitialized(t *testing.T) {
	h := newHarness(t)
	fc := h.frame(t, testSequence(), ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 30})
	fc.InitRateControl = false

	if _, err := h.sched.RunFrame(context.Background(), fc); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("RunFrame error = %v, want ErrPrecondition", err)
	}
	if len(h.exec.Submissions) != 0 {
		t.Errorf("%d stages submitted", len(h.exec.Submissions))
	}
}

func TestRunFrame_MPEG2InitOnInterPicture(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.Codec = ports.CodecMPEG2
	fc := h.frame(t, seq, interPicture(1, ports.PictureP))
	fc.InitRateControl = true

	if _, err := h.sched.RunFrame(context.Background(), fc); !errors.Is(err, descriptor.ErrInvalidCombination) {
		t.Fatalf("RunFrame error = %v, want ErrInvalidCombination", err)
	}
}

func TestRunFrame_MPEG2ScalingEndsPhaseOnIntra(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.Codec = ports.CodecMPEG2
	seq.SingleTaskPhase = true
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 30})
	h.exec.StatsFunc = onTarget(fc)

	if _, err := h.sched.RunFrame(context.Background(), fc); err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	first := h.exec.Submissions[0]
	if first.Stage != ports.StageScaling || !first.LastInPhase {
		t.Errorf("first submission %s last = %v", first.Stage, first.LastInPhase)
	}
}

func TestRunFrame_WeightedPredictionCaps(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.RateControl = ports.RateControlCQP
	seq.HME = false
	seq.NumRefFrames = 8
	pic := ports.PictureParams{FrameIndex: 10, Type: ports.PictureP, QP: 30, WeightedPred: true}
	for i := 0; i < 8; i++ {
		pic.References = append(pic.References, ports.RefEntry{FrameIndex: i, List: 0, LumaWeightFlag: true})
	}
	fc := h.frameWithRing(t, seq, pic)
	h.exec.StatsFunc = onTarget(fc)

	if _, err := h.sched.RunFrame(context.Background(), fc); err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	if n := h.exec.Count(ports.StageWeightedPrediction); n != maxWeightedL0 {
		t.Errorf("weighted-prediction submitted %d times, want %d", n, maxWeightedL0)
	}
}

// frameWithRing is frame with a ring large enough for every reference.
func (h *harness) frameWithRing(t *testing.T, seq ports.SequenceParams, pic ports.PictureParams) *pipeline.FrameContext {
	t.Helper()
	pool, err := resource.New(mocks.NewBufferAllocator(),
		resource.Geometry{WidthInMB: testWidthMB, HeightInMB: testHeightMB},
		resource.Options{Slots: len(pic.References) + 1})
	if err != nil {
		t.Fatalf("resource.New failed: %v", err)
	}
	t.Cleanup(pool.Close)
	h.pool = pool
	return h.frame(t, seq, pic)
}

func TestRunFrame_PacketizesEverySlice(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.RateControl = ports.RateControlCQP
	seq.HME = false
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 30})
	fc.Bundle.Slices = []ports.SliceParams{{FirstMB: 0, NumMBs: 16}, {FirstMB: 16, NumMBs: 16}}
	h.exec.StatsFunc = onTarget(fc)

	res, err := h.sched.RunFrame(context.Background(), fc)
	if err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	if len(res.Slices) != 2 || res.Slices[0].Index != 0 || res.Slices[1].Index != 1 {
		t.Errorf("Slices = %+v", res.Slices)
	}
}

func TestRunFrame_MacroblockRateControlFeedsNextPass(t *testing.T) {
	h := newHarness(t)
	seq := testSequence()
	seq.MBBRC = true
	fc := h.frame(t, seq, ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 26})
	qpMap := make([]int8, testWidthMB*testHeightMB)
	qpMap[3] = 2
	var secondPassMap bool
	h.exec.StatsFunc = func(sub ports.Submission) (ports.StageStatistics, error) {
		switch sub.Stage {
		case ports.StageMacroblockEncode:
			bits := fc.TargetBits
			if sub.Pass == 0 {
				bits *= 4
			} else {
				secondPassMap = sub.Params.(params.MacroblockEncodeParams).UseMBQPMap
			}
			return ports.StageStatistics{ConsumedBits: bits}, nil
		case ports.StageMacroblockRateControl:
			return ports.StageStatistics{MBQPMap: qpMap}, nil
		}
		return ports.StageStatistics{}, nil
	}

	res, err := h.sched.RunFrame(context.Background(), fc)
	if err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	if !secondPassMap {
		t.Error("second pass did not use the QP map")
	}
	if len(res.MBQPMap) != len(qpMap) || res.MBQPMap[3] != 2 {
		t.Errorf("MBQPMap = %v", res.MBQPMap)
	}
	qpMap[3] = 9
	if res.MBQPMap[3] != 2 {
		t.Error("MBQPMap aliases the device statistics")
	}
}

func TestRunFrame_DebugMessagesArePreformatted(t *testing.T) {
	h := newHarness(t)
	log := mocks.NewLogger()
	h.sched = New(descriptor.NewTable(), h.builder, h.exec, h.engine, Options{
		WaitTimeout: time.Second,
		Logger:      log,
	})
	fc := h.frame(t, testSequence(), ports.PictureParams{FrameIndex: 0, Type: ports.PictureI, QP: 26, UseAsReference: true})
	h.exec.StatsFunc = func(sub ports.Submission) (ports.StageStatistics, error) {
		if sub.Stage == ports.StageMacroblockEncode {
			bits := fc.TargetBits
			if sub.Pass == 0 {
				bits *= 4
			}
			return ports.StageStatistics{ConsumedBits: bits}, nil
		}
		return ports.StageStatistics{}, nil
	}

	if _, err := h.sched.RunFrame(context.Background(), fc); err != nil {
		t.Fatalf("RunFrame failed: %v", err)
	}
	entries := log.Entries(ports.LevelDebug)
	if len(entries) == 0 {
		t.Fatal("no debug messages")
	}
	retried := false
	for _, e := range entries {
		if len(e.Args) != 0 {
			t.Errorf("debug %q logged with %d unformatted args", e.Msg, len(e.Args))
		}
		if e.Msg == "Frame 0 retrying at QP 38" {
			retried = true
		}
	}
	if !retried {
		t.Errorf("retry message missing from %+v", entries)
	}
}
