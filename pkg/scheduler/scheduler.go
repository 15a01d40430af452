// Package scheduler runs the per-frame stage state machine: it submits stages
// phase by phase, enforces their dependencies, waits at sync points and loops
// the encode passes until the rate control accepts the frame.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ideamans/go-l10n"

	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/params"
	"github.com/user/framebrc/pkg/pipeline"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
	"github.com/user/framebrc/pkg/resource"
)

var (
	// ErrPrecondition is returned when a stage is due before one of its predecessors completed.
	ErrPrecondition = errors.New("scheduler: stage precondition not met")
	// ErrSyncTimeout is returned when the device does not complete a phase in time.
	ErrSyncTimeout = errors.New("scheduler: device wait timed out")
)

// StageError attributes a frame failure to the stage that raised it.
type StageError struct {
	Stage ports.StageKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(kind ports.StageKind, err error) error {
	return &StageError{Stage: kind, Err: err}
}

// DefaultWaitTimeout bounds each sync point.
const DefaultWaitTimeout = 5 * time.Second

const (
	maxWeightedL0 = 6
	maxWeightedL1 = 2
)

// Options configures a Scheduler.
type Options struct {
	WaitTimeout time.Duration
	Sink        ports.DebugSink
	Logger      ports.Logger
}

// Scheduler drives frames through the device. A scheduler serves one session
// and runs one frame at a time.
type Scheduler struct {
	table   *descriptor.Table
	builder *params.Builder
	exec    ports.DeviceExecutor
	engine  *ratecontrol.Engine
	sink    ports.DebugSink
	logger  ports.Logger
	timeout time.Duration
}

// New creates a scheduler. engine may be nil for constant-QP sessions.
func New(table *descriptor.Table, builder *params.Builder, exec ports.DeviceExecutor, engine *ratecontrol.Engine, opts Options) *Scheduler {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	return &Scheduler{
		table:   table,
		builder: builder,
		exec:    exec,
		engine:  engine,
		sink:    opts.Sink,
		logger:  opts.Logger,
		timeout: opts.WaitTimeout,
	}
}

// Result is the outcome of a frame that ran to completion.
type Result struct {
	Frame        int
	Passes       int
	QP           int
	ConsumedBits int64
	AverageQP    float64
	Converged    bool
	Panic        bool
	SceneChange  bool
	StaticFrame  bool
	Decisions    []ratecontrol.Decision
	Slices       []ports.SliceOutput
	// MBQPMap is the last per-MB QP map produced, nil without MB rate control.
	MBQPMap     []int8
	Submissions int
}

// RunFrame runs every stage of fc. On failure every outstanding stage is
// cancelled and the frame's slot is invalidated; the caller aborts the budget.
func (s *Scheduler) RunFrame(ctx context.Context, fc *pipeline.FrameContext) (Result, error) {
	r := &frameRun{
		s:      s,
		fc:     fc,
		seq:    fc.Sequence(),
		pic:    fc.PictureParams(),
		done:   make(map[stageRef]bool),
		queued: make(map[stageRef]bool),
	}
	res, err := r.run(ctx)
	if err != nil {
		r.cancelOutstanding()
		if fc.Slot != nil {
			fc.Slot.Invalidate()
		}
		return Result{Frame: fc.Index, Submissions: r.submissions}, err
	}
	return res, nil
}

type stageRef struct {
	kind ports.StageKind
	pass int
}

type step struct {
	kind  ports.StageKind
	level pipeline.HMELevel
	ref   int
	slice int
}

type outstanding struct {
	token ports.CompletionToken
	step  step
}

type frameRun struct {
	s   *Scheduler
	fc  *pipeline.FrameContext
	seq ports.SequenceParams
	pic ports.PictureParams

	done        map[stageRef]bool
	queued      map[stageRef]bool
	pending     []outstanding
	submissions int
	finalPass   int
}

func (r *frameRun) debug(msg string, args ...interface{}) {
	if r.s.logger != nil {
		r.s.logger.Debug(l10n.F(msg, args...))
	}
}

func (r *frameRun) run(ctx context.Context) (Result, error) {
	fc := r.fc
	if fc.Slot == nil {
		return Result{}, fmt.Errorf("%w: frame %d has no slot", resource.ErrMissingBuffer, fc.Index)
	}
	if err := r.checkRateControl(); err != nil {
		return Result{}, err
	}
	r.s.builder.PrepareFrame(fc)

	// Phase A: scaling and motion analysis.
	if err := r.runBatch(ctx, r.analysisSteps(), 0); err != nil {
		return Result{}, err
	}

	if fc.BRC {
		if err := r.openBudget(); err != nil {
			return Result{}, err
		}
	}

	// Phase B: encode passes.
	res := Result{Frame: fc.Index}
	for pass := 0; ; pass++ {
		fc.Pass = pass
		stats, err := r.runPass(ctx, pass)
		if err != nil {
			return Result{}, err
		}
		res.ConsumedBits = stats.consumed
		res.AverageQP = stats.averageQP
		res.Passes = pass + 1

		if !fc.BRC {
			res.Converged = true
			break
		}
		d := r.s.engine.Evaluate(fc.Budget, pass, fc.MaxPasses, stats.consumed, fc.QP)
		res.Decisions = append(res.Decisions, d)
		r.debug("Frame %d pass %d: %d bits for %d target (%.1f%%, bucket %d)",
			fc.Index, pass, stats.consumed, fc.TargetBits, d.Deviation, d.Bucket)
		if d.Panic {
			fc.Panic = true
		}
		if d.Accept {
			res.Converged = d.Converged
			break
		}
		r.debug("Frame %d retrying at QP %d", fc.Index, d.NextQP)
		fc.QP = d.NextQP
	}
	r.finalPass = fc.Pass

	// Phase C: weighted prediction and packetization.
	slices, err := r.runOutput(ctx)
	if err != nil {
		return Result{}, err
	}

	res.QP = fc.QP
	res.Panic = fc.Panic
	res.SceneChange = fc.Analysis.SceneChange
	res.StaticFrame = fc.Analysis.StaticFrame
	res.MBQPMap = fc.Analysis.MBQPMap
	res.Slices = slices
	res.Submissions = r.submissions
	return res, nil
}

// checkRateControl validates the rate control preconditions before anything is submitted.
func (r *frameRun) checkRateControl() error {
	fc := r.fc
	if !fc.BRC {
		return nil
	}
	if r.s.engine == nil {
		return stageError(ports.StageRateControlUpdate, fmt.Errorf("%w: no rate control engine", ErrPrecondition))
	}
	if fc.InitRateControl {
		if _, err := r.s.table.Lookup(fc.Key(ports.StageRateControlInit)); err != nil {
			return stageError(ports.StageRateControlInit, err)
		}
		return nil
	}
	if !r.s.engine.Initialized() {
		return stageError(ports.StageRateControlUpdate, fmt.Errorf("%w: rate control never initialized", ErrPrecondition))
	}
	// Initialized by an earlier frame of the session.
	r.done[stageRef{ports.StageRateControlInit, 0}] = true
	return nil
}

// openBudget initializes the engine if due and opens the frame budget. The
// initialization is undone by Abort when the frame is dropped.
func (r *frameRun) openBudget() error {
	fc, eng := r.fc, r.s.engine
	if fc.InitRateControl {
		if err := eng.InitFrame(r.seq, fc.Field.IsField()); err != nil {
			return stageError(ports.StageRateControlInit, err)
		}
	}
	if r.seq.SceneChangeDetection && fc.Analysis.MotionSearched {
		fc.Analysis.SceneChange = eng.IsSceneChange(fc.Picture, fc.Analysis.Distortion)
		if fc.Analysis.SceneChange {
			r.debug("Scene change detected at frame %d", fc.Index)
		}
	}
	fc.RateControl = eng.Snapshot()
	b, err := eng.BeginFrame(r.pic, fc.Analysis.SceneChange, fc.Analysis.Distortion)
	if err != nil {
		return stageError(ports.StageRateControlUpdate, err)
	}
	fc.Budget = b
	fc.TargetBits = b.TargetBits
	return nil
}

func (r *frameRun) supports(kind ports.StageKind) bool {
	_, err := r.s.table.Lookup(r.fc.Key(kind))
	return err == nil
}

func (r *frameRun) analysisSteps() []step {
	fc := r.fc
	var steps []step
	if !fc.SecondField && (r.seq.HME || fc.BRC) {
		steps = append(steps, step{kind: ports.StageScaling})
	}
	if fc.Picture == ports.PictureI {
		return steps
	}
	levels := pipeline.HMELevels(r.seq)
	for _, l := range levels {
		steps = append(steps, step{kind: ports.StageMotionSearch, level: l})
	}
	if len(levels) > 0 && r.seq.StaticFrameDetection && r.supports(ports.StageStaticFrameCheck) {
		steps = append(steps, step{kind: ports.StageStaticFrameCheck})
	}
	return steps
}

type passStats struct {
	consumed  int64
	averageQP float64
}

func (r *frameRun) runPass(ctx context.Context, pass int) (passStats, error) {
	fc := r.fc
	var steps []step
	if pass == 0 && fc.BRC && fc.InitRateControl {
		steps = append(steps, step{kind: ports.StageRateControlInit})
	}
	if pass == 0 && fc.BRC && r.seq.IntraDistortion &&
		(fc.Picture == ports.PictureI || fc.Analysis.SceneChange) && r.supports(ports.StageIntraDistortion) {
		steps = append(steps, step{kind: ports.StageIntraDistortion})
	}
	steps = append(steps, step{kind: ports.StageMacroblockEncode})
	if fc.BRC {
		steps = append(steps, step{kind: ports.StageRateControlUpdate})
		if (r.seq.MBBRC || fc.ROI.Active()) && r.supports(ports.StageMacroblockRateControl) {
			steps = append(steps, step{kind: ports.StageMacroblockRateControl})
		}
	}

	var out passStats
	err := r.runBatchWith(ctx, steps, pass, func(st step, stats ports.StageStatistics) {
		if st.kind == ports.StageMacroblockEncode {
			out.consumed = stats.ConsumedBits
			out.averageQP = stats.AverageQP
		}
	})
	return out, err
}

func (r *frameRun) runOutput(ctx context.Context) ([]ports.SliceOutput, error) {
	fc := r.fc
	var steps []step
	if r.weighted() && r.supports(ports.StageWeightedPrediction) {
		var l0, l1 int
		for i, ref := range fc.References {
			if !ref.Entry.LumaWeightFlag {
				continue
			}
			if ref.Entry.List == 0 && l0 < maxWeightedL0 {
				l0++
				steps = append(steps, step{kind: ports.StageWeightedPrediction, ref: i})
			} else if ref.Entry.List == 1 && l1 < maxWeightedL1 {
				l1++
				steps = append(steps, step{kind: ports.StageWeightedPrediction, ref: i})
			}
		}
	}
	for i := range fc.Slices() {
		steps = append(steps, step{kind: ports.StageSlicePacketize, slice: i})
	}

	var slices []ports.SliceOutput
	err := r.runBatchWith(ctx, steps, r.finalPass, func(st step, stats ports.StageStatistics) {
		if st.kind == ports.StageSlicePacketize {
			slices = append(slices, ports.SliceOutput{Index: st.slice, Data: stats.Payload, BitLength: stats.BitLength})
		}
	})
	return slices, err
}

func (r *frameRun) weighted() bool {
	switch r.fc.Picture {
	case ports.PictureP:
		return r.pic.WeightedPred
	case ports.PictureB:
		return r.pic.WeightedBipredIDC == 1
	}
	return false
}

func (r *frameRun) runBatch(ctx context.Context, steps []step, pass int) error {
	return r.runBatchWith(ctx, steps, pass, nil)
}

// runBatchWith submits steps as one phase, waits for all of them and feeds
// each completion to collect after the frame context absorbed it.
func (r *frameRun) runBatchWith(ctx context.Context, steps []step, pass int, collect func(step, ports.StageStatistics)) error {
	if len(steps) == 0 {
		return nil
	}
	clear(r.queued)
	for i, st := range steps {
		first, last := r.phaseFlags(i, len(steps), st)
		if err := r.submit(ctx, st, pass, first, last); err != nil {
			return err
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()
	for len(r.pending) > 0 {
		p := r.pending[0]
		r.pending = r.pending[1:]
		stats, err := r.s.exec.Wait(waitCtx, p.token)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				err = ctx.Err()
			case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
				err = fmt.Errorf("%w after %s: %v", ErrSyncTimeout, r.s.timeout, err)
			}
			return stageError(p.step.kind, err)
		}
		r.absorb(p.step, stats)
		if collect != nil {
			collect(p.step, stats)
		}
	}
	for ref := range r.queued {
		r.done[ref] = true
	}
	clear(r.queued)
	return nil
}

// phaseFlags marks the batch boundaries. Without single-task phases every
// stage is a phase of its own.
func (r *frameRun) phaseFlags(i, n int, st step) (first, last bool) {
	single := r.seq.SingleTaskPhase
	first = !single || i == 0
	last = !single || i == n-1
	if r.fc.Codec == ports.CodecMPEG2 && st.kind == ports.StageScaling && r.fc.Picture == ports.PictureI {
		last = true
	}
	return first, last
}

func (r *frameRun) predecessors(kind ports.StageKind, pass int) []stageRef {
	fc := r.fc
	hme := fc.Picture != ports.PictureI && len(pipeline.HMELevels(r.seq)) > 0
	var preds []stageRef
	switch kind {
	case ports.StageStaticFrameCheck:
		preds = append(preds, stageRef{ports.StageMotionSearch, 0})
	case ports.StageMacroblockEncode:
		if hme {
			preds = append(preds, stageRef{ports.StageMotionSearch, 0})
		}
		if pass > 0 && fc.BRC {
			preds = append(preds, stageRef{ports.StageRateControlUpdate, pass - 1})
		}
	case ports.StageRateControlUpdate:
		preds = append(preds, stageRef{ports.StageRateControlInit, 0}, stageRef{ports.StageMacroblockEncode, pass})
	case ports.StageMacroblockRateControl:
		preds = append(preds, stageRef{ports.StageMacroblockEncode, pass}, stageRef{ports.StageRateControlUpdate, pass})
	case ports.StageSlicePacketize:
		preds = append(preds, stageRef{ports.StageMacroblockEncode, r.finalPass})
		if fc.BRC {
			preds = append(preds, stageRef{ports.StageRateControlUpdate, r.finalPass})
		}
	}
	return preds
}

// submit builds and submits one stage. A predecessor counts once it completed
// or is queued ahead in the open batch, which the device runs in order.
func (r *frameRun) submit(ctx context.Context, st step, pass int, first, last bool) error {
	fc := r.fc
	fc.Level, fc.RefIndex, fc.SliceIndex = st.level, st.ref, st.slice

	for _, p := range r.predecessors(st.kind, pass) {
		if !r.done[p] && !r.queued[p] {
			return stageError(st.kind, fmt.Errorf("%w: %s pass %d has not run", ErrPrecondition, p.kind, p.pass))
		}
	}

	desc, err := r.s.table.Lookup(fc.Key(st.kind))
	if err != nil {
		return stageError(st.kind, err)
	}
	stage, err := r.s.builder.Stage(st.kind)
	if err != nil {
		return stageError(st.kind, err)
	}
	block, err := stage.BuildParameters(fc)
	if err != nil {
		return stageError(st.kind, err)
	}
	bindings, err := stage.BindBuffers(fc, desc)
	if err != nil {
		return stageError(st.kind, err)
	}
	if err := checkBindings(desc, bindings); err != nil {
		return stageError(st.kind, err)
	}

	sub := ports.Submission{
		Frame:        fc.Index,
		Pass:         pass,
		Stage:        st.kind,
		Kernel:       desc.Kernel,
		Params:       block,
		ParamSize:    desc.ParamSize,
		Buffers:      bindings,
		FirstInPhase: first,
		LastInPhase:  last,
	}
	r.dump(sub)

	token, err := stage.Execute(ctx, r.s.exec, sub)
	if err != nil {
		return stageError(st.kind, err)
	}
	r.pending = append(r.pending, outstanding{token: token, step: st})
	r.queued[stageRef{st.kind, pass}] = true
	r.submissions++
	return nil
}

// checkBindings verifies that every role the descriptor requires is bound.
func checkBindings(desc descriptor.Descriptor, bindings []ports.BufferBinding) error {
	var have [ports.NumBufferRoles]bool
	for _, b := range bindings {
		if b.View.Handle.Valid() && int(b.Role) < ports.NumBufferRoles {
			have[b.Role] = true
		}
	}
	for _, roles := range [][]ports.BufferRole{desc.Inputs, desc.Outputs} {
		for _, role := range roles {
			if !have[role] {
				return fmt.Errorf("%w: %s requires %s", resource.ErrMissingBuffer, desc.Kernel, role)
			}
		}
	}
	return nil
}

// absorb records the analysis results of a completed stage in the frame context.
func (r *frameRun) absorb(st step, stats ports.StageStatistics) {
	a := &r.fc.Analysis
	switch st.kind {
	case ports.StageMotionSearch:
		if st.level == pipeline.HME4x {
			a.MotionSearched = true
			a.Distortion = stats.Distortion
		}
	case ports.StageStaticFrameCheck:
		a.StaticFrame = stats.StaticFrame
	case ports.StageIntraDistortion:
		a.IntraCost = stats.IntraCost
	case ports.StageMacroblockRateControl:
		if len(stats.MBQPMap) > 0 {
			a.MBQPMap = append([]int8(nil), stats.MBQPMap...)
		}
	}
}

func (r *frameRun) dump(sub ports.Submission) {
	if r.s.sink == nil || !r.s.sink.Enabled() {
		return
	}
	data, err := json.MarshalIndent(sub.Params, "", "  ")
	if err != nil {
		return
	}
	if err := r.s.sink.SaveParameterBlock(sub.Frame, sub.Pass, sub.Stage, data); err != nil {
		r.debug("Failed to save parameter block: %s", err)
	}
}

func (r *frameRun) cancelOutstanding() {
	for _, p := range r.pending {
		r.s.exec.Cancel(p.token)
	}
	if n := len(r.pending); n > 0 {
		r.debug("Cancelled %d outstanding stages of frame %d", n, r.fc.Index)
	}
	r.pending = nil
}
