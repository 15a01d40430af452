// Package orchestrator drives encode sessions. A Session feeds parameter
// bundles through the stage scheduler, commits rate control, keeps reference
// pictures resident and hands finished frames to the packetizer.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"time"

	"github.com/ideamans/go-l10n"
	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/params"
	"github.com/user/framebrc/pkg/pipeline"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
	"github.com/user/framebrc/pkg/resource"
	"github.com/user/framebrc/pkg/scheduler"
)

var (
	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("orchestrator: missing dependency")
	// ErrInvalidBundle is returned for a nil bundle or a sequence the session cannot encode.
	ErrInvalidBundle = errors.New("orchestrator: invalid parameter bundle")
)

// Config contains the session configuration.
type Config struct {
	// Resources
	Slots          int // ring size, raised to what the reference structure needs
	AcquireTimeout time.Duration
	WaitTimeout    time.Duration

	// Rate control
	Policy           ratecontrol.ThresholdPolicy // nil selects by sequence
	PanicStep        int
	SceneChangeRatio float64

	// Regions
	ROISmoothing int

	// Debug
	MapCellSize int
	QPLowColor  color.Color // nil selects the built-in palette
	QPHighColor color.Color
	GridColor   color.Color
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Slots:            3,
		AcquireTimeout:   resource.DefaultAcquireTimeout,
		WaitTimeout:      scheduler.DefaultWaitTimeout,
		PanicStep:        4,
		SceneChangeRatio: 3,
		ROISmoothing:     1,
		MapCellSize:      8,
	}
}

// Dependencies are the collaborators of a session. Telemetry, Sink and
// Renderer are optional.
type Dependencies struct {
	Executor   ports.DeviceExecutor
	Allocator  ports.BufferAllocator
	Packetizer ports.Packetizer
	Telemetry  ports.TelemetrySink
	Sink       ports.DebugSink
	Renderer   ports.Renderer
	Logger     ports.Logger
}

// FrameResult is the outcome of one EncodeFrame call.
type FrameResult struct {
	Frame       int
	Type        ports.PictureType
	Field       ports.FieldSelector
	QP          int
	Passes      int
	Bits        int64
	TargetBits  int64
	Fullness    int64
	Slices      int
	Converged   bool
	Panic       bool
	SceneChange bool
	StaticFrame bool
	Dropped     bool
	Decisions   []ratecontrol.Decision
}

// RunResult summarizes a Run.
type RunResult struct {
	SessionID   string
	Counters    Counters
	RateControl ratecontrol.State
	Pool        resource.Stats
	Elapsed     time.Duration
}

// retained is a reader lease keeping a reference picture resident.
type retained struct {
	frame int
	lease *resource.Lease
}

// Session encodes the frames of one sequence. It is driven by one goroutine.
type Session struct {
	cfg    Config
	deps   Dependencies
	sc     *SessionContext
	logger ports.Logger

	table   *descriptor.Table
	builder *params.Builder
	engine  *ratecontrol.Engine
	sched   *scheduler.Scheduler

	pool *resource.Pool
	geom resource.Geometry

	dpb       []retained
	field     *retained // first field waiting for its second field
	lastRecon int
	// pendingReset keeps a rate control reset due until a frame carrying it commits.
	pendingReset bool

	terminated error
	closed     bool
}

// New creates a session. Device buffers are allocated when the first frame
// arrives, sized for its sequence.
func New(cfg Config, deps Dependencies) (*Session, error) {
	switch {
	case deps.Executor == nil:
		return nil, fmt.Errorf("%w: device executor", ErrMissingDependency)
	case deps.Allocator == nil:
		return nil, fmt.Errorf("%w: buffer allocator", ErrMissingDependency)
	case deps.Packetizer == nil:
		return nil, fmt.Errorf("%w: packetizer", ErrMissingDependency)
	case deps.Logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}
	if cfg.MapCellSize <= 0 {
		cfg.MapCellSize = DefaultConfig().MapCellSize
	}

	s := &Session{
		cfg:       cfg,
		deps:      deps,
		sc:        newSessionContext(deps.Logger, deps.Sink),
		logger:    deps.Logger,
		table:     descriptor.NewTable(),
		lastRecon: -1,
	}
	s.builder = params.NewBuilder(params.Options{
		ROISmoothing: cfg.ROISmoothing,
		Logger:       deps.Logger.WithComponent("params"),
	})
	s.engine = ratecontrol.NewEngine(ratecontrol.Config{
		Policy:           cfg.Policy,
		PanicStep:        cfg.PanicStep,
		SceneChangeRatio: cfg.SceneChangeRatio,
		Logger:           deps.Logger.WithComponent("ratecontrol"),
	})
	s.sched = scheduler.New(s.table, s.builder, deps.Executor, s.engine, scheduler.Options{
		WaitTimeout: cfg.WaitTimeout,
		Sink:        deps.Sink,
		Logger:      deps.Logger.WithComponent("scheduler"),
	})
	return s, nil
}

// Context returns the session context.
func (s *Session) Context() *SessionContext {
	return s.sc
}

// RateControl returns a snapshot of the rate control state.
func (s *Session) RateControl() ratecontrol.State {
	return s.engine.Snapshot()
}

// SkipFrames records frames the caller dropped before encoding. Their bits
// are charged to the next encoded frame.
func (s *Session) SkipFrames(frames int, bits int64) {
	s.engine.ReportSkipped(frames, bits)
	s.logger.Debug(l10n.F("Skipped %d frames (%d bits)", frames, bits))
}

// Run encodes every bundle of provider. Dropped frames are logged and the
// run continues; a session-fatal error ends it.
func (s *Session) Run(ctx context.Context, provider ports.ParameterBundleProvider) (RunResult, error) {
	start := time.Now()
	s.logger.Info(l10n.F("Starting session %s", s.sc.ID))

	for {
		bundle, err := provider.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.runResult(start), fmt.Errorf("parameter provider: %w", err)
		}

		if _, err := s.EncodeFrame(ctx, bundle); err != nil {
			var fe *FrameError
			if errors.As(err, &fe) && !fe.Kind.Fatal() {
				continue
			}
			return s.runResult(start), err
		}
	}

	res := s.runResult(start)
	s.logger.Info(l10n.F("Session completed: %d frames encoded, %d dropped", res.Counters.Encoded, res.Counters.Dropped))
	return res, nil
}

func (s *Session) runResult(start time.Time) RunResult {
	r := RunResult{
		SessionID:   s.sc.ID,
		Counters:    s.sc.Counters(),
		RateControl: s.engine.Snapshot(),
		Elapsed:     time.Since(start),
	}
	if s.pool != nil {
		r.Pool = s.pool.Stats()
	}
	return r
}

// EncodeFrame runs one picture through every stage and packetizes it.
// A failed frame returns a *FrameError; after a session-fatal failure every
// call returns ErrSessionTerminated.
func (s *Session) EncodeFrame(ctx context.Context, bundle *ports.ParameterBundle) (FrameResult, error) {
	if s.terminated != nil {
		return FrameResult{}, fmt.Errorf("%w: %v", ErrSessionTerminated, s.terminated)
	}
	if s.closed {
		return FrameResult{}, ErrSessionTerminated
	}
	if bundle == nil {
		return FrameResult{}, &FrameError{Kind: KindConfiguration, Frame: -1, Err: ErrInvalidBundle}
	}
	index := bundle.Picture.FrameIndex

	if err := ctx.Err(); err != nil {
		return s.fail(ctx, nil, index, err)
	}
	if err := s.open(bundle.Sequence); err != nil {
		return s.fail(ctx, nil, index, err)
	}

	fc, err := s.prepare(ctx, bundle)
	if err != nil {
		return s.fail(ctx, fc, index, err)
	}

	res, err := s.sched.RunFrame(ctx, fc)
	if err != nil {
		return s.fail(ctx, fc, index, err)
	}

	frame := ports.PacketizedFrame{
		FrameIndex: index,
		Type:       fc.Picture,
		Field:      fc.Field,
		QP:         res.QP,
		Passes:     res.Passes,
		TotalBits:  res.ConsumedBits,
		Slices:     res.Slices,
	}
	if err := s.deps.Packetizer.Packetize(ctx, frame); err != nil {
		fe := &FrameError{Kind: KindPacketizer, Frame: index, Err: err}
		if ctx.Err() != nil {
			fe.Kind = KindCanceled
		}
		return s.drop(fc, fe)
	}

	var fullness int64
	if fc.Budget != nil {
		state, err := s.engine.Commit(fc.Budget, ratecontrol.Outcome{
			ConsumedBits: res.ConsumedBits,
			QP:           res.QP,
			Passes:       res.Passes,
		})
		if err != nil {
			s.logger.Warn(l10n.F("Rate control commit failed for frame %d: %s", index, err))
		} else if fc.InitRateControl {
			s.pendingReset = false
		}
		fullness = int64(state.Fullness)
	}

	result := FrameResult{
		Frame:       index,
		Type:        fc.Picture,
		Field:       fc.Field,
		QP:          res.QP,
		Passes:      res.Passes,
		Bits:        res.ConsumedBits,
		TargetBits:  fc.TargetBits,
		Fullness:    fullness,
		Slices:      len(res.Slices),
		Converged:   res.Converged,
		Panic:       res.Panic,
		SceneChange: res.SceneChange,
		StaticFrame: res.StaticFrame,
		Decisions:   res.Decisions,
	}

	s.saveMaps(fc, res)
	s.finish(fc)
	s.sc.recordEncoded(result)
	s.report(result)
	s.logger.Info(l10n.F("Frame %d (%s) encoded: QP %d, %d passes, %d bits", index, fc.Picture, res.QP, res.Passes, res.ConsumedBits))
	if !res.Converged && fc.BRC {
		s.logger.Debug(l10n.F("Frame %d accepted without converging", index))
	}
	return result, nil
}

// open allocates the resource ring for the first sequence seen.
func (s *Session) open(seq ports.SequenceParams) error {
	geom := resource.Geometry{WidthInMB: seq.WidthInMB, HeightInMB: seq.HeightInMB}
	if geom.NumMBs() <= 0 {
		return fmt.Errorf("%w: empty frame %dx%d MBs", ErrInvalidBundle, geom.WidthInMB, geom.HeightInMB)
	}
	if s.pool != nil {
		if geom != s.geom {
			return fmt.Errorf("%w: frame size changed from %dx%d to %dx%d MBs",
				ErrInvalidBundle, s.geom.WidthInMB, s.geom.HeightInMB, geom.WidthInMB, geom.HeightInMB)
		}
		return nil
	}

	slots := max(s.cfg.Slots, requiredSlots(seq))
	pool, err := resource.New(s.deps.Allocator, geom, resource.Options{
		Slots:          slots,
		AcquireTimeout: s.cfg.AcquireTimeout,
		Logger:         s.logger.WithComponent("pool"),
	})
	if err != nil {
		return err
	}
	s.pool = pool
	s.geom = geom
	s.logger.Info(l10n.F("Allocated %d slots for %dx%d MBs (%s, %s)", slots, geom.WidthInMB, geom.HeightInMB, seq.Codec, seq.RateControl))
	return nil
}

// requiredSlots is the ring size at which the oldest retained reference has
// retired before the ring comes back to its slot.
func requiredSlots(seq ports.SequenceParams) int {
	return max(seq.NumRefFrames, 1)*max(seq.GopRefDist, 1) + 1
}

// prepare builds the frame context and leases its slot and references.
func (s *Session) prepare(ctx context.Context, bundle *ports.ParameterBundle) (*pipeline.FrameContext, error) {
	pic := bundle.Picture
	fc := pipeline.NewFrameContext(bundle)
	fc.InitRateControl = fc.BRC && (!s.engine.Initialized() || pic.ResetRateControl || s.pendingReset)
	fc.PreviousReconstruction = s.lastRecon

	if pic.Field.IsField() && s.field != nil && s.field.frame == pic.FrameIndex {
		fc.SecondField = true
		fc.Slot = s.field.lease
		s.field = nil
	} else {
		s.releaseField()
		lease, err := s.pool.Acquire(ctx, pic.FrameIndex)
		if err != nil {
			return fc, err
		}
		fc.Slot = lease
	}
	fc.RecycledIndex = fc.Slot.Index()

	for _, ref := range pic.References {
		lease, err := s.pool.Reference(ref.FrameIndex)
		if err != nil {
			return fc, err
		}
		fc.References = append(fc.References, pipeline.Reference{Entry: ref, Lease: lease})
	}
	return fc, nil
}

// finish retains a reference picture and releases the frame's leases. The
// first field of a pair keeps its slot for the second field.
func (s *Session) finish(fc *pipeline.FrameContext) {
	releaseReferences(fc)
	s.lastRecon = fc.Index

	if fc.Field.IsField() && !fc.SecondField {
		s.field = &retained{frame: fc.Index, lease: fc.Slot}
		return
	}
	if fc.PictureParams().UseAsReference {
		s.retain(fc.Index, fc.Slot.Borrow(), fc.Sequence().NumRefFrames)
	}
	fc.Slot.Release()
}

// retain adds a reference picture and evicts the oldest beyond numRef.
func (s *Session) retain(frame int, lease *resource.Lease, numRef int) {
	s.dpb = append(s.dpb, retained{frame: frame, lease: lease})
	for len(s.dpb) > max(numRef, 1) {
		s.dpb[0].lease.Release()
		s.dpb = s.dpb[1:]
	}
}

func (s *Session) releaseField() {
	if s.field != nil {
		s.logger.Warn(l10n.F("Frame %d: second field never arrived", s.field.frame))
		s.field.lease.Release()
		s.field = nil
	}
}

func releaseReferences(fc *pipeline.FrameContext) {
	for _, r := range fc.References {
		if r.Lease != nil {
			r.Lease.Release()
		}
	}
	fc.References = nil
}

func (s *Session) fail(ctx context.Context, fc *pipeline.FrameContext, frame int, err error) (FrameResult, error) {
	return s.drop(fc, newFrameError(ctx, frame, err))
}

// drop discards a frame: the budget is aborted, the slot is invalidated and
// released without retention. Session-fatal kinds terminate the session.
func (s *Session) drop(fc *pipeline.FrameContext, fe *FrameError) (FrameResult, error) {
	result := FrameResult{Frame: fe.Frame, Dropped: true}
	if fc != nil {
		result.Type = fc.Picture
		result.Field = fc.Field
		result.TargetBits = fc.TargetBits
		if fc.Budget != nil || fc.InitRateControl {
			if err := s.engine.Abort(fc.Budget); err != nil && !errors.Is(err, ratecontrol.ErrNoFrame) {
				s.logger.Warn(l10n.F("Rate control abort failed for frame %d: %s", fe.Frame, err))
			}
		}
		if fc.InitRateControl {
			s.pendingReset = true
		}
		releaseReferences(fc)
		if fc.Slot != nil {
			fc.Slot.Invalidate()
			fc.Slot.Release()
		}
	}
	s.lastRecon = -1

	s.sc.recordDropped()
	s.report(result)
	if fe.Kind.Fatal() {
		s.terminated = fe
		s.logger.Error(l10n.F("Session terminated at frame %d: %s", fe.Frame, fe))
	} else {
		s.logger.Warn(l10n.F("Frame %d dropped: %s", fe.Frame, fe))
	}
	return result, fe
}

func (s *Session) report(r FrameResult) {
	if s.deps.Telemetry == nil {
		return
	}
	s.deps.Telemetry.Report(ports.TelemetryReport{
		SessionID:    s.sc.ID,
		FrameIndex:   r.Frame,
		Type:         r.Type,
		QP:           r.QP,
		Passes:       r.Passes,
		Panic:        r.Panic,
		SceneChange:  r.SceneChange,
		Converged:    r.Converged,
		Dropped:      r.Dropped,
		TargetBits:   r.TargetBits,
		ConsumedBits: r.Bits,
		Fullness:     r.Fullness,
	})
}

var (
	qpLow   = color.RGBA{R: 40, G: 90, B: 220, A: 255}
	qpHigh  = color.RGBA{R: 230, G: 60, B: 40, A: 255}
	roiLow  = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	roiHigh = color.RGBA{R: 80, G: 220, B: 90, A: 255}
	grid    = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

// saveMaps renders the final QP map and the region map of a frame.
func (s *Session) saveMaps(fc *pipeline.FrameContext, res scheduler.Result) {
	if !s.sc.debugEnabled() || s.deps.Renderer == nil {
		return
	}
	w, h := s.geom.WidthInMB, s.geom.HeightInMB
	if res.MBQPMap != nil {
		style := ports.MapStyle{
			CellSize: s.cfg.MapCellSize,
			Min:      -12,
			Max:      12,
			Low:      orColor(s.cfg.QPLowColor, qpLow),
			High:     orColor(s.cfg.QPHighColor, qpHigh),
			Grid:     orColor(s.cfg.GridColor, grid),
		}
		img := s.deps.Renderer.RenderMacroblockMap(res.MBQPMap, w, h, style)
		if err := s.sc.Sink.SaveQPMap(fc.Index, res.Passes-1, img); err != nil {
			s.logger.Warn(l10n.F("Failed to save QP map: %s", err))
		}
	}
	if fc.ROI.Active() {
		style := ports.MapStyle{CellSize: s.cfg.MapCellSize, Min: -51, Max: 51, Low: roiLow, High: roiHigh, Grid: orColor(s.cfg.GridColor, grid)}
		img := s.deps.Renderer.RenderMacroblockMap(fc.ROI.Values, w, h, style)
		if err := s.sc.Sink.SaveROIMap(fc.Index, img); err != nil {
			s.logger.Warn(l10n.F("Failed to save ROI map: %s", err))
		}
	}
}

func orColor(c, fallback color.Color) color.Color {
	if c == nil {
		return fallback
	}
	return c
}

// sessionDump is the debug record written when a session closes.
type sessionDump struct {
	ID          string            `json:"id"`
	Counters    Counters          `json:"counters"`
	RateControl ratecontrol.State `json:"rate_control"`
	Pool        resource.Stats    `json:"pool"`
}

// Close releases every lease and buffer and closes the packetizer.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.field != nil {
		s.field.lease.Release()
		s.field = nil
	}
	for _, r := range s.dpb {
		r.lease.Release()
	}
	s.dpb = nil

	dump := sessionDump{ID: s.sc.ID, Counters: s.sc.Counters(), RateControl: s.engine.Snapshot()}
	if s.pool != nil {
		dump.Pool = s.pool.Stats()
		s.pool.Close()
	}
	if s.sc.debugEnabled() {
		if data, err := json.MarshalIndent(dump, "", "  "); err == nil {
			if err := s.sc.Sink.SaveSessionJSON(data); err != nil {
				s.logger.Warn(l10n.F("Failed to save session state: %s", err))
			}
		}
	}

	if err := s.deps.Packetizer.Close(); err != nil {
		return fmt.Errorf("close packetizer: %w", err)
	}
	return nil
}
