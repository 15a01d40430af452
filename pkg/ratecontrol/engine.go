package ratecontrol

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/user/framebrc/pkg/descriptor"
	"github.com/user/framebrc/pkg/ports"
)

// Config configures an Engine.
type Config struct {
	// Policy derives deviation thresholds. Nil selects ExponentialPolicy,
	// or LowDelayPolicy for low-delay sequences.
	Policy ThresholdPolicy
	// PanicStep is the minimum QP increase forced in panic mode.
	PanicStep int
	// SceneChangeRatio is the motion distortion jump, relative to the running
	// mean, that marks a scene change.
	SceneChangeRatio float64
	// FullnessWindow is the number of frames over which a fullness deviation from
	// the initial level is corrected.
	FullnessWindow int
	// ConvergenceWindow is the number of frames in the convergence ratio average.
	ConvergenceWindow int
	Logger            ports.Logger
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		PanicStep:         4,
		SceneChangeRatio:  3.0,
		FullnessWindow:    30,
		ConvergenceWindow: 30,
	}
}

// Budget is the working copy of the per-frame rate-control values. Nothing in a
// budget reaches the engine state until Commit.
type Budget struct {
	Frame       int
	Picture     ports.PictureType
	Class       descriptor.FrameClass
	SceneChange bool

	// StartFullness is the running fullness plus skipped-frame debt.
	StartFullness float64
	// Fullness is StartFullness plus this frame's input bits.
	Fullness           float64
	TargetBits         int64
	TargetSizeExceeded bool
	NumSkipFrames      int
	SkipBits           int64

	Thresholds   Thresholds
	MinQP, MaxQP int
	PanicAllowed bool
	Panic        bool
	ForceSkip    bool

	distortion int64
	passes     int
}

// Decision is the outcome of evaluating one pass.
type Decision struct {
	Pass      int
	Deviation float64 // percent of target
	Bucket    int
	QPDelta   int
	NextQP    int
	Accept    bool
	Converged bool
	Panic     bool
}

// Outcome is the accepted result of a frame.
type Outcome struct {
	ConsumedBits int64
	QP           int
	Passes       int
}

// Engine owns the RateControlState of one session. Its methods are safe for
// concurrent use, although a session drives it from a single goroutine.
type Engine struct {
	cfg Config

	mu          sync.Mutex
	state       State
	inFrame     bool
	distMean    float64
	distSamples int
	convergence []float64
	qpSum       float64
	// restore holds the state from before an InitFrame until the frame resolves.
	restore *checkpoint
}

type checkpoint struct {
	state       State
	distMean    float64
	distSamples int
	convergence []float64
}

// NewEngine creates an engine. Zero fields of cfg take their defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.PanicStep <= 0 {
		cfg.PanicStep = def.PanicStep
	}
	if cfg.SceneChangeRatio <= 0 {
		cfg.SceneChangeRatio = def.SceneChangeRatio
	}
	if cfg.FullnessWindow <= 0 {
		cfg.FullnessWindow = def.FullnessWindow
	}
	if cfg.ConvergenceWindow <= 0 {
		cfg.ConvergenceWindow = def.ConvergenceWindow
	}
	return &Engine{cfg: cfg}
}

// Init initializes or resets the state from sequence targets. fieldCoding halves
// the per-picture bit estimate. Cumulative statistics survive a reset.
func (e *Engine) Init(seq ports.SequenceParams, fieldCoding bool) error {
	return e.init(seq, fieldCoding, false)
}

// InitFrame is Init on behalf of the next frame. The previous state comes back
// if that frame is aborted instead of committed.
func (e *Engine) InitFrame(seq ports.SequenceParams, fieldCoding bool) error {
	return e.init(seq, fieldCoding, true)
}

func (e *Engine) init(seq ports.SequenceParams, fieldCoding, staged bool) error {
	if !seq.RateControl.Adaptive() {
		return ErrRateControlDisabled
	}
	if seq.FrameRateNum == 0 || seq.FrameRateDen == 0 {
		return fmt.Errorf("%w: frame rate %d/%d", ErrInvalidSequence, seq.FrameRateNum, seq.FrameRateDen)
	}

	target, peak := seq.TargetBitRate, seq.MaxBitRate
	switch seq.RateControl {
	case ports.RateControlCBR, ports.RateControlAVBR:
		peak = target
	case ports.RateControlVBR, ports.RateControlQVBR, ports.RateControlVCM:
		if peak == 0 {
			peak = target
		}
		if target > peak {
			target = peak
		}
	case ports.RateControlICQ:
		if seq.ICQQualityFactor < 1 || seq.ICQQualityFactor > 51 {
			return fmt.Errorf("%w: ICQ quality factor %d", ErrInvalidSequence, seq.ICQQualityFactor)
		}
		if peak == 0 {
			peak = target
		}
	}
	if seq.RateControl == ports.RateControlQVBR && (seq.ICQQualityFactor < 1 || seq.ICQQualityFactor > 51) {
		return fmt.Errorf("%w: QVBR quality factor %d", ErrInvalidSequence, seq.ICQQualityFactor)
	}
	if target <= 0 || peak <= 0 {
		return fmt.Errorf("%w: missing bit rate", ErrInvalidSequence)
	}

	inputBits := float64(peak) * float64(seq.FrameRateDen) / float64(seq.FrameRateNum)
	if fieldCoding {
		inputBits /= 2
	}

	bufSize := float64(seq.BufferSize)
	if bufSize <= 0 {
		bufSize = 4 * inputBits
	}
	initFull := float64(seq.InitialFullness)
	if initFull <= 0 {
		initFull = 7 * bufSize / 8
	}
	if initFull < 2*inputBits {
		initFull = 2 * inputBits
	}
	if initFull > bufSize {
		initFull = bufSize
	}
	if seq.RateControl == ports.RateControlAVBR {
		bufSize = 2 * float64(target)
		initFull = 0.75 * bufSize
	}

	ratio := inputBits / (bufSize / 30)
	ratio = math.Min(math.Max(ratio, minBPSRatio), maxBPSRatio)

	policy := e.cfg.Policy
	if policy == nil {
		if seq.LowDelay {
			policy = LowDelayPolicy{}
		} else {
			policy = ExponentialPolicy{}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFrame {
		return ErrFrameInProgress
	}

	switch {
	case !staged:
		e.restore = nil
	case e.restore == nil:
		e.restore = &checkpoint{
			state:       e.state,
			distMean:    e.distMean,
			distSamples: e.distSamples,
			convergence: slices.Clone(e.convergence),
		}
	}

	reset := e.state.Initialized
	s := e.state
	s.Initialized = true
	s.Mode = seq.RateControl
	s.TargetBitRate = target
	s.MaxBitRate = peak
	s.InputBitsPerFrame = inputBits
	s.BufferSize = bufSize
	s.InitialFullness = initFull
	s.Fullness = initFull
	s.BPSRatio = ratio
	s.Thresholds = policy.Thresholds(ratio)
	s.ICQQualityFactor = seq.ICQQualityFactor
	s.PanicDisabled = seq.PanicModeDisable
	s.FrameWeightScale = frameWeightScale(seq.GopSize, seq.GopRefDist)
	s.AVBR = AVBRParams{}
	if seq.RateControl == ports.RateControlAVBR {
		s.AVBR = newAVBRParams(seq.AVBRAccuracy, seq.AVBRConvergence)
	}
	s.Panic = false
	s.SceneChange = false
	if reset {
		s.Resets++
	}
	e.state = s
	e.distMean, e.distSamples = 0, 0
	e.convergence = e.convergence[:0]

	if e.cfg.Logger != nil {
		e.cfg.Logger.Debug("Rate control %s: %.0f bits/frame, buffer %.0f, initial %.0f, ratio %.2f",
			seq.RateControl, inputBits, bufSize, initFull, ratio)
	}
	return nil
}

// frameWeightScale normalizes class weights so that a GOP averages one nominal frame.
func frameWeightScale(gopSize, refDist int) float64 {
	if gopSize <= 1 {
		return 1
	}
	if refDist < 1 {
		refDist = 1
	}
	numP := (gopSize - 1) / refDist
	numB := gopSize - 1 - numP
	sum := descriptor.FrameWeight(descriptor.ClassI) +
		float64(numP)*descriptor.FrameWeight(descriptor.ClassP) +
		float64(numB)*descriptor.FrameWeight(descriptor.ClassB)
	return float64(gopSize) / sum
}

// Initialized reports whether Init has succeeded.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Initialized
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ReportSkipped records frames the caller skipped. Their nominal bits are added
// to the fullness of the next frame.
func (e *Engine) ReportSkipped(frames int, bits int64) {
	if frames <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.PendingSkipFrames += frames
	e.state.PendingSkipBits += bits
}

// IsSceneChange reports whether a motion distortion jump marks pic as a scene
// change. Only P and B pictures are candidates, and only once two committed
// frames have established a mean.
func (e *Engine) IsSceneChange(pic ports.PictureType, distortion int64) bool {
	if pic == ports.PictureI || distortion <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.distSamples < 2 || e.distMean <= 0 {
		return false
	}
	return float64(distortion) > e.cfg.SceneChangeRatio*e.distMean
}

// BeginFrame opens the budget of a frame.
func (e *Engine) BeginFrame(pic ports.PictureParams, sceneChange bool, distortion int64) (*Budget, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Initialized {
		return nil, ErrNotInitialized
	}
	if e.inFrame {
		return nil, ErrFrameInProgress
	}
	s := &e.state

	b := &Budget{
		Frame:       pic.FrameIndex,
		Picture:     pic.Type,
		Class:       descriptor.ClassOf(pic.Type, sceneChange),
		SceneChange: sceneChange,
		MinQP:       pic.MinQP,
		MaxQP:       pic.MaxQP,
		ForceSkip:   pic.ForceSkipEnable && !pic.DisableFrameSkip,
		distortion:  distortion,
	}
	b.NumSkipFrames = s.PendingSkipFrames + max(pic.SkippedFrames, 0)
	b.SkipBits = s.PendingSkipBits + max(pic.SkippedBits, 0)

	fullness := s.Fullness
	if b.NumSkipFrames > 0 {
		fullness += s.InputBitsPerFrame * float64(b.NumSkipFrames)
	}
	b.StartFullness = fullness
	if fullness > s.BufferSize {
		b.TargetSizeExceeded = true
	}
	fullness += s.InputBitsPerFrame
	b.Fullness = fullness

	nominal := s.InputBitsPerFrame * descriptor.FrameWeight(b.Class) * s.FrameWeightScale
	target := nominal + (b.StartFullness-s.InitialFullness)/float64(e.cfg.FullnessWindow)
	if b.TargetSizeExceeded {
		target = target * 3 / 4
	}
	target = math.Min(target, fullness)
	target = math.Max(target, s.InputBitsPerFrame/8)
	b.TargetBits = int64(target)

	b.Thresholds = s.Thresholds.For(b.Class, s.Mode)
	b.PanicAllowed = !s.PanicDisabled && !pic.MinMaxQPControl()

	e.inFrame = true
	return b, nil
}

// Evaluate compares the bits consumed by a pass against the budget and decides
// whether the frame is accepted. The pass at maxPasses is always accepted.
func (e *Engine) Evaluate(b *Budget, pass, maxPasses int, consumedBits int64, qp int) Decision {
	b.passes = pass + 1
	target := float64(max(b.TargetBits, 1))
	dev := (float64(consumedBits) - target) / target * 100

	d := Decision{Pass: pass, Deviation: dev, Bucket: b.Thresholds.Bucket(dev)}
	d.QPDelta = descriptor.QPAdjustment(b.Class, d.Bucket)
	d.Converged = d.Bucket == descriptor.CenterBucket

	if !d.Converged && d.Bucket == NumThresholds && b.PanicAllowed && pass < maxPasses {
		need := int(math.Ceil(6 * math.Log2(float64(consumedBits)/target)))
		d.QPDelta = max(d.QPDelta, need, e.cfg.PanicStep)
		d.Panic = true
	}
	d.NextQP = clampQP(qp+d.QPDelta, b.MinQP, b.MaxQP)

	switch {
	case d.Converged, pass >= maxPasses, d.NextQP == qp:
		// A panic that cannot raise QP is not a panic re-encode.
		d.Accept = true
		d.NextQP = qp
		d.QPDelta = 0
		d.Panic = false
	}
	if d.Panic {
		b.Panic = true
	}
	return d
}

// Commit applies the accepted outcome of the open frame.
func (e *Engine) Commit(b *Budget, out Outcome) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inFrame {
		return e.state, ErrNoFrame
	}
	e.inFrame = false
	e.restore = nil
	s := &e.state

	s.Fullness = math.Min(math.Max(b.Fullness-float64(out.ConsumedBits), 0), s.BufferSize)
	s.PendingSkipFrames = 0
	s.PendingSkipBits = 0
	s.Panic = b.Panic
	s.SceneChange = b.SceneChange

	s.Frames++
	s.Passes += max(out.Passes, 1)
	s.TotalBits += out.ConsumedBits
	if b.Panic {
		s.Panics++
	}
	if b.SceneChange {
		s.SceneChanges++
	}
	e.qpSum += float64(out.QP)
	s.AverageQP = e.qpSum / float64(s.Frames)

	if b.TargetBits > 0 {
		e.convergence = append(e.convergence, float64(out.ConsumedBits)/float64(b.TargetBits))
		if len(e.convergence) > e.cfg.ConvergenceWindow {
			e.convergence = e.convergence[1:]
		}
		sum := 0.0
		for _, r := range e.convergence {
			sum += r
		}
		s.ConvergenceRatio = sum / float64(len(e.convergence))
	}

	if b.Picture != ports.PictureI && b.distortion > 0 && !b.SceneChange {
		e.distSamples++
		e.distMean += (float64(b.distortion) - e.distMean) / float64(e.distSamples)
	}
	return *s, nil
}

// Abort discards the open frame and undoes an InitFrame made for it. b may be
// nil when the frame failed before its budget opened. Skipped-frame debt carries
// over to the next frame.
func (e *Engine) Abort(b *Budget) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	restored := e.restore != nil
	if restored {
		cp := e.restore
		e.restore = nil
		skipFrames, skipBits := e.state.PendingSkipFrames, e.state.PendingSkipBits
		e.state = cp.state
		e.state.PendingSkipFrames, e.state.PendingSkipBits = skipFrames, skipBits
		e.distMean, e.distSamples = cp.distMean, cp.distSamples
		e.convergence = cp.convergence
	}
	if !e.inFrame {
		if restored {
			return nil
		}
		return ErrNoFrame
	}
	e.inFrame = false
	if b != nil {
		e.state.PendingSkipFrames = b.NumSkipFrames
		e.state.PendingSkipBits = b.SkipBits
	}
	return nil
}

func clampQP(qp, minQP, maxQP int) int {
	lo, hi := 0, descriptor.NumQP-1
	if minQP > 0 {
		lo = minQP
	}
	if maxQP > 0 && maxQP < hi {
		hi = maxQP
	}
	if qp < lo {
		return lo
	}
	if qp > hi {
		return hi
	}
	return qp
}
