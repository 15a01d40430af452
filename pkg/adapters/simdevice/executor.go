// Package simdevice provides a software DeviceExecutor and BufferAllocator.
//
// The executor does not encode pixels. It models each stage's read-back from a
// per-frame complexity value so the scheduler and the rate-control loop can be
// driven end to end without hardware.
package simdevice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/user/framebrc/pkg/params"
	"github.com/user/framebrc/pkg/ports"
)

// ErrClosed is returned when submitting to a closed executor.
var ErrClosed = errors.New("simdevice: executor closed")

// ErrUnknownToken is returned when waiting on a token that was never issued,
// was already waited on, or was cancelled.
var ErrUnknownToken = errors.New("simdevice: unknown completion token")

// AnyPass matches every pass in a FailAt rule.
const AnyPass = -1

// DefaultQueueDepth is the number of submissions buffered ahead of the worker.
const DefaultQueueDepth = 64

// referenceQP is the QP at which complexity equals bits per macroblock.
const referenceQP = 26

// ComplexityFunc returns the bits per macroblock of a frame at QP 26.
type ComplexityFunc func(frame int, picture ports.PictureType) float64

// DefaultComplexity gives I pictures four times and B pictures two thirds of
// the cost of a P picture.
func DefaultComplexity(frame int, picture ports.PictureType) float64 {
	switch picture {
	case ports.PictureI:
		return 96
	case ports.PictureB:
		return 16
	default:
		return 24
	}
}

// FailAt makes a stage of a frame complete with a failure status.
type FailAt struct {
	Frame int             `yaml:"frame"`
	Stage ports.StageKind `yaml:"stage"`
	Pass  int             `yaml:"pass"` // AnyPass matches every pass
}

// Options configures an Executor.
type Options struct {
	Complexity      ComplexityFunc
	Latency         time.Duration // simulated execution time per stage
	StaticThreshold float64       // complexity below which a frame is static
	QueueDepth      int
	FailAt          []FailAt
	Logger          ports.Logger
}

type job struct {
	token    ports.CompletionToken
	sub      ports.Submission
	done     chan struct{}
	stats    ports.StageStatistics
	canceled bool
}

// frameState carries the last encode of a frame to its packetize stages.
type frameState struct {
	numMBs int
	bits   int64
	qp     int
}

// Executor implements ports.DeviceExecutor. A single worker goroutine runs
// submissions in FIFO order.
type Executor struct {
	opts Options

	mu     sync.Mutex
	next   ports.CompletionToken
	jobs   map[ports.CompletionToken]*job
	frames map[int]*frameState
	closed bool

	queue chan *job
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New creates an Executor and starts its worker.
func New(opts Options) *Executor {
	if opts.Complexity == nil {
		opts.Complexity = DefaultComplexity
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	e := &Executor{
		opts:   opts,
		jobs:   make(map[ports.CompletionToken]*job),
		frames: make(map[int]*frameState),
		queue:  make(chan *job, opts.QueueDepth),
		quit:   make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Submit queues a stage. It blocks only while the queue is full.
func (e *Executor) Submit(ctx context.Context, sub ports.Submission) (ports.CompletionToken, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	e.next++
	j := &job{token: e.next, sub: sub, done: make(chan struct{})}
	e.jobs[j.token] = j
	e.mu.Unlock()

	select {
	case e.queue <- j:
		return j.token, nil
	case <-ctx.Done():
		e.forget(j.token)
		return 0, ctx.Err()
	case <-e.quit:
		e.forget(j.token)
		return 0, ErrClosed
	}
}

// Wait blocks until the stage completes or ctx is done.
func (e *Executor) Wait(ctx context.Context, token ports.CompletionToken) (ports.StageStatistics, error) {
	e.mu.Lock()
	j, ok := e.jobs[token]
	e.mu.Unlock()
	if !ok {
		return ports.StageStatistics{}, fmt.Errorf("%w: %d", ErrUnknownToken, token)
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return ports.StageStatistics{Stage: j.sub.Stage}, ctx.Err()
	case <-e.quit:
		return ports.StageStatistics{Stage: j.sub.Stage}, ErrClosed
	}

	e.forget(token)
	if j.stats.Failed {
		return j.stats, fmt.Errorf("%w: %s frame %d pass %d", ports.ErrStageFailed, j.sub.Stage, j.sub.Frame, j.sub.Pass)
	}
	return j.stats, nil
}

// Cancel abandons a submitted stage. The worker skips it if it has not run yet.
func (e *Executor) Cancel(token ports.CompletionToken) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if j, ok := e.jobs[token]; ok {
		j.canceled = true
		delete(e.jobs, token)
	}
}

// Close stops the worker. Outstanding waits return ErrClosed.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.quit)
	e.wg.Wait()
	return nil
}

func (e *Executor) forget(token ports.CompletionToken) {
	e.mu.Lock()
	delete(e.jobs, token)
	e.mu.Unlock()
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			return
		case j := <-e.queue:
			e.mu.Lock()
			canceled := j.canceled
			e.mu.Unlock()
			if !canceled {
				e.execute(j)
			}
			close(j.done)
		}
	}
}

func (e *Executor) execute(j *job) {
	start := time.Now()
	if e.opts.Latency > 0 {
		timer := time.NewTimer(e.opts.Latency)
		select {
		case <-timer.C:
		case <-e.quit:
			timer.Stop()
		}
	}

	stats := e.simulate(j.sub)
	stats.Stage = j.sub.Stage
	stats.Failed = e.shouldFail(j.sub)
	stats.Elapsed = time.Since(start)
	j.stats = stats

	if e.opts.Logger != nil {
		e.opts.Logger.Debug("Stage %s frame %d pass %d completed in %s", j.sub.Stage, j.sub.Frame, j.sub.Pass, stats.Elapsed)
	}
}

func (e *Executor) shouldFail(sub ports.Submission) bool {
	for _, f := range e.opts.FailAt {
		if f.Frame == sub.Frame && f.Stage == sub.Stage && (f.Pass == AnyPass || f.Pass == sub.Pass) {
			return true
		}
	}
	return false
}

// =============================================================================
// Stage models
// =============================================================================

// simulate answers the parameter blocks produced by params.Builder, which are
// values.
func (e *Executor) simulate(sub ports.Submission) ports.StageStatistics {
	switch p := sub.Params.(type) {
	case params.MotionSearchParams:
		c := e.opts.Complexity(p.Frame, p.Picture)
		scale := int64(p.Level.Scale())
		return ports.StageStatistics{Distortion: int64(c * float64(p.WidthInMB*p.HeightInMB)) * scale}
	case params.StaticFrameParams:
		c := e.opts.Complexity(p.Frame, p.Picture)
		return ports.StageStatistics{StaticFrame: c < e.opts.StaticThreshold}
	case params.IntraDistortionParams:
		c := e.opts.Complexity(p.Frame, p.Picture)
		cost := int64(c * float64(p.WidthInMB*p.HeightInMB) * 16)
		return ports.StageStatistics{Distortion: cost, IntraCost: cost}
	case params.MacroblockEncodeParams:
		return e.encode(&p)
	case params.MacroblockRateControlParams:
		return ports.StageStatistics{MBQPMap: e.mbQPMap(&p)}
	case params.PacketizeParams:
		return e.packetize(&p)
	default:
		return ports.StageStatistics{}
	}
}

func (e *Executor) encode(p *params.MacroblockEncodeParams) ports.StageStatistics {
	numMBs := p.WidthInMB * p.HeightInMB
	qp := float64(p.QP)
	if p.UseMBQPMap && len(p.MBQPMap) > 0 {
		sum := 0
		for _, d := range p.MBQPMap {
			sum += int(d)
		}
		qp += float64(sum) / float64(len(p.MBQPMap))
	}
	if p.MinQP > 0 {
		qp = math.Max(qp, float64(p.MinQP))
	}
	if p.MaxQP > 0 {
		qp = math.Min(qp, float64(p.MaxQP))
	}

	c := e.opts.Complexity(p.Frame, p.Picture)
	if p.SkipBias {
		c *= 0.5
	}
	bits := int64(EstimateBits(c, numMBs, qp))
	if p.IntraRefresh.Mode != ports.IntraRefreshNone && p.Picture != ports.PictureI {
		band := p.IntraRefresh.Size * p.WidthInMB
		if p.IntraRefresh.Mode == ports.IntraRefreshColumn {
			band = p.IntraRefresh.Size * p.HeightInMB
		}
		intra := DefaultComplexity(p.Frame, ports.PictureI)
		bits += int64(EstimateBits(intra-c, min(band, numMBs), qp))
	}
	bits = max(bits, 8)

	e.mu.Lock()
	e.frames[p.Frame] = &frameState{numMBs: numMBs, bits: bits, qp: int(math.Round(qp))}
	for f := range e.frames {
		if f < p.Frame-16 {
			delete(e.frames, f)
		}
	}
	e.mu.Unlock()

	return ports.StageStatistics{ConsumedBits: bits, AverageQP: qp}
}

// mbQPMap lowers QP inside regions of interest and leaves the rest untouched.
func (e *Executor) mbQPMap(p *params.MacroblockRateControlParams) []int8 {
	if p.ROI.Active() {
		out := make([]int8, len(p.ROI.Values))
		for i, v := range p.ROI.Values {
			d := -int(v)
			if !p.DeltaQP {
				d /= 3
			}
			out[i] = int8(min(max(d, -12), 12))
		}
		return out
	}
	if !p.MBBRC {
		return nil
	}
	e.mu.Lock()
	st := e.frames[p.Frame]
	e.mu.Unlock()
	if st == nil {
		return nil
	}
	return make([]int8, st.numMBs)
}

func (e *Executor) packetize(p *params.PacketizeParams) ports.StageStatistics {
	e.mu.Lock()
	st := e.frames[p.Frame]
	e.mu.Unlock()

	bits := int64(8)
	if st != nil && st.numMBs > 0 {
		bits = max(st.bits*int64(p.NumMBs)/int64(st.numMBs), 8)
	}
	payload := SlicePayload(p, int((bits+7)/8))
	return ports.StageStatistics{Payload: payload, BitLength: int64(len(payload)) * 8}
}

// EstimateBits is the rate model: complexity bits per MB at QP 26, halving
// every 6 QP steps.
func EstimateBits(complexity float64, numMBs int, qp float64) float64 {
	return complexity * float64(numMBs) * math.Pow(2, (referenceQP-qp)/6)
}

// SlicePayload builds an Annex-B slice NAL unit with a body of size bytes.
// Body bytes never form a start code.
func SlicePayload(p *params.PacketizeParams, size int) []byte {
	header := byte(0x01)
	switch {
	case p.IDR:
		header = 0x65
	case p.Reference:
		header = 0x41
	}
	out := make([]byte, 0, size+5)
	out = append(out, 0x00, 0x00, 0x00, 0x01, header)
	seed := byte(p.Frame*31 + p.Slice*7 + p.SliceQP)
	for i := 0; i < size; i++ {
		out = append(out, 0x80|(seed+byte(i))&0x7f)
	}
	return out
}

var _ ports.DeviceExecutor = (*Executor)(nil)
