// Package resource owns the ring of recycled buffer slots shared by in-flight frames.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ideamans/go-l10n"
	"golang.org/x/sync/semaphore"

	"github.com/user/framebrc/pkg/ports"
)

var (
	// ErrAllocation is returned when device memory for a slot set cannot be allocated.
	ErrAllocation = errors.New("resource: slot allocation failed")
	// ErrNoFreeSlot is returned when the next recycled slot is not retired in time.
	ErrNoFreeSlot = errors.New("resource: no recycled buffers available")
	// ErrMissingBuffer is returned when a role or reference picture has no buffer.
	ErrMissingBuffer = errors.New("resource: missing required buffer")
	// ErrInvalidated is returned when borrowing a slot whose content was discarded.
	ErrInvalidated = errors.New("resource: slot content invalidated")
	// ErrClosed is returned by a closed pool.
	ErrClosed = errors.New("resource: pool closed")
)

// DefaultAcquireTimeout bounds the wait for a recycled slot.
const DefaultAcquireTimeout = 2 * time.Second

// Geometry describes the frame size buffers are allocated for.
type Geometry struct {
	WidthInMB  int
	HeightInMB int
}

// NumMBs returns the frame size in macroblocks.
func (g Geometry) NumMBs() int {
	return g.WidthInMB * g.HeightInMB
}

// Options configures a Pool.
type Options struct {
	Slots          int
	AcquireTimeout time.Duration
	Logger         ports.Logger
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Slots     int `json:"slots"`
	Acquires  int `json:"acquires"`
	Waits     int `json:"waits"`
	Timeouts  int `json:"timeouts"`
	InUse     int `json:"in_use"`
	HighWater int `json:"high_water"`
}

// sessionRoles persist across frames and are shared by every slot.
var sessionRoles = []ports.BufferRole{ports.RoleBRCHistory}

// slotRoles are allocated once per slot.
var slotRoles = []ports.BufferRole{
	ports.RoleSource,
	ports.RoleReconstruction,
	ports.RoleDownscaled4x,
	ports.RoleDownscaled16x,
	ports.RoleDownscaled32x,
	ports.RoleMotionVectors,
	ports.RoleDistortion,
	ports.RoleBRCConstData,
	ports.RoleMBQPMap,
	ports.RoleROIMap,
	ports.RoleStaticFrame,
	ports.RoleIntraDistortion,
	ports.RoleWeightedReference,
	ports.RoleEncodeOutput,
}

// Slot is one set of device buffers in the ring.
type Slot struct {
	index   int
	buffers [ports.NumBufferRoles]ports.BufferHandle
	busy    *semaphore.Weighted

	// guarded by Pool.mu
	frame int
	holds int
	valid bool
}

// Index returns the position of the slot in the ring.
func (s *Slot) Index() int {
	return s.index
}

// Pool is a fixed ring of slots indexed by a rotating recycled index.
type Pool struct {
	alloc   ports.BufferAllocator
	logger  ports.Logger
	timeout time.Duration

	slots   []*Slot
	session [ports.NumBufferRoles]ports.BufferHandle

	mu      sync.Mutex
	current int
	byFrame map[int]*Slot
	stats   Stats
	closed  bool
}

// New allocates every slot up front. Any allocation failure frees what was
// allocated and returns an error wrapping ErrAllocation.
func New(alloc ports.BufferAllocator, geom Geometry, opts Options) (*Pool, error) {
	if opts.Slots < 1 {
		return nil, fmt.Errorf("%w: ring size %d", ErrAllocation, opts.Slots)
	}
	if geom.NumMBs() <= 0 {
		return nil, fmt.Errorf("%w: empty geometry %dx%d", ErrAllocation, geom.WidthInMB, geom.HeightInMB)
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}

	p := &Pool{
		alloc:   alloc,
		logger:  opts.Logger,
		timeout: opts.AcquireTimeout,
		byFrame: make(map[int]*Slot),
	}
	p.stats.Slots = opts.Slots

	for _, role := range sessionRoles {
		h, err := alloc.Allocate(ports.BufferSpec{Role: role, Size: bufferSize(role, geom), Slot: -1})
		if err != nil {
			p.free()
			return nil, fmt.Errorf("%w: %s: %v", ErrAllocation, role, err)
		}
		p.session[role] = h
	}

	for i := 0; i < opts.Slots; i++ {
		slot := &Slot{index: i, busy: semaphore.NewWeighted(1), frame: -1}
		for _, role := range slotRoles {
			h, err := alloc.Allocate(ports.BufferSpec{Role: role, Size: bufferSize(role, geom), Slot: i})
			if err != nil {
				p.slots = append(p.slots, slot)
				p.free()
				return nil, fmt.Errorf("%w: slot %d %s: %v", ErrAllocation, i, role, err)
			}
			slot.buffers[role] = h
		}
		p.slots = append(p.slots, slot)
	}

	if p.logger != nil {
		p.logger.Debug(l10n.F("Allocated %d resource slots (%d MBs)", opts.Slots, geom.NumMBs()))
	}
	return p, nil
}

// Acquire hands out the slot at the current recycled index for exclusive use by
// frame and advances the index. If that slot is still owned or borrowed, it
// waits up to the acquire timeout for it to retire.
func (p *Pool) Acquire(ctx context.Context, frame int) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	slot := p.slots[p.current]
	p.current = (p.current + 1) % len(p.slots)
	p.stats.Acquires++
	p.mu.Unlock()

	if !slot.busy.TryAcquire(1) {
		p.mu.Lock()
		p.stats.Waits++
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.Debug(l10n.F("Waiting for slot %d to retire", slot.index))
		}

		waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := slot.busy.Acquire(waitCtx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.mu.Lock()
			p.stats.Timeouts++
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: slot %d still in use after %s", ErrNoFreeSlot, slot.index, p.timeout)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	slot.frame = frame
	slot.holds = 1
	slot.valid = true
	p.byFrame[frame] = slot
	p.stats.InUse++
	if p.stats.InUse > p.stats.HighWater {
		p.stats.HighWater = p.stats.InUse
	}
	return &Lease{pool: p, slot: slot, owner: true}, nil
}

// Reference borrows read-only access to the slot holding frame's pictures.
func (p *Pool) Reference(frame int) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.byFrame[frame]
	if !ok {
		return nil, fmt.Errorf("%w: reference frame %d is not resident", ErrMissingBuffer, frame)
	}
	if !slot.valid {
		return nil, fmt.Errorf("%w: frame %d", ErrInvalidated, frame)
	}
	slot.holds++
	return &Lease{pool: p, slot: slot}, nil
}

// SessionView returns a view of a session-scoped buffer.
func (p *Pool) SessionView(role ports.BufferRole) (ports.FieldView, error) {
	if role < 0 || int(role) >= ports.NumBufferRoles || !p.session[role].Valid() {
		return ports.FieldView{}, fmt.Errorf("%w: session %s", ErrMissingBuffer, role)
	}
	return ports.FieldView{Handle: p.session[role], Field: ports.FieldFrame}, nil
}

// CurrentIndex returns the recycled index the next Acquire will use.
func (p *Pool) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close frees every buffer. Leases still held become unusable.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.free()
}

func (p *Pool) free() {
	for _, role := range sessionRoles {
		if p.session[role].Valid() {
			p.alloc.Free(p.session[role])
			p.session[role] = ports.BufferHandle{}
		}
	}
	for _, slot := range p.slots {
		for i, h := range slot.buffers {
			if h.Valid() {
				p.alloc.Free(h)
				slot.buffers[i] = ports.BufferHandle{}
			}
		}
	}
}

func (p *Pool) release(slot *Slot) {
	p.mu.Lock()
	slot.holds--
	if slot.holds > 0 {
		p.mu.Unlock()
		return
	}
	if p.byFrame[slot.frame] == slot {
		delete(p.byFrame, slot.frame)
	}
	slot.frame = -1
	p.stats.InUse--
	p.mu.Unlock()
	slot.busy.Release(1)
}

// bufferSize returns the allocation size of a role for geom.
func bufferSize(role ports.BufferRole, geom Geometry) int64 {
	mbs := int64(geom.NumMBs())
	switch role {
	case ports.RoleSource, ports.RoleReconstruction, ports.RoleWeightedReference:
		return mbs * 384
	case ports.RoleDownscaled4x:
		return max(mbs*384/16, 4096)
	case ports.RoleDownscaled16x:
		return max(mbs*384/256, 4096)
	case ports.RoleDownscaled32x:
		return max(mbs*384/1024, 4096)
	case ports.RoleMotionVectors:
		return mbs * 64
	case ports.RoleDistortion, ports.RoleIntraDistortion:
		return mbs * 8
	case ports.RoleBRCConstData:
		return 4096
	case ports.RoleBRCHistory:
		return 6080
	case ports.RoleMBQPMap:
		return mbs
	case ports.RoleROIMap:
		return mbs * 4
	case ports.RoleStaticFrame:
		return 256
	case ports.RoleEncodeOutput:
		return mbs*384 + 4096
	default:
		return 0
	}
}
