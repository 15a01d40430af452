package resource

import (
	"fmt"
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// Lease is a claim on a slot. The owner lease is exclusive and writable;
// reader leases are shared and read-only. The slot retires once every lease
// is released.
type Lease struct {
	pool  *Pool
	slot  *Slot
	owner bool
	once  sync.Once
}

// Index returns the recycled slot index.
func (l *Lease) Index() int {
	return l.slot.index
}

// Owner reports whether the lease holds exclusive write access.
func (l *Lease) Owner() bool {
	return l.owner
}

// Frame returns the frame index the slot currently belongs to.
func (l *Lease) Frame() int {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	return l.slot.frame
}

// View returns a view of the slot buffer for role. Session-scoped roles
// resolve to the pool's shared buffers.
func (l *Lease) View(role ports.BufferRole, field ports.FieldSelector) (ports.FieldView, error) {
	if role < 0 || int(role) >= ports.NumBufferRoles {
		return ports.FieldView{}, fmt.Errorf("%w: role %d", ErrMissingBuffer, role)
	}
	h := l.slot.buffers[role]
	if !h.Valid() {
		return l.pool.SessionView(role)
	}
	return ports.FieldView{Handle: h, Field: field}, nil
}

// Borrow returns an additional read-only lease on the same slot.
func (l *Lease) Borrow() *Lease {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	l.slot.holds++
	return &Lease{pool: l.pool, slot: l.slot}
}

// Invalidate marks the slot content as discarded so that it can no longer be
// borrowed as a reference. Only the owner may invalidate.
func (l *Lease) Invalidate() {
	if !l.owner {
		return
	}
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	l.slot.valid = false
}

// Release gives up the lease. Releasing twice is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.slot)
	})
}
