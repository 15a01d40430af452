package simdevice

import (
	"fmt"
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// Allocator implements ports.BufferAllocator over a fixed byte capacity.
// A zero capacity is unlimited.
type Allocator struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	peak     int64
	next     uint64
	live     map[uint64]int64
}

// NewAllocator creates an Allocator with the given capacity in bytes.
func NewAllocator(capacity int64) *Allocator {
	return &Allocator{capacity: capacity, live: make(map[uint64]int64)}
}

// Allocate reserves spec.Size bytes.
func (a *Allocator) Allocate(spec ports.BufferSpec) (ports.BufferHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if spec.Size < 0 {
		return ports.BufferHandle{}, fmt.Errorf("%w: negative size %d for %s", ports.ErrAllocationFailed, spec.Size, spec.Role)
	}
	if a.capacity > 0 && a.used+spec.Size > a.capacity {
		return ports.BufferHandle{}, fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			ports.ErrAllocationFailed, spec.Role, spec.Size, a.used, a.capacity)
	}
	a.next++
	a.live[a.next] = spec.Size
	a.used += spec.Size
	a.peak = max(a.peak, a.used)
	return ports.BufferHandle{ID: a.next, Size: spec.Size}, nil
}

// Free releases a handle. Unknown handles are ignored.
func (a *Allocator) Free(h ports.BufferHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size, ok := a.live[h.ID]; ok {
		a.used -= size
		delete(a.live, h.ID)
	}
}

// InUse returns the number of bytes currently allocated.
func (a *Allocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Peak returns the highest number of bytes allocated at once.
func (a *Allocator) Peak() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// Live returns the number of outstanding handles.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

var _ ports.BufferAllocator = (*Allocator)(nil)
