package mocks

import (
	"fmt"
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// BufferAllocator is a mock implementation of ports.BufferAllocator.
type BufferAllocator struct {
	mu     sync.Mutex
	nextID uint64
	live   map[uint64]ports.BufferSpec

	AllocateFunc func(spec ports.BufferSpec) (ports.BufferHandle, error)
	// FailAfter makes the allocation with this 1-based ordinal fail. Zero disables.
	FailAfter int

	// Recorded calls for verification
	Allocations []ports.BufferSpec
	Frees       []ports.BufferHandle
}

// NewBufferAllocator creates a new mock BufferAllocator.
func NewBufferAllocator() *BufferAllocator {
	return &BufferAllocator{live: make(map[uint64]ports.BufferSpec)}
}

func (m *BufferAllocator) Allocate(spec ports.BufferSpec) (ports.BufferHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Allocations = append(m.Allocations, spec)
	if m.FailAfter > 0 && len(m.Allocations) >= m.FailAfter {
		return ports.BufferHandle{}, fmt.Errorf("%w: %s", ports.ErrAllocationFailed, spec.Role)
	}
	if m.AllocateFunc != nil {
		return m.AllocateFunc(spec)
	}
	m.nextID++
	if m.live == nil {
		m.live = make(map[uint64]ports.BufferSpec)
	}
	m.live[m.nextID] = spec
	return ports.BufferHandle{ID: m.nextID, Size: spec.Size}, nil
}

func (m *BufferAllocator) Free(h ports.BufferHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frees = append(m.Frees, h)
	delete(m.live, h.ID)
}

// Live returns the number of allocations not yet freed.
func (m *BufferAllocator) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

var _ ports.BufferAllocator = (*BufferAllocator)(nil)
