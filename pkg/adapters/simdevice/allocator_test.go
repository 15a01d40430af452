package simdevice

import (
	"errors"
	"testing"

	"github.com/user/framebrc/pkg/ports"
)

func TestAllocator_Capacity(t *testing.T) {
	a := NewAllocator(100)

	h1, err := a.Allocate(ports.BufferSpec{Role: ports.RoleSource, Size: 60})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if !h1.Valid() {
		t.Fatal("expected valid handle")
	}
	if _, err := a.Allocate(ports.BufferSpec{Role: ports.RoleReconstruction, Size: 50}); !errors.Is(err, ports.ErrAllocationFailed) {
		t.Fatalf("expected ErrAllocationFailed, got %v", err)
	}

	a.Free(h1)
	a.Free(h1)
	if a.InUse() != 0 {
		t.Errorf("expected 0 bytes in use, got %d", a.InUse())
	}
	if _, err := a.Allocate(ports.BufferSpec{Role: ports.RoleReconstruction, Size: 50}); err != nil {
		t.Errorf("Allocate after free failed: %v", err)
	}
	if a.Peak() != 60 {
		t.Errorf("expected peak 60, got %d", a.Peak())
	}
	if a.Live() != 1 {
		t.Errorf("expected 1 live handle, got %d", a.Live())
	}
}

func TestAllocator_Unlimited(t *testing.T) {
	a := NewAllocator(0)
	for i := 0; i < 10; i++ {
		if _, err := a.Allocate(ports.BufferSpec{Size: 1 << 30}); err != nil {
			t.Fatalf("Allocate %d failed: %v", i, err)
		}
	}
}
