// Package nullpacketizer provides a packetizer that discards output.
package nullpacketizer

import (
	"context"
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// Packetizer implements ports.Packetizer by counting frames and bytes.
type Packetizer struct {
	mu     sync.Mutex
	frames int
	bytes  int64
}

// New creates a new Packetizer.
func New() *Packetizer {
	return &Packetizer{}
}

func (p *Packetizer) Packetize(ctx context.Context, frame ports.PacketizedFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	for _, s := range frame.Slices {
		p.bytes += int64(len(s.Data))
	}
	return nil
}

func (p *Packetizer) Close() error { return nil }

// Frames returns the number of frames received.
func (p *Packetizer) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Bytes returns the slice payload bytes received.
func (p *Packetizer) Bytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}

var _ ports.Packetizer = (*Packetizer)(nil)
