package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// Packetizer is a mock implementation of ports.Packetizer.
type Packetizer struct {
	mu sync.Mutex

	PacketizeFunc func(ctx context.Context, frame ports.PacketizedFrame) error
	CloseFunc     func() error

	// Recorded calls for verification
	Frames      []ports.PacketizedFrame
	CloseCalled bool
}

func (m *Packetizer) Packetize(ctx context.Context, frame ports.PacketizedFrame) error {
	if m.PacketizeFunc != nil {
		if err := m.PacketizeFunc(ctx, frame); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = append(m.Frames, frame)
	return nil
}

func (m *Packetizer) Close() error {
	m.mu.Lock()
	m.CloseCalled = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

var _ ports.Packetizer = (*Packetizer)(nil)

// TelemetrySink is a mock implementation of ports.TelemetrySink.
type TelemetrySink struct {
	mu      sync.Mutex
	Reports []ports.TelemetryReport
}

func (m *TelemetrySink) Report(r ports.TelemetryReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reports = append(m.Reports, r)
}

// Last returns the most recent report.
func (m *TelemetrySink) Last() (ports.TelemetryReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Reports) == 0 {
		return ports.TelemetryReport{}, false
	}
	return m.Reports[len(m.Reports)-1], true
}

var _ ports.TelemetrySink = (*TelemetrySink)(nil)

// BundleProvider is a mock implementation of ports.ParameterBundleProvider
// that replays a fixed list of bundles.
type BundleProvider struct {
	Bundles []*ports.ParameterBundle
	NextErr error
	pos     int
}

func (m *BundleProvider) Next(ctx context.Context) (*ports.ParameterBundle, error) {
	if m.NextErr != nil {
		return nil, m.NextErr
	}
	if m.pos >= len(m.Bundles) {
		return nil, io.EOF
	}
	b := m.Bundles[m.pos]
	m.pos++
	return b, nil
}

var _ ports.ParameterBundleProvider = (*BundleProvider)(nil)
