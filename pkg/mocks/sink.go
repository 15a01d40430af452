package mocks

import (
	"fmt"
	"image"
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// DebugSink is a mock implementation of ports.DebugSink.
type DebugSink struct {
	mu sync.RWMutex

	enabled bool

	ParameterBlocks map[string][]byte
	QPMaps          map[string]image.Image
	ROIMaps         map[int]image.Image
	SessionJSON     []byte
}

// NewDebugSink creates a new mock DebugSink.
func NewDebugSink(enabled bool) *DebugSink {
	return &DebugSink{
		enabled:         enabled,
		ParameterBlocks: make(map[string][]byte),
		QPMaps:          make(map[string]image.Image),
		ROIMaps:         make(map[int]image.Image),
	}
}

// BlockKey returns the ParameterBlocks key of a saved block.
func BlockKey(frame, pass int, stage ports.StageKind) string {
	return fmt.Sprintf("%d/%d/%s", frame, pass, stage)
}

func (m *DebugSink) Enabled() bool {
	return m.enabled
}

func (m *DebugSink) SaveParameterBlock(frame, pass int, stage ports.StageKind, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ParameterBlocks[BlockKey(frame, pass, stage)] = data
	return nil
}

func (m *DebugSink) SaveQPMap(frame, pass int, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QPMaps[fmt.Sprintf("%d/%d", frame, pass)] = img
	return nil
}

func (m *DebugSink) SaveROIMap(frame int, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ROIMaps[frame] = img
	return nil
}

func (m *DebugSink) SaveSessionJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionJSON = data
	return nil
}

var _ ports.DebugSink = (*DebugSink)(nil)

// NullSink is a no-op implementation of ports.DebugSink.
type NullSink struct{}

func (m *NullSink) Enabled() bool { return false }
func (m *NullSink) SaveParameterBlock(frame, pass int, stage ports.StageKind, data []byte) error { return nil }
func (m *NullSink) SaveQPMap(frame, pass int, img image.Image) error { return nil }
func (m *NullSink) SaveROIMap(frame int, img image.Image) error { return nil }
func (m *NullSink) SaveSessionJSON(data []byte) error { return nil }

var _ ports.DebugSink = (*NullSink)(nil)
