package summarizer

import (
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// Collector is a TelemetrySink that keeps one row per report.
type Collector struct {
	mu   sync.Mutex
	rows []FrameRow
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Report records r.
func (c *Collector) Report(r ports.TelemetryReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, FrameRow{
		Frame:        r.FrameIndex,
		Type:         r.Type.String(),
		QP:           r.QP,
		Passes:       r.Passes,
		TargetBits:   r.TargetBits,
		ConsumedBits: r.ConsumedBits,
		Fullness:     r.Fullness,
		Converged:    r.Converged,
		Panic:        r.Panic,
		SceneChange:  r.SceneChange,
		Dropped:      r.Dropped,
	})
}

// Rows returns a copy of the recorded rows.
func (c *Collector) Rows() []FrameRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FrameRow(nil), c.rows...)
}

var _ ports.TelemetrySink = (*Collector)(nil)
