// Package logtelemetry provides a TelemetrySink that logs each report.
package logtelemetry

import (
	"github.com/user/framebrc/pkg/ports"
)

// Sink implements ports.TelemetrySink over a Logger.
type Sink struct {
	logger ports.Logger
}

// New creates a Sink that logs at debug level.
func New(logger ports.Logger) *Sink {
	return &Sink{logger: logger}
}

// Report logs r.
func (s *Sink) Report(r ports.TelemetryReport) {
	if s.logger == nil {
		return
	}
	if r.Dropped {
		s.logger.Debug("Telemetry: frame %d (%s) dropped", r.FrameIndex, r.Type)
		return
	}
	s.logger.Debug("Telemetry: frame %d (%s) QP %d, %d passes, %d/%d bits, fullness %d",
		r.FrameIndex, r.Type, r.QP, r.Passes, r.ConsumedBits, r.TargetBits, r.Fullness)
}

// Fanout forwards reports to several sinks in order.
type Fanout []ports.TelemetrySink

// Report forwards r to every non-nil sink.
func (f Fanout) Report(r ports.TelemetryReport) {
	for _, s := range f {
		if s != nil {
			s.Report(r)
		}
	}
}

var (
	_ ports.TelemetrySink = (*Sink)(nil)
	_ ports.TelemetrySink = Fanout(nil)
)
