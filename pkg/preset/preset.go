// Package preset provides a high-level API for building encode configurations
// from named rate-control presets.
package preset

import (
	"fmt"

	"github.com/user/framebrc/pkg/config"
)

// Name is a rate-control preset name.
type Name string

const (
	// Streaming is CBR with a two-second buffer and no B pictures.
	Streaming Name = "streaming"
	// Broadcast is peak-bounded VBR with B pictures and a closed 30-frame GOP.
	Broadcast Name = "broadcast"
	// Archive is AVBR with long GOPs, deep reference lists and a larger pass budget.
	Archive Name = "archive"
	// LowDelay is CBR with a one-frame buffer, single-pass tables and no B pictures.
	LowDelay Name = "lowdelay"
)

// Names returns every preset name.
func Names() []Name {
	return []Name{Streaming, Broadcast, Archive, LowDelay}
}

// Parse parses a preset name.
func Parse(s string) (Name, error) {
	for _, n := range Names() {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown preset: %q", s)
}

// ConfigBuilder provides a fluent interface for building config.Config.
type ConfigBuilder struct {
	config config.Config
	name   Name
}

// NewConfigBuilder creates a new ConfigBuilder with streaming preset defaults.
func NewConfigBuilder() *ConfigBuilder {
	b := &ConfigBuilder{config: config.Defaults()}
	return b.WithPreset(Streaming)
}

// FromConfig creates a ConfigBuilder over an existing configuration.
func FromConfig(cfg config.Config) *ConfigBuilder {
	return &ConfigBuilder{config: cfg}
}

// WithPreset applies a preset's rate control, GOP structure and feature set.
// Frame size, frame rate, scenario and output settings are left untouched.
func (b *ConfigBuilder) WithPreset(name Name) *ConfigBuilder {
	b.name = name
	rc := &b.config.RateControl
	s := &b.config.Session
	f := &b.config.Features

	switch name {
	case Broadcast:
		rc.Mode = "vbr"
		rc.BitRate = 8000
		rc.MaxBitRate = 12000
		rc.BufferSize = 12000
		rc.MaxPasses = 3
		rc.LowDelay = false
		rc.Policy = ""
		s.GopSize, s.GopRefDist, s.NumRefFrames = 30, 3, 2
		f.HME, f.HME16x, f.HME32x = true, true, false
		f.SingleTaskPhase = false
	case Archive:
		rc.Mode = "avbr"
		rc.BitRate = 6000
		rc.MaxBitRate = 0
		rc.BufferSize = 0
		rc.MaxPasses = 4
		rc.AVBRAccuracy = 50
		rc.AVBRConvergence = 150
		rc.LowDelay = false
		rc.Policy = ""
		s.GopSize, s.GopRefDist, s.NumRefFrames = 120, 4, 3
		f.HME, f.HME16x, f.HME32x = true, true, true
		f.SingleTaskPhase = false
	case LowDelay:
		rc.Mode = "cbr"
		rc.BitRate = 2000
		rc.MaxBitRate = 0
		rc.MaxPasses = 1
		rc.LowDelay = true
		rc.Policy = "lowdelay"
		s.GopSize, s.GopRefDist, s.NumRefFrames = 0, 1, 1
		f.HME, f.HME16x, f.HME32x = true, false, false
		f.SingleTaskPhase = true
		rc.BufferSize = b.frameBits(rc.BitRate)
	default:
		b.name = Streaming
		rc.Mode = "cbr"
		rc.BitRate = 4000
		rc.MaxBitRate = 0
		rc.BufferSize = 2 * rc.BitRate
		rc.MaxPasses = 2
		rc.LowDelay = false
		rc.Policy = ""
		s.GopSize, s.GopRefDist, s.NumRefFrames = 60, 1, 1
		f.HME, f.HME16x, f.HME32x = true, true, false
		f.SingleTaskPhase = false
	}
	f.MBBRC = true
	f.SceneChangeDetection = true
	return b
}

// frameBits is one frame's share of kbps, in kbit.
func (b *ConfigBuilder) frameBits(kbps int64) int64 {
	s := b.config.Session
	if s.FrameRateNum == 0 {
		return kbps
	}
	return max(kbps*int64(s.FrameRateDen)/int64(s.FrameRateNum), 1)
}

// Build returns the final Config, applying constraints.
func (b *ConfigBuilder) Build() config.Config {
	cfg := b.config

	if cfg.Pool.Slots < 1 {
		cfg.Pool.Slots = 1
	}
	if cfg.RateControl.MaxPasses < 0 {
		cfg.RateControl.MaxPasses = 0
	}
	if cfg.RateControl.MaxBitRate > 0 && cfg.RateControl.MaxBitRate < cfg.RateControl.BitRate {
		cfg.RateControl.MaxBitRate = cfg.RateControl.BitRate
	}
	if cfg.Features.ROISmoothing > 3 {
		cfg.Features.ROISmoothing = 3
	}

	return cfg
}

// Preset returns the applied preset name, empty for FromConfig builders.
func (b *ConfigBuilder) Preset() Name {
	return b.name
}

// WithResolution sets the frame size in macroblocks.
func (b *ConfigBuilder) WithResolution(widthMB, heightMB int) *ConfigBuilder {
	b.config.Session.WidthInMB = widthMB
	b.config.Session.HeightInMB = heightMB
	return b
}

// WithFrameRate sets the frame rate as a fraction.
func (b *ConfigBuilder) WithFrameRate(num, den uint32) *ConfigBuilder {
	b.config.Session.FrameRateNum = num
	b.config.Session.FrameRateDen = den
	return b
}

// WithCodec sets the codec name.
func (b *ConfigBuilder) WithCodec(codec string) *ConfigBuilder {
	b.config.Session.Codec = codec
	return b
}

// WithRateControl sets the rate-control mode name.
func (b *ConfigBuilder) WithRateControl(mode string) *ConfigBuilder {
	b.config.RateControl.Mode = mode
	return b
}

// WithBitRate sets the target bitrate in kbps. The buffer keeps its ratio to
// the bitrate.
func (b *ConfigBuilder) WithBitRate(kbps int64) *ConfigBuilder {
	rc := &b.config.RateControl
	if rc.BitRate > 0 && rc.BufferSize > 0 {
		rc.BufferSize = rc.BufferSize * kbps / rc.BitRate
	}
	if rc.BitRate > 0 && rc.MaxBitRate > 0 {
		rc.MaxBitRate = rc.MaxBitRate * kbps / rc.BitRate
	}
	rc.BitRate = kbps
	return b
}

// WithMaxBitRate sets the peak bitrate in kbps.
func (b *ConfigBuilder) WithMaxBitRate(kbps int64) *ConfigBuilder {
	b.config.RateControl.MaxBitRate = kbps
	return b
}

// WithBufferSize sets the rate-control buffer in kbit.
func (b *ConfigBuilder) WithBufferSize(kbits int64) *ConfigBuilder {
	b.config.RateControl.BufferSize = kbits
	return b
}

// WithMaxPasses sets the retry budget per frame.
// Negative values will be forced to 0.
func (b *ConfigBuilder) WithMaxPasses(n int) *ConfigBuilder {
	b.config.RateControl.MaxPasses = n
	return b
}

// WithGOP sets the GOP size and anchor distance.
func (b *ConfigBuilder) WithGOP(size, refDist int) *ConfigBuilder {
	b.config.Session.GopSize = size
	b.config.Session.GopRefDist = refDist
	return b
}

// WithFrames sets the number of scenario frames.
func (b *ConfigBuilder) WithFrames(n int) *ConfigBuilder {
	b.config.Scenario.Frames = n
	return b
}

// WithOutput sets the output file path.
func (b *ConfigBuilder) WithOutput(path string) *ConfigBuilder {
	b.config.Output.Path = path
	return b
}

// WithSummary sets the summary file path.
func (b *ConfigBuilder) WithSummary(path string) *ConfigBuilder {
	b.config.Output.Summary = path
	return b
}

// WithDebug enables debug dumps into dir.
func (b *ConfigBuilder) WithDebug(dir string) *ConfigBuilder {
	b.config.Debug.Enabled = true
	if dir != "" {
		b.config.Debug.Dir = dir
	}
	return b
}

// WithLogLevel sets the log level name.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.config.LogLevel = level
	return b
}

// MbpsToKbps converts megabits per second to kilobits per second.
// Accepts float64 for fractional Mbps values (e.g., 1.5 Mbps).
func MbpsToKbps(mbps float64) int64 {
	return int64(mbps * 1000)
}
