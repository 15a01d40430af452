package summarizer

import (
	"time"

	"github.com/user/framebrc/pkg/orchestrator"
	"github.com/user/framebrc/pkg/ports"
)

// Summary contains all data collected during an encode session.
type Summary struct {
	// Metadata
	GeneratedAt time.Time `yaml:"generated_at"`
	SessionID   string    `yaml:"session_id"`

	// Sequence settings
	Settings Settings `yaml:"settings"`

	// Session totals
	Totals Totals `yaml:"totals"`

	// Rate control end state
	RateControl RateControlInfo `yaml:"rate_control"`

	// Resource ring usage
	Pool PoolInfo `yaml:"pool"`

	// Per-frame rows in encode order
	Frames []FrameRow `yaml:"frames"`
}

// Settings contains the sequence configuration.
type Settings struct {
	Preset        string  `yaml:"preset"`
	Codec         string  `yaml:"codec"`
	RateControl   string  `yaml:"rate_control"`
	WidthInMB     int     `yaml:"width_in_mb"`
	HeightInMB    int     `yaml:"height_in_mb"`
	FrameRate     float64 `yaml:"frame_rate"`
	TargetBitRate int64   `yaml:"target_bit_rate"` // bits per second
	BufferSize    int64   `yaml:"buffer_size"`     // bits
	MaxPasses     int     `yaml:"max_passes"`
	GopSize       int     `yaml:"gop_size"`
	GopRefDist    int     `yaml:"gop_ref_dist"`
}

// Totals contains the session counters.
type Totals struct {
	Frames       int   `yaml:"frames"`
	Encoded      int   `yaml:"encoded"`
	Dropped      int   `yaml:"dropped"`
	Passes       int   `yaml:"passes"`
	Panics       int   `yaml:"panics"`
	SceneChanges int   `yaml:"scene_changes"`
	Bits         int64 `yaml:"bits"`
	ElapsedMs    int64 `yaml:"elapsed_ms"`
}

// RateControlInfo is the final bitrate-control state.
type RateControlInfo struct {
	Fullness   float64 `yaml:"fullness"`
	BufferSize float64 `yaml:"buffer_size"`
	AverageQP  float64 `yaml:"average_qp"`
	Resets     int     `yaml:"resets"`
}

// PoolInfo contains resource ring statistics.
type PoolInfo struct {
	Slots     int `yaml:"slots"`
	HighWater int `yaml:"high_water"`
	Waits     int `yaml:"waits"`
	Timeouts  int `yaml:"timeouts"`
}

// FrameRow is the outcome of one picture.
type FrameRow struct {
	Frame        int    `yaml:"frame"`
	Type         string `yaml:"type"`
	QP           int    `yaml:"qp"`
	Passes       int    `yaml:"passes"`
	TargetBits   int64  `yaml:"target_bits"`
	ConsumedBits int64  `yaml:"consumed_bits"`
	Fullness     int64  `yaml:"fullness"`
	Converged    bool   `yaml:"converged"`
	Panic        bool   `yaml:"panic"`
	SceneChange  bool   `yaml:"scene_change"`
	Dropped      bool   `yaml:"dropped"`
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// AverageBitRate returns the delivered bits per second at the sequence frame rate.
func (s *Summary) AverageBitRate() float64 {
	if s.Totals.Encoded == 0 || s.Settings.FrameRate <= 0 {
		return 0
	}
	return float64(s.Totals.Bits) / float64(s.Totals.Encoded) * s.Settings.FrameRate
}

// AverageQP returns the mean QP over encoded frame rows.
func (s *Summary) AverageQP() float64 {
	sum, n := 0, 0
	for _, f := range s.Frames {
		if f.Dropped {
			continue
		}
		sum += f.QP
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary `yaml:"summary"`
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithSequence sets the sequence settings.
func (b *Builder) WithSequence(preset string, seq ports.SequenceParams) *Builder {
	var fps float64
	if seq.FrameRateDen > 0 {
		fps = float64(seq.FrameRateNum) / float64(seq.FrameRateDen)
	}
	b.summary.Settings = Settings{
		Preset:        preset,
		Codec:         seq.Codec.String(),
		RateControl:   seq.RateControl.String(),
		WidthInMB:     seq.WidthInMB,
		HeightInMB:    seq.HeightInMB,
		FrameRate:     fps,
		TargetBitRate: seq.TargetBitRate,
		BufferSize:    seq.BufferSize,
		MaxPasses:     seq.MaxPasses,
		GopSize:       seq.GopSize,
		GopRefDist:    seq.GopRefDist,
	}
	return b
}

// WithRun sets totals, rate-control state and pool statistics from a run.
func (b *Builder) WithRun(r orchestrator.RunResult) *Builder {
	b.summary.SessionID = r.SessionID
	b.summary.Totals = Totals{
		Frames:       r.Counters.Frames,
		Encoded:      r.Counters.Encoded,
		Dropped:      r.Counters.Dropped,
		Passes:       r.Counters.Passes,
		Panics:       r.Counters.Panics,
		SceneChanges: r.Counters.SceneChanges,
		Bits:         r.Counters.Bits,
		ElapsedMs:    r.Elapsed.Milliseconds(),
	}
	b.summary.RateControl = RateControlInfo{
		Fullness:   r.RateControl.Fullness,
		BufferSize: r.RateControl.BufferSize,
		AverageQP:  r.RateControl.AverageQP,
		Resets:     r.RateControl.Resets,
	}
	b.summary.Pool = PoolInfo{
		Slots:     r.Pool.Slots,
		HighWater: r.Pool.HighWater,
		Waits:     r.Pool.Waits,
		Timeouts:  r.Pool.Timeouts,
	}
	return b
}

// WithFrames sets the per-frame rows.
func (b *Builder) WithFrames(rows []FrameRow) *Builder {
	b.summary.Frames = rows
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
