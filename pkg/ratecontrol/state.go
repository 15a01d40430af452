// Package ratecontrol implements the cross-frame bitrate-control feedback engine.
package ratecontrol

import (
	"errors"

	"github.com/user/framebrc/pkg/ports"
)

var (
	// ErrNotInitialized is returned before the first Init.
	ErrNotInitialized = errors.New("ratecontrol: not initialized")
	// ErrRateControlDisabled is returned by Init for constant-QP sessions.
	ErrRateControlDisabled = errors.New("ratecontrol: adaptive rate control disabled")
	// ErrInvalidSequence is returned for missing or inconsistent sequence targets.
	ErrInvalidSequence = errors.New("ratecontrol: invalid sequence parameters")
	// ErrFrameInProgress is returned by BeginFrame before the previous frame committed or aborted.
	ErrFrameInProgress = errors.New("ratecontrol: frame already in progress")
	// ErrNoFrame is returned by Commit or Abort without a matching BeginFrame.
	ErrNoFrame = errors.New("ratecontrol: no frame in progress")
)

const (
	minBPSRatio = 0.1
	maxBPSRatio = 3.5

	defaultAVBRAccuracy    = 30
	defaultAVBRConvergence = 150
)

// AVBRParams are the average-bitrate convergence controls computed at init.
type AVBRParams struct {
	// StartGlobalAdjustFrame are the frame counts at which global rate adjustment steps in.
	StartGlobalAdjustFrame [4]int `json:"start_global_adjust_frame"`
	// RateRatioThreshold are global rate ratio thresholds in percent.
	RateRatioThreshold [6]int `json:"rate_ratio_threshold"`
}

func newAVBRParams(accuracy, convergence int) AVBRParams {
	if accuracy <= 0 {
		accuracy = defaultAVBRAccuracy
	}
	if convergence <= 0 {
		convergence = defaultAVBRConvergence
	}
	a := float64(accuracy) / 30
	c := float64(convergence) / 150
	return AVBRParams{
		StartGlobalAdjustFrame: [4]int{int(10 * c), int(50 * c), int(100 * c), int(150 * c)},
		RateRatioThreshold: [6]int{
			int(100 - a*(100-40)),
			int(100 - a*(100-75)),
			int(100 - a*(100-97)),
			int(100 + a*(103-100)),
			int(100 + a*(125-100)),
			int(100 + a*(160-100)),
		},
	}
}

// State is the cross-frame rate-control state of a session.
type State struct {
	Initialized bool                  `json:"initialized"`
	Mode        ports.RateControlMode `json:"mode"`

	TargetBitRate     int64   `json:"target_bit_rate"`
	MaxBitRate        int64   `json:"max_bit_rate"`
	InputBitsPerFrame float64 `json:"input_bits_per_frame"`
	BufferSize        float64 `json:"buffer_size"`
	InitialFullness   float64 `json:"initial_fullness"`
	Fullness          float64 `json:"fullness"`
	BPSRatio          float64 `json:"bps_ratio"`

	Thresholds       ThresholdSet `json:"thresholds"`
	ICQQualityFactor int          `json:"icq_quality_factor"`
	AVBR             AVBRParams   `json:"avbr"`
	PanicDisabled    bool         `json:"panic_disabled"`
	FrameWeightScale float64      `json:"frame_weight_scale"`

	PendingSkipFrames int   `json:"pending_skip_frames"`
	PendingSkipBits   int64 `json:"pending_skip_bits"`

	Panic       bool `json:"panic"`
	SceneChange bool `json:"scene_change"`

	Frames           int     `json:"frames"`
	Passes           int     `json:"passes"`
	Panics           int     `json:"panics"`
	SceneChanges     int     `json:"scene_changes"`
	Resets           int     `json:"resets"`
	TotalBits        int64   `json:"total_bits"`
	AverageQP        float64 `json:"average_qp"`
	ConvergenceRatio float64 `json:"convergence_ratio"`
}

// FullnessBits returns the running fullness rounded down to whole bits.
func (s State) FullnessBits() int64 {
	return int64(s.Fullness)
}
