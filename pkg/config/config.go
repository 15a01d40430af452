// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/framebrc/pkg/adapters/scenario"
	"github.com/user/framebrc/pkg/adapters/simdevice"
	"github.com/user/framebrc/pkg/orchestrator"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the full configuration for framebrc.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	RateControl RateControlConfig `yaml:"rate_control"`
	Features    FeaturesConfig    `yaml:"features"`
	Pool        PoolConfig        `yaml:"pool"`
	Device      DeviceConfig      `yaml:"device"`
	Scenario    ScenarioConfig    `yaml:"scenario"`
	Output      OutputConfig      `yaml:"output"`
	Debug       DebugConfig       `yaml:"debug"`
	LogLevel    string            `yaml:"log_level"`
}

// SessionConfig holds the sequence geometry and GOP structure.
type SessionConfig struct {
	Codec        string `yaml:"codec"`
	WidthInMB    int    `yaml:"width_mb"`
	HeightInMB   int    `yaml:"height_mb"`
	FrameRateNum uint32 `yaml:"fps_num"`
	FrameRateDen uint32 `yaml:"fps_den"`
	GopSize      int    `yaml:"gop_size"`
	GopRefDist   int    `yaml:"gop_ref_dist"`
	NumRefFrames int    `yaml:"num_ref_frames"`
	TargetUsage  int    `yaml:"target_usage"`
}

// RateControlConfig holds bitrate-control settings. Rates are in kbps and
// buffer sizes in kbit.
type RateControlConfig struct {
	Mode             string  `yaml:"mode"`
	BitRate          int64   `yaml:"bitrate_kbps"`
	MaxBitRate       int64   `yaml:"max_bitrate_kbps"`
	MinBitRate       int64   `yaml:"min_bitrate_kbps"`
	BufferSize       int64   `yaml:"buffer_kbits"`
	InitialFullness  int64   `yaml:"initial_fullness_kbits"`
	ICQQuality       int     `yaml:"icq_quality"`
	AVBRAccuracy     int     `yaml:"avbr_accuracy"`
	AVBRConvergence  int     `yaml:"avbr_convergence"`
	MaxPasses        int     `yaml:"max_passes"`
	PanicDisable     bool    `yaml:"panic_disable"`
	LowDelay         bool    `yaml:"low_delay"`
	Policy           string  `yaml:"policy"` // "", "exponential" or "lowdelay"
	PanicStep        int     `yaml:"panic_step"`
	SceneChangeRatio float64 `yaml:"scene_change_ratio"`
}

// FeaturesConfig toggles optional stages.
type FeaturesConfig struct {
	HME                  bool `yaml:"hme"`
	HME16x               bool `yaml:"hme_16x"`
	HME32x               bool `yaml:"hme_32x"`
	StaticFrameDetection bool `yaml:"static_frame_detection"`
	IntraDistortion      bool `yaml:"intra_distortion"`
	MBBRC                bool `yaml:"mb_brc"`
	SceneChangeDetection bool `yaml:"scene_change_detection"`
	SingleTaskPhase      bool `yaml:"single_task_phase"`
	ROISmoothing         int  `yaml:"roi_smoothing"`
}

// PoolConfig sizes the resource ring.
type PoolConfig struct {
	Slots            int   `yaml:"slots"`
	AcquireTimeoutMs int   `yaml:"acquire_timeout_ms"`
	WaitTimeoutMs    int   `yaml:"wait_timeout_ms"`
	MemoryMB         int64 `yaml:"memory_mb"` // 0 is unlimited
}

// DeviceConfig configures the simulated device.
type DeviceConfig struct {
	LatencyUs       int            `yaml:"latency_us"`
	StaticThreshold float64        `yaml:"static_threshold"`
	Complexity      ComplexityConf `yaml:"complexity"`
	SceneCuts       []int          `yaml:"scene_cuts"`
	FailAt          []FailAtConf   `yaml:"fail_at"`
}

// ComplexityConf is the bits per macroblock at QP 26 for each picture type.
type ComplexityConf struct {
	I         float64 `yaml:"i"`
	P         float64 `yaml:"p"`
	B         float64 `yaml:"b"`
	Variation float64 `yaml:"variation"` // relative frame-to-frame swing, 0..1
	CutFactor float64 `yaml:"cut_factor"`
}

// FailAtConf injects a stage failure.
type FailAtConf struct {
	Frame int    `yaml:"frame"`
	Stage string `yaml:"stage"`
	Pass  *int   `yaml:"pass"` // nil matches every pass
}

// ScenarioConfig selects the picture sequence. File takes precedence over
// the inline script.
type ScenarioConfig struct {
	File string `yaml:"file"`
	scenario.Script `yaml:",inline"`
}

// OutputConfig holds output paths.
type OutputConfig struct {
	Path    string `yaml:"path"`
	Summary string `yaml:"summary"`
}

// DebugConfig controls debug dumps.
type DebugConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	CellSize int    `yaml:"cell_size"`
	QPLow    string `yaml:"qp_low_color"` // hex, empty keeps the built-in palette
	QPHigh   string `yaml:"qp_high_color"`
	Grid     string `yaml:"grid_color"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Session: SessionConfig{
			Codec:        "avc",
			WidthInMB:    120,
			HeightInMB:   68,
			FrameRateNum: 30,
			FrameRateDen: 1,
			GopSize:      30,
			GopRefDist:   1,
			NumRefFrames: 1,
			TargetUsage:  4,
		},
		RateControl: RateControlConfig{
			Mode:             "cbr",
			BitRate:          4000,
			MaxPasses:        2,
			PanicStep:        4,
			SceneChangeRatio: 3,
			AVBRAccuracy:     100,
			AVBRConvergence:  150,
			ICQQuality:       26,
		},
		Features: FeaturesConfig{
			HME:                  true,
			HME16x:               true,
			StaticFrameDetection: true,
			IntraDistortion:      true,
			MBBRC:                true,
			SceneChangeDetection: true,
			ROISmoothing:         1,
		},
		Pool: PoolConfig{
			Slots:            3,
			AcquireTimeoutMs: 2000,
			WaitTimeoutMs:    5000,
		},
		Device: DeviceConfig{
			Complexity: ComplexityConf{I: 96, P: 24, B: 16, Variation: 0.1, CutFactor: 4},
		},
		Scenario: ScenarioConfig{
			Script: scenario.Script{Frames: 60, Slices: 1},
		},
		Output: OutputConfig{
			Path: "out.mp4",
		},
		Debug: DebugConfig{
			Dir:      "./debug",
			CellSize: 8,
		},
		LogLevel: "info",
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for values no session can run with.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if _, err := ports.ParseCodec(c.Session.Codec); err != nil {
		return invalid("%v", err)
	}
	if c.Session.WidthInMB <= 0 || c.Session.HeightInMB <= 0 {
		return invalid("frame size %dx%d MB", c.Session.WidthInMB, c.Session.HeightInMB)
	}
	if c.Session.FrameRateNum == 0 || c.Session.FrameRateDen == 0 {
		return invalid("frame rate %d/%d", c.Session.FrameRateNum, c.Session.FrameRateDen)
	}
	if c.Session.GopSize < 0 || c.Session.GopRefDist < 0 || c.Session.NumRefFrames < 0 {
		return invalid("negative GOP structure")
	}

	mode, err := ports.ParseRateControlMode(c.RateControl.Mode)
	if err != nil {
		return invalid("%v", err)
	}
	if mode.Adaptive() && mode != ports.RateControlICQ && c.RateControl.BitRate <= 0 {
		return invalid("%s needs a positive bitrate", mode)
	}
	if c.RateControl.MaxBitRate > 0 && c.RateControl.MaxBitRate < c.RateControl.BitRate {
		return invalid("max bitrate %d below bitrate %d", c.RateControl.MaxBitRate, c.RateControl.BitRate)
	}
	if c.RateControl.MaxPasses < 0 {
		return invalid("max passes %d", c.RateControl.MaxPasses)
	}
	if _, err := c.policy(); err != nil {
		return err
	}

	if c.Features.ROISmoothing < 0 || c.Features.ROISmoothing > 3 {
		return invalid("roi smoothing %d outside 0..3", c.Features.ROISmoothing)
	}
	if c.Pool.Slots < 1 {
		return invalid("pool needs at least one slot")
	}
	if c.Device.Complexity.Variation < 0 || c.Device.Complexity.Variation >= 1 {
		return invalid("complexity variation %v outside [0, 1)", c.Device.Complexity.Variation)
	}
	if _, err := c.failAt(); err != nil {
		return err
	}
	if err := c.Scenario.Script.Validate(); err != nil {
		return invalid("%v", err)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error", "quiet":
	default:
		return invalid("log level %q", c.LogLevel)
	}
	return nil
}

func (c Config) policy() (ratecontrol.ThresholdPolicy, error) {
	switch c.RateControl.Policy {
	case "":
		return nil, nil
	case "exponential":
		return ratecontrol.ExponentialPolicy{}, nil
	case "lowdelay":
		return ratecontrol.LowDelayPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: threshold policy %q", ErrInvalidConfig, c.RateControl.Policy)
	}
}

func (c Config) failAt() ([]simdevice.FailAt, error) {
	out := make([]simdevice.FailAt, 0, len(c.Device.FailAt))
	for _, f := range c.Device.FailAt {
		kind, err := ports.ParseStageKind(f.Stage)
		if err != nil {
			return nil, fmt.Errorf("%w: fail_at: %v", ErrInvalidConfig, err)
		}
		pass := simdevice.AnyPass
		if f.Pass != nil {
			pass = *f.Pass
		}
		out = append(out, simdevice.FailAt{Frame: f.Frame, Stage: kind, Pass: pass})
	}
	return out, nil
}

// ToSessionConfig converts Config to orchestrator.Config.
func (c Config) ToSessionConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.Slots = c.Pool.Slots
	if c.Pool.AcquireTimeoutMs > 0 {
		cfg.AcquireTimeout = time.Duration(c.Pool.AcquireTimeoutMs) * time.Millisecond
	}
	if c.Pool.WaitTimeoutMs > 0 {
		cfg.WaitTimeout = time.Duration(c.Pool.WaitTimeoutMs) * time.Millisecond
	}
	cfg.Policy, _ = c.policy()
	if c.RateControl.PanicStep > 0 {
		cfg.PanicStep = c.RateControl.PanicStep
	}
	if c.RateControl.SceneChangeRatio > 0 {
		cfg.SceneChangeRatio = c.RateControl.SceneChangeRatio
	}
	cfg.ROISmoothing = c.Features.ROISmoothing
	if c.Debug.CellSize > 0 {
		cfg.MapCellSize = c.Debug.CellSize
	}
	if c.Debug.QPLow != "" {
		cfg.QPLowColor = ParseColor(c.Debug.QPLow)
	}
	if c.Debug.QPHigh != "" {
		cfg.QPHighColor = ParseColor(c.Debug.QPHigh)
	}
	if c.Debug.Grid != "" {
		cfg.GridColor = ParseColor(c.Debug.Grid)
	}
	return cfg
}

// ToSequence converts Config to the sequence parameters of every bundle.
func (c Config) ToSequence() ports.SequenceParams {
	codec, _ := ports.ParseCodec(c.Session.Codec)
	mode, _ := ports.ParseRateControlMode(c.RateControl.Mode)
	return ports.SequenceParams{
		Codec:        codec,
		WidthInMB:    c.Session.WidthInMB,
		HeightInMB:   c.Session.HeightInMB,
		FrameRateNum: c.Session.FrameRateNum,
		FrameRateDen: c.Session.FrameRateDen,

		RateControl:      mode,
		TargetBitRate:    c.RateControl.BitRate * 1000,
		MaxBitRate:       c.RateControl.MaxBitRate * 1000,
		MinBitRate:       c.RateControl.MinBitRate * 1000,
		BufferSize:       c.RateControl.BufferSize * 1000,
		InitialFullness:  c.RateControl.InitialFullness * 1000,
		ICQQualityFactor: c.RateControl.ICQQuality,
		AVBRAccuracy:     c.RateControl.AVBRAccuracy,
		AVBRConvergence:  c.RateControl.AVBRConvergence,

		GopSize:      c.Session.GopSize,
		GopRefDist:   c.Session.GopRefDist,
		NumRefFrames: c.Session.NumRefFrames,
		TargetUsage:  c.Session.TargetUsage,

		HME:                  c.Features.HME,
		HME16x:               c.Features.HME16x,
		HME32x:               c.Features.HME32x,
		StaticFrameDetection: c.Features.StaticFrameDetection,
		IntraDistortion:      c.Features.IntraDistortion,
		MBBRC:                c.Features.MBBRC,
		SceneChangeDetection: c.Features.SceneChangeDetection,
		SingleTaskPhase:      c.Features.SingleTaskPhase,
		PanicModeDisable:     c.RateControl.PanicDisable,
		LowDelay:             c.RateControl.LowDelay,
		MaxPasses:            c.RateControl.MaxPasses,
	}
}

// ToDeviceOptions converts Config to simulated device options.
func (c Config) ToDeviceOptions(logger ports.Logger) simdevice.Options {
	failAt, _ := c.failAt()
	return simdevice.Options{
		Complexity:      c.Device.Complexity.Func(c.Device.SceneCuts),
		Latency:         time.Duration(c.Device.LatencyUs) * time.Microsecond,
		StaticThreshold: c.Device.StaticThreshold,
		FailAt:          failAt,
		Logger:          logger,
	}
}

// MemoryBytes returns the simulated device memory capacity.
func (c Config) MemoryBytes() int64 {
	return c.Pool.MemoryMB * 1024 * 1024
}

// Script returns the scenario script, reading Scenario.File through fs when set.
func (c Config) Script(fs ports.FileSystem) (*scenario.Script, error) {
	if c.Scenario.File != "" {
		return scenario.Load(fs, c.Scenario.File)
	}
	s := c.Scenario.Script
	return &s, nil
}

// Func returns a complexity function. Frames listed in cuts cost CutFactor
// times more; the rest swing by Variation along a slow sine.
func (cc ComplexityConf) Func(cuts []int) simdevice.ComplexityFunc {
	cutSet := make(map[int]bool, len(cuts))
	for _, f := range cuts {
		cutSet[f] = true
	}
	return func(frame int, picture ports.PictureType) float64 {
		var c float64
		switch picture {
		case ports.PictureI:
			c = cc.I
		case ports.PictureB:
			c = cc.B
		default:
			c = cc.P
		}
		if c <= 0 {
			c = simdevice.DefaultComplexity(frame, picture)
		}
		c *= 1 + cc.Variation*math.Sin(float64(frame)/5)
		if cutSet[frame] && cc.CutFactor > 0 {
			c *= cc.CutFactor
		}
		return c
	}
}

// ParseColor parses a hex color string to color.Color.
func ParseColor(hex string) color.Color {
	if len(hex) == 0 {
		return color.Black
	}

	if hex[0] == '#' {
		hex = hex[1:]
	}

	if len(hex) != 6 {
		return color.Black
	}

	return color.RGBA{
		R: hexValue(hex[0])<<4 | hexValue(hex[1]),
		G: hexValue(hex[2])<<4 | hexValue(hex[3]),
		B: hexValue(hex[4])<<4 | hexValue(hex[5]),
		A: 255,
	}
}

func hexValue(c byte) uint8 {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
