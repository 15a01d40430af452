package config

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/framebrc/pkg/adapters/simdevice"
	"github.com/user/framebrc/pkg/mocks"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
)

func TestDefaults_Valid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framebrc.yaml")
	data := []byte(`
session:
  width_mb: 40
  height_mb: 30
rate_control:
  mode: vbr
  bitrate_kbps: 2000
  max_bitrate_kbps: 3000
  max_passes: 3
device:
  fail_at:
    - frame: 4
      stage: mb-encode
      pass: 1
scenario:
  frames: 12
  gop: IPPP
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	seq := cfg.ToSequence()
	if seq.WidthInMB != 40 || seq.HeightInMB != 30 {
		t.Errorf("expected 40x30 MB, got %dx%d", seq.WidthInMB, seq.HeightInMB)
	}
	if seq.RateControl != ports.RateControlVBR || seq.TargetBitRate != 2_000_000 || seq.MaxBitRate != 3_000_000 {
		t.Errorf("unexpected rate control: %+v", seq)
	}
	if seq.MaxPasses != 3 {
		t.Errorf("expected 3 passes, got %d", seq.MaxPasses)
	}
	// Untouched keys keep their defaults.
	if seq.FrameRateNum != 30 || !seq.HME {
		t.Errorf("expected defaults preserved, got %+v", seq)
	}
	if cfg.Scenario.Frames != 12 || cfg.Scenario.GOP != "IPPP" {
		t.Errorf("unexpected scenario: %+v", cfg.Scenario)
	}

	opts := cfg.ToDeviceOptions(nil)
	if len(opts.FailAt) != 1 || opts.FailAt[0] != (simdevice.FailAt{Frame: 4, Stage: ports.StageMacroblockEncode, Pass: 1}) {
		t.Errorf("unexpected fail_at: %+v", opts.FailAt)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("session: [1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad codec", func(c *Config) { c.Session.Codec = "vp9" }},
		{"zero width", func(c *Config) { c.Session.WidthInMB = 0 }},
		{"zero frame rate", func(c *Config) { c.Session.FrameRateDen = 0 }},
		{"bad mode", func(c *Config) { c.RateControl.Mode = "abr" }},
		{"cbr without bitrate", func(c *Config) { c.RateControl.BitRate = 0 }},
		{"max below target", func(c *Config) { c.RateControl.MaxBitRate = 1000 }},
		{"negative passes", func(c *Config) { c.RateControl.MaxPasses = -1 }},
		{"bad policy", func(c *Config) { c.RateControl.Policy = "linear" }},
		{"smoothing out of range", func(c *Config) { c.Features.ROISmoothing = 4 }},
		{"no slots", func(c *Config) { c.Pool.Slots = 0 }},
		{"bad variation", func(c *Config) { c.Device.Complexity.Variation = 1 }},
		{"bad stage", func(c *Config) { c.Device.FailAt = []FailAtConf{{Stage: "deblock"}} }},
		{"bad scenario", func(c *Config) { c.Scenario.GOP = "PPI" }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidate_CQPNeedsNoBitrate(t *testing.T) {
	cfg := Defaults()
	cfg.RateControl.Mode = "cqp"
	cfg.RateControl.BitRate = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("CQP should not need a bitrate: %v", err)
	}
}

func TestToSessionConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.Slots = 5
	cfg.Pool.AcquireTimeoutMs = 250
	cfg.RateControl.Policy = "lowdelay"
	cfg.Features.ROISmoothing = 2
	cfg.Debug.Grid = "#ffffff"

	sc := cfg.ToSessionConfig()
	if sc.Slots != 5 {
		t.Errorf("expected 5 slots, got %d", sc.Slots)
	}
	if sc.AcquireTimeout != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", sc.AcquireTimeout)
	}
	if _, ok := sc.Policy.(ratecontrol.LowDelayPolicy); !ok {
		t.Errorf("expected LowDelayPolicy, got %T", sc.Policy)
	}
	if sc.ROISmoothing != 2 {
		t.Errorf("expected smoothing 2, got %d", sc.ROISmoothing)
	}
	if sc.GridColor != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("expected white grid, got %v", sc.GridColor)
	}
	if sc.QPLowColor != nil {
		t.Error("unset colours should stay nil")
	}

	cfg.RateControl.Policy = ""
	if cfg.ToSessionConfig().Policy != nil {
		t.Error("empty policy should select by sequence")
	}
}

func TestComplexityFunc(t *testing.T) {
	cc := ComplexityConf{I: 100, P: 20, CutFactor: 4}
	f := cc.Func([]int{7})

	if got := f(0, ports.PictureI); got != 100 {
		t.Errorf("expected 100, got %v", got)
	}
	if got := f(3, ports.PictureP); got != 20 {
		t.Errorf("expected 20, got %v", got)
	}
	if got := f(7, ports.PictureP); got != 80 {
		t.Errorf("expected cut frame 80, got %v", got)
	}
	// B falls back to the device default.
	if got := f(1, ports.PictureB); got != simdevice.DefaultComplexity(1, ports.PictureB) {
		t.Errorf("expected default B complexity, got %v", got)
	}
}

func TestScript(t *testing.T) {
	fs := mocks.NewFileSystem()
	if err := fs.WriteFile("s.yaml", []byte("frames: 3\n")); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	s, err := cfg.Script(fs)
	if err != nil || s.Frames != 60 {
		t.Errorf("expected inline script with 60 frames, got %+v (%v)", s, err)
	}

	cfg.Scenario.File = "s.yaml"
	s, err = cfg.Script(fs)
	if err != nil || s.Frames != 3 {
		t.Errorf("expected file script with 3 frames, got %+v (%v)", s, err)
	}
}

func TestMemoryBytes(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.MemoryMB = 2
	if cfg.MemoryBytes() != 2*1024*1024 {
		t.Errorf("expected 2 MiB, got %d", cfg.MemoryBytes())
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		input string
		want  color.Color
	}{
		{"#ff0000", color.RGBA{R: 255, A: 255}},
		{"00FF80", color.RGBA{G: 255, B: 128, A: 255}},
		{"", color.Black},
		{"#fff", color.Black},
	}
	for _, tt := range tests {
		if got := ParseColor(tt.input); got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
