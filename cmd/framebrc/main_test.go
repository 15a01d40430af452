package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runApp(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	if err := app.Run(append([]string{"framebrc"}, args...)); err != nil {
		t.Fatalf("Run(%v) error = %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestVersion(t *testing.T) {
	out := runApp(t, "version")
	if !strings.Contains(out, version) {
		t.Errorf("version output %q does not contain %q", out, version)
	}
}

func TestThresholds(t *testing.T) {
	out := runApp(t, "thresholds", "--bitrate", "4000", "--fps", "30")
	for _, row := range []string{"I ", "P/B", "VBR"} {
		if !strings.Contains(out, row) {
			t.Errorf("thresholds output missing row %q:\n%s", row, out)
		}
	}
}

func TestThresholdsInvalidFrameRate(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	if err := app.Run([]string{"framebrc", "thresholds", "--fps", "0"}); err == nil {
		t.Error("expected error for zero frame rate")
	}
}

func TestRunWritesOutputAndSummary(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mp4")
	summary := filepath.Join(dir, "report", "summary.md")

	runApp(t, "run", "--quiet", "--frames", "6", "--output", output, "--summary", summary)

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("output is empty")
	}
	data, err := os.ReadFile(summary)
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	if !strings.Contains(string(data), "|") {
		t.Errorf("summary has no tables:\n%s", data)
	}
}

func TestRunUnknownPreset(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"framebrc", "run", "--quiet", "--preset", "nope", "--output", ""})
	if err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestRunWritesYAMLSummary(t *testing.T) {
	summary := filepath.Join(t.TempDir(), "summary.yaml")

	runApp(t, "run", "--quiet", "--frames", "3", "--output", "", "--summary", summary)

	data, err := os.ReadFile(summary)
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	if !strings.Contains(string(data), "frames:") || strings.Contains(string(data), "|") {
		t.Errorf("summary is not YAML:\n%s", data)
	}
}

func TestRunLogsToAppWriter(t *testing.T) {
	out := runApp(t, "run", "--frames", "2", "--output", "")
	if !strings.Contains(out, "Session completed: 2 frames encoded") {
		t.Errorf("session log not written to the app writer:\n%s", out)
	}
}
