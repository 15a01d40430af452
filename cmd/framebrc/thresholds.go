package main

import (
	"fmt"
	"io"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"

	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/ratecontrol"
)

func thresholdsCommand() *cli.Command {
	return &cli.Command{
		Name:  "thresholds",
		Usage: l10n.T("Print the deviation thresholds for a bitrate and buffer"),
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "bitrate", Aliases: []string{"b"}, Value: 4000, Usage: l10n.T("Target bitrate in kbps")},
			&cli.Int64Flag{Name: "buffer", Usage: l10n.T("Buffer size in kbit (0 = four frames)")},
			&cli.Float64Flag{Name: "fps", Value: 30, Usage: l10n.T("Frame rate")},
			&cli.BoolFlag{Name: "low-delay", Usage: l10n.T("Use the low-delay tables")},
		},
		Action: thresholdsAction,
	}
}

func thresholdsAction(c *cli.Context) error {
	fps := c.Float64("fps")
	if fps <= 0 {
		return fmt.Errorf("invalid frame rate: %v", fps)
	}

	seq := ports.SequenceParams{
		RateControl:   ports.RateControlCBR,
		TargetBitRate: c.Int64("bitrate") * 1000,
		BufferSize:    c.Int64("buffer") * 1000,
		FrameRateNum:  uint32(fps * 1000),
		FrameRateDen:  1000,
		LowDelay:      c.Bool("low-delay"),
	}
	engine := ratecontrol.NewEngine(ratecontrol.DefaultConfig())
	if err := engine.Init(seq, false); err != nil {
		return err
	}
	printThresholds(c.App.Writer, engine.Snapshot())
	return nil
}

func printThresholds(w io.Writer, s ratecontrol.State) {
	fmt.Fprintln(w, l10n.F("Bits per frame: %.0f, buffer: %.0f, ratio: %.2f", s.InputBitsPerFrame, s.BufferSize, s.BPSRatio))
	rows := []struct {
		name string
		t    ratecontrol.Thresholds
	}{
		{"I", s.Thresholds.I},
		{"P/B", s.Thresholds.PB},
		{"VBR", s.Thresholds.VBR},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-4s", r.name)
		for _, v := range r.t {
			fmt.Fprintf(w, " %5d", v)
		}
		fmt.Fprintln(w)
	}
}
