package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/user/framebrc/pkg/adapters/filesink"
	"github.com/user/framebrc/pkg/adapters/ggrenderer"
	"github.com/user/framebrc/pkg/adapters/logtelemetry"
	"github.com/user/framebrc/pkg/adapters/mp4packetizer"
	"github.com/user/framebrc/pkg/adapters/nullpacketizer"
	"github.com/user/framebrc/pkg/adapters/nullsink"
	"github.com/user/framebrc/pkg/adapters/osfilesystem"
	"github.com/user/framebrc/pkg/adapters/scenario"
	"github.com/user/framebrc/pkg/adapters/simdevice"
	"github.com/user/framebrc/pkg/config"
	"github.com/user/framebrc/pkg/orchestrator"
	"github.com/user/framebrc/pkg/ports"
	"github.com/user/framebrc/pkg/preset"
	"github.com/user/framebrc/pkg/summarizer"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: l10n.T("Encode a scenario on the simulated device"),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: l10n.T("YAML configuration file")},
			&cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: l10n.T("Rate control preset (streaming, broadcast, archive, lowdelay)")},
			&cli.IntFlag{Name: "frames", Aliases: []string{"n"}, Usage: l10n.T("Number of frames to encode")},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: l10n.T("Output MP4 file path (empty discards the stream)")},
			&cli.StringFlag{Name: "summary", Usage: l10n.T("Output execution summary to file (Markdown, or YAML for .yaml paths)")},
			&cli.IntFlag{Name: "max-passes", Usage: l10n.T("Maximum re-encode passes per frame")},
			&cli.StringFlag{Name: "rc-mode", Usage: l10n.T("Rate control mode (cbr, vbr, avbr, cqp, icq, qvbr)")},
			&cli.Int64Flag{Name: "bitrate", Aliases: []string{"b"}, Usage: l10n.T("Target bitrate in kbps")},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: l10n.T("Enable debug output")},
			&cli.StringFlag{Name: "debug-dir", Usage: l10n.T("Directory for debug output")},
			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: l10n.T("Log level (debug, info, warn, error)")},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: l10n.T("Suppress all log output")},
		},
		Action: runAction,
	}
}

// buildConfig loads the config file, applies the preset and then the flag overrides.
func buildConfig(c *cli.Context) (config.Config, preset.Name, error) {
	var builder *preset.ConfigBuilder
	if path := c.String("config"); path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return cfg, "", fmt.Errorf("load config: %w", err)
		}
		builder = preset.FromConfig(cfg)
	} else {
		builder = preset.NewConfigBuilder()
	}

	if c.IsSet("preset") {
		name, err := preset.Parse(c.String("preset"))
		if err != nil {
			return config.Config{}, "", err
		}
		builder.WithPreset(name)
	}
	if c.IsSet("frames") {
		builder.WithFrames(c.Int("frames"))
	}
	if c.IsSet("output") {
		builder.WithOutput(c.String("output"))
	}
	if c.IsSet("summary") {
		builder.WithSummary(c.String("summary"))
	}
	if c.IsSet("rc-mode") {
		builder.WithRateControl(c.String("rc-mode"))
	}
	if c.IsSet("bitrate") {
		builder.WithBitRate(c.Int64("bitrate"))
	}
	if c.IsSet("max-passes") {
		builder.WithMaxPasses(c.Int("max-passes"))
	}
	if c.Bool("debug") {
		builder.WithDebug(c.String("debug-dir"))
	}
	if c.IsSet("log-level") {
		builder.WithLogLevel(c.String("log-level"))
	}

	cfg := builder.Build()
	if err := cfg.Validate(); err != nil {
		return cfg, "", err
	}
	return cfg, builder.Preset(), nil
}

func runAction(c *cli.Context) error {
	cfg, presetName, err := buildConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(c, cfg.LogLevel, c.Bool("quiet"))

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// Create adapters
	fs := osfilesystem.New()
	seq := cfg.ToSequence()

	script, err := cfg.Script(fs)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	provider, err := scenario.FromScript(seq, script)
	if err != nil {
		return fmt.Errorf("build scenario: %w", err)
	}

	executor := simdevice.New(cfg.ToDeviceOptions(log.WithComponent("simdevice")))
	defer executor.Close()
	allocator := simdevice.NewAllocator(cfg.MemoryBytes())

	packetizer, err := newPacketizer(fs, cfg, seq, log)
	if err != nil {
		return err
	}

	var sink ports.DebugSink
	if cfg.Debug.Enabled {
		if err := fs.MkdirAll(cfg.Debug.Dir); err != nil {
			return fmt.Errorf("create debug directory: %w", err)
		}
		sink = filesink.New(cfg.Debug.Dir, fs, ggrenderer.New())
	} else {
		sink = nullsink.New()
	}

	collector := summarizer.NewCollector()
	session, err := orchestrator.New(cfg.ToSessionConfig(), orchestrator.Dependencies{
		Executor:   executor,
		Allocator:  allocator,
		Packetizer: packetizer,
		Telemetry:  logtelemetry.Fanout{collector, logtelemetry.New(log.WithComponent("telemetry"))},
		Sink:       sink,
		Renderer:   ggrenderer.New(),
		Logger:     log,
	})
	if err != nil {
		return err
	}

	log.Info(l10n.F("Encoding %d frames (%s, %s preset)...", provider.Len(), seq.RateControl, presetLabel(presetName)))

	var result orchestrator.RunResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			log.Warn(l10n.T("Interrupted, shutting down..."))
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		var runErr error
		result, runErr = session.Run(gctx, provider)
		return runErr
	})
	runErr := g.Wait()

	if err := session.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}

	if cfg.Output.Path != "" && seq.Codec == ports.CodecAVC {
		log.Info(l10n.F("Output saved to %s", cfg.Output.Path))
	}

	if cfg.Output.Summary != "" {
		summary := summarizer.NewBuilder().
			WithSequence(presetLabel(presetName), seq).
			WithRun(result).
			WithFrames(collector.Rows()).
			Build()
		writer := summarizer.NewWriter(fs, summarizer.FormatterFor(cfg.Output.Summary))
		if err := writer.Write(cfg.Output.Summary, summary); err != nil {
			log.Warn(l10n.F("Failed to write summary: %s", err))
		} else {
			log.Info(l10n.F("Summary saved to %s", cfg.Output.Summary))
		}
	}
	return nil
}

// newPacketizer returns the fMP4 writer, or a byte counter when there is no
// output path or the codec has no MP4 sample entry.
func newPacketizer(fs ports.FileSystem, cfg config.Config, seq ports.SequenceParams, log ports.Logger) (ports.Packetizer, error) {
	if cfg.Output.Path == "" {
		return nullpacketizer.New(), nil
	}
	if seq.Codec != ports.CodecAVC {
		log.Warn(l10n.F("No MP4 output for %s, discarding the stream", seq.Codec))
		return nullpacketizer.New(), nil
	}
	p, err := mp4packetizer.New(fs, mp4packetizer.Options{
		Path:         cfg.Output.Path,
		Codec:        seq.Codec,
		WidthInMB:    seq.WidthInMB,
		HeightInMB:   seq.HeightInMB,
		FrameRateNum: seq.FrameRateNum,
		FrameRateDen: seq.FrameRateDen,
		ReorderDepth: max(seq.GopRefDist-1, 0),
		Logger:       log.WithComponent("mp4"),
	})
	if err != nil {
		return nil, fmt.Errorf("create packetizer: %w", err)
	}
	return p, nil
}

func presetLabel(n preset.Name) string {
	if n == "" {
		return "custom"
	}
	return string(n)
}
