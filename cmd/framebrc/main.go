// Package main provides the CLI entry point for framebrc.
package main

import (
	"fmt"
	"os"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"

	"github.com/user/framebrc/pkg/adapters/logger"
	"github.com/user/framebrc/pkg/ports"
)

var version = "dev"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "framebrc",
		Usage: l10n.T("Drive per-frame encode sessions with adaptive bitrate control"),
		Description: l10n.T("framebrc schedules the stages of every picture on a device, " +
			"re-encodes frames that miss their bit budget and writes the packetized stream."),
		Commands: []*cli.Command{
			runCommand(),
			thresholdsCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: l10n.T("Show version information"),
		Action: func(c *cli.Context) error {
			fmt.Fprintln(c.App.Writer, l10n.F("framebrc version %s", version))
			return nil
		},
	}
}

// newLogger creates the console logger on the app writers, or a silent one
// when quiet.
func newLogger(c *cli.Context, level string, quiet bool) ports.Logger {
	if quiet {
		return logger.NewNoop()
	}
	return logger.NewConsoleTo(ports.ParseLogLevel(level), c.App.Writer, c.App.ErrWriter)
}
