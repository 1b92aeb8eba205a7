// Command tcc runs the Tracker Control Container nodes: the tracker pipeline
// that shapes position samples into commands, the actuator that executes
// them, and the relay that distributes them to observer sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/tracker-control/tcc/internal/config"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}
	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

// runtime carries the configuration and logger resolved by the root command
// into the subcommands.
type runtime struct {
	LogLevel   string
	ConfigPath string

	cfg *config.Config
	log zerolog.Logger
}

func main() {
	rt := &runtime{}

	app := &cli.Command{
		Name:      "tcc",
		Usage:     "Multi-tenant tracker command shaping and distribution",
		UsageText: "tcc [global options] command [command options]",
		Version:   build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("TCC_LOG_LEVEL"),
				Value:       "info",
				Destination: &rt.LogLevel,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to YAML config file",
				Sources:     cli.EnvVars("TCC_CONFIG"),
				Destination: &rt.ConfigPath,
			},
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			logger, err := setupLogger(rt.LogLevel)
			if err != nil {
				return ctx, err
			}
			rt.log = logger

			cfg, err := config.Load(rt.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			rt.cfg = cfg
			return ctx, nil
		},
		Commands: []*cli.Command{
			newTrackCmd(rt),
			newActuateCmd(rt),
			newRelayCmd(rt),
			newSimulateCmd(rt),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setupLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("failed to parse log level: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().
		Timestamp().
		Logger()
	return logger, nil
}
