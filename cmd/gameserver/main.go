// Package main implements the endless driving host.
//
// Modes:
//   - serve: each WebSocket connection owns one single-player session. The
//     session runs its physics loop at 60Hz and snapshots are streamed at 20Hz.
//   - run: simulates one session headless with the autopilot and logs progress.
//
// Connection Flow:
//  1. Client connects via WebSocket to /ws endpoint
//  2. Client sends JoinSession, optionally with a seed
//  3. Server creates a session and replies with SessionInfo
//  4. Client sends Input messages, server streams Snapshot and Score messages
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/race/endless/config"
	"github.com/race/endless/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env is optional
	_ = godotenv.Load()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "gameserver",
		Usage: "endless procedural driving simulation host",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "trace, debug, info, warn or error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "pretty",
				Usage:   "human readable console logs",
				Sources: cli.EnvVars("LOG_PRETTY"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			runCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	defaults := config.DefaultServerConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "stream sessions to WebSocket clients",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: defaults.Host, Sources: cli.EnvVars("HOST")},
			&cli.IntFlag{Name: "port", Value: defaults.Port, Sources: cli.EnvVars("PORT")},
			&cli.BoolFlag{Name: "cors", Value: defaults.EnableCORS, Usage: "accept any origin", Sources: cli.EnvVars("ENABLE_CORS")},
			&cli.StringFlag{Name: "config", Usage: "tuning file (json, toml or yaml)", Sources: cli.EnvVars("DRIFT_CONFIG")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, err := loggerFrom(cmd)
			if err != nil {
				return err
			}
			tuning, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			cfg := &config.ServerConfig{
				Host:       cmd.String("host"),
				Port:       cmd.Int("port"),
				EnableCORS: cmd.Bool("cors"),
			}

			log.Info().
				Str("host", cfg.Host).
				Int("port", cfg.Port).
				Int("step_rate", config.StepRate).
				Int("snapshot_rate", config.SnapshotRate).
				Int("max_sessions", config.MaxSessions).
				Msg("starting game server")

			return NewGameServer(cfg, tuning, log).Start(ctx)
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "simulate one session headless with the autopilot",
		Flags: []cli.Flag{
			&cli.FloatFlag{Name: "seconds", Value: 60, Usage: "simulated time"},
			&cli.Uint64Flag{Name: "seed", Usage: "world seed, overrides the tuning seed"},
			&cli.StringFlag{Name: "config", Usage: "tuning file (json, toml or yaml)", Sources: cli.EnvVars("DRIFT_CONFIG")},
			&cli.IntFlag{Name: "fps", Value: 60, Usage: "host frames per simulated second"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, err := loggerFrom(cmd)
			if err != nil {
				return err
			}
			tuning, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			if cmd.IsSet("seed") {
				tuning.Seed = cmd.Uint64("seed")
			}
			fps := cmd.Int("fps")
			if fps <= 0 {
				return fmt.Errorf("fps must be positive, got %d", fps)
			}

			summary, err := runHeadless(ctx, tuning, cmd.Float("seconds"), fps, log)
			if err != nil {
				return err
			}
			log.Info().
				Uint64("frames", summary.Frames).
				Float64("time", summary.Time).
				Int("score", summary.Score).
				Int("best", summary.Best).
				Int("resets", summary.Resets).
				Int("explosions", summary.Explosions).
				Float64("distance", summary.Distance).
				Msg("run finished")
			return nil
		},
	}
}

func loggerFrom(cmd *cli.Command) (zerolog.Logger, error) {
	return telemetry.NewLogger(os.Stderr, cmd.String("log-level"), cmd.Bool("pretty"))
}
