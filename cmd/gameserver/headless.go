package main

import (
	"context"
	"fmt"

	"github.com/race/endless/config"
	"github.com/race/endless/internal/game"
	"github.com/race/endless/internal/physics/boxworld"
	"github.com/race/endless/internal/telemetry"
	"github.com/rs/zerolog"
)

// autopilotThrottle keeps the car below top speed so it can hold the curves.
const autopilotThrottle = 0.8

// runSummary is the outcome of a headless run.
type runSummary struct {
	Frames     uint64
	Time       float64
	Score      int
	Best       int
	Resets     int
	Explosions int
	Distance   float64
}

// runHeadless drives one session for the given simulated seconds at fps host
// frames per second. It stops early when ctx is cancelled.
func runHeadless(ctx context.Context, tuning config.Tuning, seconds float64, fps int, log zerolog.Logger) (runSummary, error) {
	metrics, err := telemetry.NewMetrics(telemetry.Meter(), "headless")
	if err != nil {
		return runSummary{}, err
	}
	s, err := game.NewSession("headless", tuning,
		boxworld.Factory(tuning.Physics.BroadphaseCell),
		game.WithLogger(log),
		game.WithMetrics(metrics),
	)
	if err != nil {
		return runSummary{}, fmt.Errorf("start session: %w", err)
	}

	ap := game.NewAutopilot(s.Vehicle(), s.Streamer(), autopilotThrottle)
	s.SetInput(ap)

	var sum runSummary
	s.OnScore(func(ev game.ScoreEvent) {
		sum.Best = max(sum.Best, ev.Total)
		log.Debug().Stringer("kind", ev.Kind).Int("delta", ev.Delta).Int("total", ev.Total).Msg("score")
	})

	dt := 1 / float64(fps)
	frames := int(seconds * float64(fps))
	for i := 0; i < frames; i++ {
		select {
		case <-ctx.Done():
			log.Warn().Int("frame", i).Msg("run interrupted")
			return sum.fill(s), nil
		default:
		}

		s.Tick(dt)
		sum.Distance = max(sum.Distance, -s.PlayerPosition().Z())

		if (i+1)%fps == 0 {
			pos := s.PlayerPosition()
			log.Info().
				Float64("t", s.Now()).
				Float64("z", pos.Z()).
				Float64("speed", s.Speed()).
				Int("score", s.Score()).
				Int("npcs", s.Lifecycle().NPCCount()).
				Int("bodies", s.Simulation().BodyCount()).
				Stringer("state", s.Vehicle().State).
				Msg("progress")
		}
	}
	return sum.fill(s), nil
}

func (r runSummary) fill(s *game.Session) runSummary {
	r.Frames = s.Frame()
	r.Time = s.Now()
	r.Score = s.Score()
	r.Best = max(r.Best, r.Score)
	r.Resets = s.Resets()
	r.Explosions = s.Vehicle().Explosions()
	return r
}
