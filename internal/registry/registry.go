// Package registry tracks the live sessions of a host process.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/race/endless/config"
	"github.com/race/endless/internal/game"
	"github.com/race/endless/internal/physics"
	"github.com/race/endless/internal/telemetry"
	"github.com/rs/zerolog"
)

// Registry creates sessions, runs each on its own Runner and reaps idle ones.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	tuning  config.Tuning
	factory physics.Factory
	opts    []game.Option
	log     zerolog.Logger

	maxSessions int
	idleTime    time.Duration
	now         func() time.Time
}

type entry struct {
	id      string
	seed    uint64
	created time.Time
	runner  *game.Runner
}

// New creates a registry that builds sessions from tuning and factory.
// opts are applied to every session ahead of the per-session seed.
func New(tuning config.Tuning, factory physics.Factory, log zerolog.Logger, opts ...game.Option) *Registry {
	return &Registry{
		sessions:    make(map[string]*entry),
		tuning:      tuning,
		factory:     factory,
		opts:        opts,
		log:         log,
		maxSessions: config.MaxSessions,
		idleTime:    config.SessionIdleTime,
		now:         time.Now,
	}
}

// SetLimits overrides the session cap and idle timeout.
func (r *Registry) SetLimits(maxSessions int, idle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSessions = maxSessions
	r.idleTime = idle
}

// Create builds a session with the given seed and starts its runner under ctx.
func (r *Registry) Create(ctx context.Context, seed uint64) (string, *game.Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		return "", nil, game.ErrSessionFull
	}

	id := generateSessionID()
	metrics, err := telemetry.NewMetrics(telemetry.Meter(), id)
	if err != nil {
		return "", nil, fmt.Errorf("session metrics: %w", err)
	}
	opts := append(append([]game.Option{game.WithMetrics(metrics)}, r.opts...),
		game.WithSeed(seed),
		game.WithLogger(r.log.With().Str("session", id).Logger()),
	)
	s, err := game.NewSession(id, r.tuning, r.factory, opts...)
	if err != nil {
		return "", nil, err
	}

	runner := game.NewRunner(s, r.log)
	r.sessions[id] = &entry{id: id, seed: seed, created: r.now(), runner: runner}
	runner.Start(ctx)

	r.log.Info().Str("session", id).Uint64("seed", seed).Int("sessions", len(r.sessions)).Msg("session created")
	return id, runner, nil
}

// Get returns the runner for id.
func (r *Registry) Get(id string) (*game.Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, game.ErrSessionNotFound
	}
	return e.runner, nil
}

// Remove stops and forgets a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		e.runner.Stop()
		r.log.Info().Str("session", id).Msg("session removed")
	}
}

// CleanupIdle removes sessions whose loop has exited or that have had no
// accepted input for the idle timeout.
func (r *Registry) CleanupIdle() int {
	r.mu.Lock()
	now := r.now()
	var stale []*entry
	for id, e := range r.sessions {
		if r.idle(e, now) {
			stale = append(stale, e)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.runner.Stop()
		r.log.Info().Str("session", e.id).Msg("idle session reaped")
	}
	return len(stale)
}

func (r *Registry) idle(e *entry, now time.Time) bool {
	select {
	case <-e.runner.Done():
		return true
	default:
	}
	return now.Sub(e.runner.Input().LastInput()) > r.idleTime
}

// Shutdown stops every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		all = append(all, e)
	}
	clear(r.sessions)
	r.mu.Unlock()

	for _, e := range all {
		e.runner.Stop()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GetStats returns registry statistics
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalSessions: len(r.sessions),
		MaxSessions:   r.maxSessions,
		Sessions:      make([]SessionStats, 0, len(r.sessions)),
	}
	now := r.now()
	for id, e := range r.sessions {
		snap := e.runner.Latest()
		stats.Sessions = append(stats.Sessions, SessionStats{
			ID:      id,
			Seed:    e.seed,
			Frame:   snap.Frame,
			Score:   snap.Score,
			Steps:   e.runner.Steps(),
			Dropped: e.runner.Dropped(),
			Age:     now.Sub(e.created).Round(time.Second).String(),
		})
	}
	return stats
}

// Stats contains registry statistics
type Stats struct {
	TotalSessions int            `json:"totalSessions"`
	MaxSessions   int            `json:"maxSessions"`
	Sessions      []SessionStats `json:"sessions"`
}

// SessionStats contains session statistics
type SessionStats struct {
	ID      string `json:"id"`
	Seed    uint64 `json:"seed"`
	Frame   uint64 `json:"frame"`
	Score   int    `json:"score"`
	Steps   uint64 `json:"steps"`
	Dropped uint64 `json:"dropped"`
	Age     string `json:"age"`
}

// generateSessionID generates a random session ID
func generateSessionID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
