// Package game implements the driving simulation: the player vehicle, traffic,
// props, contact rules and the fixed-step session that orders them.
package game

import (
	"fmt"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/config"
	"github.com/race/endless/internal/physics"
	"github.com/race/endless/internal/telemetry"
	"github.com/race/endless/internal/world"
	"github.com/rs/zerolog"
)

// Session is one player's endless run.
//
// Each session owns its own:
// - physics world, stepped at a fixed rate
// - road streamer and decoration builders
// - traffic, props and debris
// - score
//
// Thread Safety:
// Session is not safe for concurrent use. A Runner drives it from a single
// goroutine and feeds it input through an InputLatch.
type Session struct {
	ID string

	tuning  config.Tuning
	log     zerolog.Logger
	metrics *telemetry.Metrics

	sim       physics.Simulation
	clock     *Clock
	streamer  *world.Streamer
	vehicle   *Vehicle
	debris    *DebrisPool
	lifecycle *Lifecycle
	resolver  *CollisionResolver
	input     InputSource

	spawn   mgl64.Vec3
	score   int
	frame   uint64
	resets  int
	onScore []ScoreFunc
}

type sessionOptions struct {
	log     zerolog.Logger
	metrics *telemetry.Metrics
	input   InputSource
	gen     world.Generator
	seed    *uint64
}

// Option configures a Session.
type Option func(*sessionOptions)

// WithLogger sets the session logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(o *sessionOptions) { o.log = log }
}

// WithMetrics sets the session instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *sessionOptions) { o.metrics = m }
}

// WithInput sets the input source polled every step.
func WithInput(in InputSource) Option {
	return func(o *sessionOptions) { o.input = in }
}

// WithGenerator replaces the random-walk road generator.
func WithGenerator(g world.Generator) Option {
	return func(o *sessionOptions) { o.gen = g }
}

// WithSeed overrides the tuning seed.
func WithSeed(seed uint64) Option {
	return func(o *sessionOptions) { o.seed = &seed }
}

// NewSession builds every manager for a fresh run and generates the first
// stretch of road. The vehicle starts at rest at the origin facing -z.
func NewSession(id string, tuning config.Tuning, factory physics.Factory, opts ...Option) (*Session, error) {
	o := sessionOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := tuning.Validate(); err != nil {
		return nil, &SessionError{message: "invalid tuning", err: err}
	}
	if o.metrics == nil {
		o.metrics = telemetry.NopMetrics()
	}
	seed := tuning.Seed
	if o.seed != nil {
		seed = *o.seed
	}
	log := o.log.With().Str("session", id).Logger()

	sim, err := factory(mgl64.Vec3{0, config.Gravity, 0}, config.FixedTimestep)
	if err != nil {
		return nil, fmt.Errorf("create physics world: %w", err)
	}

	if o.gen == nil {
		r := tuning.Road
		o.gen = world.NewRandomWalk(rand.New(rand.NewPCG(seed, 0x5eed)), r.StepLength, r.HeadingJitter, r.MaxHeading, r.CurveScale)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	s := &Session{
		ID:      id,
		tuning:  tuning,
		log:     log,
		metrics: o.metrics,
		sim:     sim,
		clock:   NewClock(config.FixedTimestep, config.MaxFrameDelta),
		input:   o.input,
	}

	s.streamer = world.NewStreamer(tuning.Road, o.gen, world.Waypoint{}, log)
	s.streamer.SetOnFallback(func(error) { s.metrics.Fallback() })

	s.debris = NewDebrisPool(sim, rng, tuning.Vehicle.DebrisTTL, tuning.Vehicle.DebrisSpeed)
	s.vehicle = NewVehicle(tuning.Vehicle, sim, s.debris, log)
	if err := s.vehicle.Spawn(s.spawn, tuning.Physics.Friction, tuning.Physics.Restitution); err != nil {
		return nil, fmt.Errorf("spawn vehicle: %w", err)
	}

	s.lifecycle = NewLifecycle(tuning, sim, s.streamer, rng, log, s.metrics)
	s.lifecycle.SetScoreFunc(s.addScore)
	s.streamer.AddBuilder(s.lifecycle)
	s.resolver = NewCollisionResolver(sim, s.vehicle, s.lifecycle, s.debris, s.metrics, log)

	s.streamer.Update(s.spawn.Z())

	log.Info().Uint64("seed", seed).Int("waypoints", len(s.streamer.Waypoints())).Msg("session created")
	return s, nil
}

// SetInput replaces the input source. A nil source means no controls.
func (s *Session) SetInput(in InputSource) {
	s.input = in
}

// OnScore registers fn to receive every score event after the total is updated.
func (s *Session) OnScore(fn ScoreFunc) {
	s.onScore = append(s.onScore, fn)
}

// Tick advances the simulation by a host frame of frameDelta seconds. It runs
// as many fixed steps as the accumulator holds, then streams road and collects
// coins once. It returns the number of steps run.
func (s *Session) Tick(frameDelta float64) int {
	n := s.clock.Advance(frameDelta, s.step)

	pos := s.vehicle.Position()
	s.streamer.Update(pos.Z())
	if s.vehicle.State == VehicleNormal {
		s.lifecycle.CollectCoins(pos)
	}
	s.frame++
	return n
}

// step is one fixed timestep. The order of calls is fixed.
func (s *Session) step(dt float64) {
	now := s.clock.Now() + dt

	var c Controls
	if s.input != nil {
		c = s.input.Poll()
	}
	s.vehicle.ApplyControls(c, dt)
	s.sim.Step()
	s.vehicle.ApplyGrip(dt)
	s.resolver.Resolve(now)
	s.lifecycle.Tick(now, dt, s.vehicle.Position())
	if s.vehicle.Tick(now) {
		s.reset()
	}
	s.metrics.Step()
}

// reset runs after the vehicle has respawned in place. The road, its props and
// the score carry over; traffic left far ahead is despawned by the lifecycle.
func (s *Session) reset() {
	s.resets++
	s.log.Info().
		Int("resets", s.resets).
		Int("score", s.score).
		Int("waypoints", len(s.streamer.Waypoints())).
		Msg("session reset")
}

// Close removes every body but the vehicle's from the world, so the final
// pose can still be read.
func (s *Session) Close() {
	s.lifecycle.Reset()
	n := s.debris.Clear()
	s.log.Debug().Int("debris", n).Int("bodies", s.sim.BodyCount()).Msg("session closed")
}

func (s *Session) addScore(ev ScoreEvent) {
	s.score += ev.Delta
	ev.Total = s.score
	for _, fn := range s.onScore {
		fn(ev)
	}
}

// Score returns the running score.
func (s *Session) Score() int { return s.score }

// Speed returns the vehicle's horizontal speed.
func (s *Session) Speed() float64 { return s.vehicle.Speed() }

// PlayerPosition returns the vehicle position.
func (s *Session) PlayerPosition() mgl64.Vec3 { return s.vehicle.Position() }

// Now returns simulated seconds since the session started.
func (s *Session) Now() float64 { return s.clock.Now() }

// Frame returns the number of host frames ticked.
func (s *Session) Frame() uint64 { return s.frame }

// Resets returns how many times the world has been rebuilt after an explosion.
func (s *Session) Resets() int { return s.resets }

// Vehicle returns the player vehicle.
func (s *Session) Vehicle() *Vehicle { return s.vehicle }

// Streamer returns the road streamer.
func (s *Session) Streamer() *world.Streamer { return s.streamer }

// Lifecycle returns the entity manager.
func (s *Session) Lifecycle() *Lifecycle { return s.lifecycle }

// Debris returns the debris pool.
func (s *Session) Debris() *DebrisPool { return s.debris }

// Simulation returns the physics world.
func (s *Session) Simulation() physics.Simulation { return s.sim }

// Error definitions
var (
	ErrSessionFull     = &SessionError{message: "session limit reached"}
	ErrSessionNotFound = &SessionError{message: "session not found"}
)

// SessionError represents an error related to session operations.
type SessionError struct {
	message string
	err     error
}

func (e *SessionError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *SessionError) Unwrap() error {
	return e.err
}
