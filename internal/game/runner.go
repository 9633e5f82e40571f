package game

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/race/endless/config"
	"github.com/rs/zerolog"
)

// Runner drives a Session in real time on its own goroutine.
//
// Physics ticks at config.StepRate and snapshots are published at
// config.SnapshotRate. Input enters through the InputLatch. Snapshots and
// score events leave through buffered channels that drop when full.
type Runner struct {
	session *Session
	input   *InputLatch
	log     zerolog.Logger

	running  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}

	snapshots chan Snapshot
	scores    chan ScoreEvent
	latest    atomic.Pointer[Snapshot]
	dropped   atomic.Uint64
	steps     atomic.Uint64
}

// NewRunner wires s to read controls from a fresh InputLatch. The session must
// not be used directly once the runner starts.
func NewRunner(s *Session, log zerolog.Logger) *Runner {
	r := &Runner{
		session:   s,
		input:     NewInputLatch(config.MaxInputsPerStep, config.MaxViolations),
		log:       log.With().Str("session", s.ID).Logger(),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		snapshots: make(chan Snapshot, config.SnapshotQueueSize),
		scores:    make(chan ScoreEvent, config.SnapshotQueueSize),
	}
	s.SetInput(r.input)
	s.OnScore(func(ev ScoreEvent) {
		select {
		case r.scores <- ev:
		default:
			r.dropped.Add(1)
		}
	})
	snap := s.Snapshot()
	r.latest.Store(&snap)
	return r
}

// Start begins the loop in a separate goroutine. A runner cannot be restarted.
// Safe to call multiple times - subsequent calls are no-ops.
func (r *Runner) Start(ctx context.Context) {
	select {
	case <-r.done:
		return
	default:
	}
	if r.running.Swap(true) {
		return
	}
	go r.loop(ctx)
	r.log.Info().Msg("runner started")
}

// Stop ends the loop and waits for it to exit.
// Safe to call multiple times - subsequent calls are no-ops.
func (r *Runner) Stop() {
	if !r.running.Swap(false) {
		return
	}
	close(r.stopChan)
	<-r.done
	r.log.Info().Msg("runner stopped")
}

// Done is closed once the loop has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Running reports whether the loop is active.
func (r *Runner) Running() bool { return r.running.Load() }

// Input returns the latch the loop polls.
func (r *Runner) Input() *InputLatch { return r.input }

// Snapshots delivers published snapshots.
func (r *Runner) Snapshots() <-chan Snapshot { return r.snapshots }

// Scores delivers score events.
func (r *Runner) Scores() <-chan ScoreEvent { return r.scores }

// Latest returns the most recently published snapshot.
func (r *Runner) Latest() Snapshot { return *r.latest.Load() }

// Dropped returns how many snapshots and score events were dropped on full channels.
func (r *Runner) Dropped() uint64 { return r.dropped.Load() }

// Steps returns how many fixed steps the loop has run.
func (r *Runner) Steps() uint64 { return r.steps.Load() }

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	defer r.session.Close()

	physicsTicker := time.NewTicker(time.Second / time.Duration(config.StepRate))
	broadcastTicker := time.NewTicker(time.Second / time.Duration(config.SnapshotRate))
	defer physicsTicker.Stop()
	defer broadcastTicker.Stop()

	last := time.Now()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ctx.Done():
			r.running.Store(false)
			return

		case now := <-physicsTicker.C:
			dt := now.Sub(last).Seconds()
			last = now
			n := r.session.Tick(dt)
			r.steps.Add(uint64(n))

		case <-broadcastTicker.C:
			r.publish()
		}
	}
}

func (r *Runner) publish() {
	snap := r.session.Snapshot()
	r.latest.Store(&snap)
	select {
	case r.snapshots <- snap:
	default:
		r.dropped.Add(1)
	}
}
