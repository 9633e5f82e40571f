package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/race/endless/internal/telemetry"

// Meter returns the meter from the global provider, which is a no-op until one is installed.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Metrics counts simulation events. A nil *Metrics records nothing.
type Metrics struct {
	steps      metric.Int64Counter
	contacts   metric.Int64Counter
	launches   metric.Int64Counter
	explosions metric.Int64Counter
	spawns     metric.Int64Counter
	fallbacks  metric.Int64Counter
	coins      metric.Int64Counter
	liveNPCs   metric.Int64UpDownCounter

	attrs metric.MeasurementOption
}

// NewMetrics registers the simulation instruments on m.
func NewMetrics(m metric.Meter, sessionID string) (*Metrics, error) {
	mt := &Metrics{
		attrs: metric.WithAttributes(attribute.String("session", sessionID)),
	}

	var err error
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.Int64Counter(name, metric.WithDescription(desc))
		return c
	}

	mt.steps = counter("sim.steps", "Fixed simulation steps run")
	mt.contacts = counter("sim.contacts", "Contact begin events resolved")
	mt.launches = counter("sim.npc.launches", "NPC vehicles launched")
	mt.explosions = counter("sim.vehicle.explosions", "Player vehicle explosions")
	mt.spawns = counter("sim.npc.spawns", "NPC vehicles spawned")
	mt.fallbacks = counter("sim.road.fallbacks", "Straight fallback waypoints emitted")
	mt.coins = counter("sim.coins", "Coins collected")
	if err != nil {
		return nil, fmt.Errorf("create counters: %w", err)
	}

	mt.liveNPCs, err = m.Int64UpDownCounter("sim.npc.live",
		metric.WithDescription("NPC vehicles currently alive"))
	if err != nil {
		return nil, fmt.Errorf("create live npc gauge: %w", err)
	}
	return mt, nil
}

// NopMetrics returns metrics backed by a no-op meter.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(instrumentationName), "")
	if err != nil {
		return nil
	}
	return m
}

func (m *Metrics) inc(c metric.Int64Counter) {
	if c != nil {
		c.Add(context.Background(), 1, m.attrs)
	}
}

// Step counts one fixed simulation step.
func (m *Metrics) Step() {
	if m != nil {
		m.inc(m.steps)
	}
}

// Contact counts a resolved contact begin event.
func (m *Metrics) Contact() {
	if m != nil {
		m.inc(m.contacts)
	}
}

// Launch counts an NPC knocked into flight.
func (m *Metrics) Launch() {
	if m != nil {
		m.inc(m.launches)
	}
}

// Explosion counts a player vehicle explosion.
func (m *Metrics) Explosion() {
	if m != nil {
		m.inc(m.explosions)
	}
}

// Fallback counts a straight waypoint emitted after road generation failed.
func (m *Metrics) Fallback() {
	if m != nil {
		m.inc(m.fallbacks)
	}
}

// CoinCollected counts a coin pickup.
func (m *Metrics) CoinCollected() {
	if m != nil {
		m.inc(m.coins)
	}
}

// NPCSpawned counts a spawn and raises the live gauge.
func (m *Metrics) NPCSpawned() {
	if m == nil {
		return
	}
	m.inc(m.spawns)
	m.liveNPCs.Add(context.Background(), 1, m.attrs)
}

// NPCRemoved lowers the live gauge.
func (m *Metrics) NPCRemoved() {
	if m == nil {
		return
	}
	m.liveNPCs.Add(context.Background(), -1, m.attrs)
}
