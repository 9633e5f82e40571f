package game

import (
	"github.com/race/endless/internal/physics"
	"github.com/race/endless/internal/telemetry"
	"github.com/rs/zerolog"
)

// contactRole classifies a collider for the contact rule table.
type contactRole uint8

const (
	roleNone contactRole = iota
	rolePlayer
	roleNPC
	roleDebris
	roleObstacle
	roleDestructible
)

// contactSide is one collider of a contact after classification.
type contactSide struct {
	role     contactRole
	collider physics.ColliderHandle
	body     physics.BodyHandle
	npc      *NPC
}

// ResolveStats counts what one Resolve call did.
type ResolveStats struct {
	Contacts   int
	Launches   int
	Explosions int
	Shattered  int
	Expired    int
}

// CollisionResolver drains contact events after each physics step and applies
// the gameplay consequences: launches, explosions and shattering.
type CollisionResolver struct {
	sim       physics.Simulation
	vehicle   *Vehicle
	lifecycle *Lifecycle
	debris    *DebrisPool
	metrics   *telemetry.Metrics
	log       zerolog.Logger

	shatterCount int
}

// NewCollisionResolver wires the resolver to the entities it arbitrates.
func NewCollisionResolver(sim physics.Simulation, vehicle *Vehicle, lifecycle *Lifecycle, debris *DebrisPool, metrics *telemetry.Metrics, log zerolog.Logger) *CollisionResolver {
	return &CollisionResolver{
		sim:          sim,
		vehicle:      vehicle,
		lifecycle:    lifecycle,
		debris:       debris,
		metrics:      metrics,
		log:          log,
		shatterCount: 8,
	}
}

// Resolve handles every queued contact and then removes expired debris.
// Only contact starts have consequences.
func (r *CollisionResolver) Resolve(now float64) ResolveStats {
	var stats ResolveStats
	r.sim.DrainContactEvents(func(ev physics.ContactEvent) {
		if !ev.Started {
			return
		}
		stats.Contacts++
		r.metrics.Contact()
		r.handle(ev, now, &stats)
	})
	stats.Expired = r.debris.Sweep(now)
	return stats
}

func (r *CollisionResolver) classify(c physics.ColliderHandle) contactSide {
	side := contactSide{collider: c}
	if c == 0 {
		return side
	}
	if c == r.vehicle.Collider() {
		side.role = rolePlayer
		side.body = r.vehicle.Body()
		return side
	}
	if r.debris.Owns(c) {
		side.role = roleDebris
		return side
	}
	if npc, ok := r.lifecycle.NPCByCollider(c); ok {
		side.role = roleNPC
		side.body = npc.Body
		side.npc = npc
		return side
	}
	if p, ok := r.lifecycle.PropByCollider(c); ok {
		side.role = roleObstacle
		side.body = p.Body
		return side
	}
	body, ok := r.sim.ColliderBody(c)
	if !ok {
		return side
	}
	side.body = body
	if r.sim.BodyType(body) == physics.Dynamic {
		side.role = roleDestructible
	} else {
		side.role = roleObstacle
	}
	return side
}

func (r *CollisionResolver) handle(ev physics.ContactEvent, now float64, stats *ResolveStats) {
	a, b := r.classify(ev.A), r.classify(ev.B)
	if a.role == roleNone || b.role == roleNone || a.role == roleDebris || b.role == roleDebris {
		return
	}
	// order the pair so the player, then an NPC, comes first
	if b.role == rolePlayer || (b.role == roleNPC && a.role != rolePlayer) {
		a, b = b, a
	}

	if b.role == roleDestructible {
		if a.role == rolePlayer && r.vehicle.State == VehicleExploded {
			return
		}
		r.shatter(b, now)
		stats.Shattered++
		return
	}

	switch a.role {
	case rolePlayer:
		if r.vehicle.State == VehicleExploded {
			return
		}
		switch b.role {
		case roleNPC:
			switch b.npc.State {
			case NPCCruising:
				push := b.npc.Position.Sub(r.vehicle.Position())
				if r.lifecycle.Launch(b.npc, now, push) {
					stats.Launches++
				}
			case NPCLaunched:
				if r.explode(now) {
					stats.Explosions++
				}
			case NPCRemoved:
			}
		case roleObstacle:
			if r.explode(now) {
				stats.Explosions++
			}
		}
	case roleNPC:
		if b.role != roleNPC {
			return
		}
		launched, cruising := a.npc, b.npc
		if cruising.State == NPCLaunched {
			launched, cruising = cruising, launched
		}
		if launched.State == NPCLaunched && cruising.State == NPCCruising {
			push := cruising.Position.Sub(launched.Position)
			if r.lifecycle.Launch(cruising, now, push) {
				stats.Launches++
			}
		}
	}
}

// explode blows up the player if it hit hard enough.
func (r *CollisionResolver) explode(now float64) bool {
	speed := r.vehicle.ImpactSpeed()
	if speed < r.vehicle.cfg.ExplodeMinSpeed {
		return false
	}
	if !r.vehicle.Explode(now) {
		return false
	}
	r.metrics.Explosion()
	return true
}

// shatter replaces a destructible body with a burst of debris.
func (r *CollisionResolver) shatter(s contactSide, now float64) {
	pos := r.sim.Translation(s.body)
	vel := r.sim.LinearVelocity(s.body)
	r.sim.RemoveBody(s.body)
	n := r.debris.Burst(OwnerNone, pos, vel.Mul(0.5), r.shatterCount, now)
	r.log.Debug().
		Uint32("body", uint32(s.body)).
		Int("debris", n).
		Msg("destructible shattered")
}
