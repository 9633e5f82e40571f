package game

import (
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/internal/physics"
)

// DebrisOwner groups debris so an owner can clear its pieces early.
type DebrisOwner uint32

const (
	// OwnerNone marks debris that only expires by TTL.
	OwnerNone DebrisOwner = iota
	// OwnerPlayer marks the wreck of the player vehicle.
	OwnerPlayer
)

const (
	debrisHalfExtent = 0.25
	debrisMass       = 20.0
	debrisSpin       = 3.0
)

// DebrisPiece is one short-lived dynamic box.
type DebrisPiece struct {
	Body      physics.BodyHandle
	Collider  physics.ColliderHandle
	Owner     DebrisOwner
	ExpiresAt float64
}

// DebrisPool owns every debris body and removes each one once its TTL passes.
type DebrisPool struct {
	sim   physics.Simulation
	rng   *rand.Rand
	ttl   float64
	speed float64

	pieces    []DebrisPiece
	colliders map[physics.ColliderHandle]struct{}
}

// NewDebrisPool creates an empty pool. Pieces live ttl seconds and fly out at up to speed.
func NewDebrisPool(sim physics.Simulation, rng *rand.Rand, ttl, speed float64) *DebrisPool {
	return &DebrisPool{
		sim:       sim,
		rng:       rng,
		ttl:       ttl,
		speed:     speed,
		colliders: make(map[physics.ColliderHandle]struct{}),
	}
}

// Burst spawns count pieces at origin, inheriting base velocity plus a random
// outward, upward impulse and spin. It returns the number created.
func (p *DebrisPool) Burst(owner DebrisOwner, origin, base mgl64.Vec3, count int, now float64) int {
	created := 0
	for i := 0; i < count; i++ {
		offset := p.randomUnit().Mul(debrisHalfExtent * 2)
		body := p.sim.CreateBody(physics.BodyDesc{
			Type:           physics.Dynamic,
			Position:       origin.Add(offset),
			Rotation:       mgl64.QuatIdent(),
			Mass:           debrisMass,
			LinearDamping:  0.2,
			AngularDamping: 0.5,
			GravityScale:   1,
		})
		collider, err := p.sim.AttachBox(body, physics.BoxCollider{
			HalfExtents: mgl64.Vec3{debrisHalfExtent, debrisHalfExtent, debrisHalfExtent},
			Friction:    0.6,
			Restitution: 0.3,
		})
		if err != nil {
			p.sim.RemoveBody(body)
			continue
		}

		dir := p.randomUnit()
		dir[1] = 0.5 + 0.5*p.rng.Float64()
		dir = dir.Normalize()
		p.sim.SetLinearVelocity(body, base)
		p.sim.ApplyImpulse(body, dir.Mul(debrisMass*p.speed*(0.5+0.5*p.rng.Float64())))
		p.sim.ApplyTorqueImpulse(body, p.randomUnit().Mul(debrisMass*debrisSpin))

		p.pieces = append(p.pieces, DebrisPiece{
			Body:      body,
			Collider:  collider,
			Owner:     owner,
			ExpiresAt: now + p.ttl,
		})
		p.colliders[collider] = struct{}{}
		created++
	}
	return created
}

// Sweep removes every piece whose TTL has passed and returns how many were removed.
func (p *DebrisPool) Sweep(now float64) int {
	return p.removeWhere(func(d DebrisPiece) bool { return now >= d.ExpiresAt })
}

// RemoveOwner removes all pieces belonging to owner.
func (p *DebrisPool) RemoveOwner(owner DebrisOwner) int {
	return p.removeWhere(func(d DebrisPiece) bool { return d.Owner == owner })
}

// Clear removes every piece.
func (p *DebrisPool) Clear() int {
	return p.removeWhere(func(DebrisPiece) bool { return true })
}

func (p *DebrisPool) removeWhere(match func(DebrisPiece) bool) int {
	kept := p.pieces[:0]
	removed := 0
	for _, d := range p.pieces {
		if match(d) {
			p.sim.RemoveBody(d.Body)
			delete(p.colliders, d.Collider)
			removed++
			continue
		}
		kept = append(kept, d)
	}
	clear(p.pieces[len(kept):])
	p.pieces = kept
	return removed
}

// Owns reports whether c belongs to a debris piece.
func (p *DebrisPool) Owns(c physics.ColliderHandle) bool {
	_, ok := p.colliders[c]
	return ok
}

// Pieces returns the live pieces. Callers must not modify the slice.
func (p *DebrisPool) Pieces() []DebrisPiece {
	return p.pieces
}

// Len returns the number of live pieces.
func (p *DebrisPool) Len() int {
	return len(p.pieces)
}

func (p *DebrisPool) randomUnit() mgl64.Vec3 {
	for {
		v := mgl64.Vec3{p.rng.Float64()*2 - 1, p.rng.Float64()*2 - 1, p.rng.Float64()*2 - 1}
		if l := v.Len(); l > 1e-3 && l <= 1 {
			return v.Mul(1 / l)
		}
	}
}
