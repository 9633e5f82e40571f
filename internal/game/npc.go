package game

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/internal/physics"
	"github.com/race/endless/internal/world"
)

// NPCState is the traffic car state machine:
// Cruising -> Launched -> Removed, or Cruising -> Removed.
type NPCState uint8

const (
	NPCCruising NPCState = iota
	NPCLaunched
	NPCRemoved
)

func (s NPCState) String() string {
	switch s {
	case NPCCruising:
		return "cruising"
	case NPCLaunched:
		return "launched"
	case NPCRemoved:
		return "removed"
	}
	return "unknown"
}

// NPC is a traffic car. Its body is kinematic while cruising and dynamic once launched.
type NPC struct {
	ID       uint32
	State    NPCState
	Position mgl64.Vec3
	Rotation mgl64.Quat
	Speed    float64
	Lane     float64

	SpawnedAt  float64
	LaunchedAt float64

	Body     physics.BodyHandle
	Collider physics.ColliderHandle
}

func (l *Lifecycle) createNPCBody(typ physics.BodyType, pos mgl64.Vec3, rot mgl64.Quat) (physics.BodyHandle, physics.ColliderHandle, error) {
	body := l.sim.CreateBody(physics.BodyDesc{
		Type:           typ,
		Position:       pos,
		Rotation:       rot,
		Mass:           l.traffic.Mass,
		LinearDamping:  0.05,
		AngularDamping: 0.3,
		GravityScale:   1,
	})
	he := l.traffic.HalfExtents
	collider, err := l.sim.AttachBox(body, physics.BoxCollider{
		HalfExtents: mgl64.Vec3{he.X, he.Y, he.Z},
		Friction:    l.phys.Friction,
		Restitution: l.phys.Restitution,
	})
	if err != nil {
		l.sim.RemoveBody(body)
		return 0, 0, fmt.Errorf("attach npc collider: %w", err)
	}
	return body, collider, nil
}

// spawnNPC places a cruising car at pos facing forward.
func (l *Lifecycle) spawnNPC(pos, forward mgl64.Vec3, lane, speed, now float64) (*NPC, error) {
	rot := yawRotation(yawOf(forward))
	body, collider, err := l.createNPCBody(physics.Kinematic, pos, rot)
	if err != nil {
		return nil, err
	}
	l.nextNPC++
	npc := &NPC{
		ID:        l.nextNPC,
		State:     NPCCruising,
		Position:  pos,
		Rotation:  rot,
		Speed:     speed,
		Lane:      lane,
		SpawnedAt: now,
		Body:      body,
		Collider:  collider,
	}
	l.npcs = append(l.npcs, npc)
	l.npcByCollider[collider] = npc
	l.metrics.NPCSpawned()
	return npc, nil
}

// cruise moves a kinematic car speed*dt further down the road at its lane offset.
func (l *Lifecycle) cruise(npc *NPC, dt float64) {
	z := npc.Position.Z() - npc.Speed*dt
	basis, ok := l.streamer.Basis(z)
	if !ok {
		basis = world.StraightBasis(npc.Position.X()-npc.Lane, z)
	}
	pos := basis.Center.Add(basis.Right.Mul(npc.Lane))
	pos[1] = l.traffic.HalfExtents.Y
	rot := yawRotation(yawOf(basis.Forward))

	l.sim.SetNextKinematicPose(npc.Body, pos, rot)
	npc.Position = pos
	npc.Rotation = rot
}

// Launch knocks a cruising car into the air and posts the launch bonus. push is
// the horizontal direction it is knocked towards. It reports false if npc was
// not cruising.
func (l *Lifecycle) Launch(npc *NPC, now float64, push mgl64.Vec3) bool {
	if npc == nil || npc.State != NPCCruising {
		return false
	}

	if err := l.sim.SetBodyType(npc.Body, physics.Dynamic); err != nil {
		if !l.rebuildDynamic(npc, err) {
			return false
		}
	}

	mass := l.sim.Mass(npc.Body)
	side := flatten(push)
	if side.Len() < 1e-6 {
		side = npc.Rotation.Rotate(mgl64.Vec3{1, 0, 0})
	}
	side = side.Normalize()
	jitter := l.rng.Float64()*0.6 + 0.7
	impulse := up.Mul(l.traffic.LaunchUpSpeed * jitter).
		Add(side.Mul(l.traffic.LaunchSideSpeed * (l.rng.Float64()*0.5 + 0.75)))
	l.sim.ApplyImpulse(npc.Body, impulse.Mul(mass))

	spin := mgl64.Vec3{l.rng.Float64()*2 - 1, l.rng.Float64()*2 - 1, l.rng.Float64()*2 - 1}
	l.sim.ApplyTorqueImpulse(npc.Body, spin.Mul(l.traffic.LaunchSpin*mass))

	npc.State = NPCLaunched
	npc.LaunchedAt = now
	l.metrics.Launch()
	l.post(ScoreEvent{Kind: ScoreLaunch, Delta: l.traffic.LaunchScore, Position: npc.Position})

	l.log.Debug().Uint32("npc", npc.ID).Float64("z", npc.Position.Z()).Msg("npc launched")
	return true
}

// rebuildDynamic swaps a kinematic body for a dynamic one at the same pose when
// the engine cannot change body types in place.
func (l *Lifecycle) rebuildDynamic(npc *NPC, cause error) bool {
	pos := l.sim.Translation(npc.Body)
	rot := l.sim.Rotation(npc.Body)
	vel := l.sim.LinearVelocity(npc.Body)

	body, collider, err := l.createNPCBody(physics.Dynamic, pos, rot)
	if err != nil {
		l.log.Error().Err(err).AnErr("cause", cause).Uint32("npc", npc.ID).Msg("cannot launch npc")
		return false
	}
	l.sim.RemoveBody(npc.Body)
	delete(l.npcByCollider, npc.Collider)

	npc.Body, npc.Collider = body, collider
	l.npcByCollider[collider] = npc
	l.sim.SetLinearVelocity(body, vel)
	return true
}

// fly reads a launched car back from the engine and reports whether it should be removed.
func (l *Lifecycle) fly(npc *NPC, now float64) bool {
	npc.Position = l.sim.Translation(npc.Body)
	npc.Rotation = l.sim.Rotation(npc.Body)

	y := npc.Position.Y()
	switch {
	case now-npc.LaunchedAt >= l.traffic.FlightDuration-stepSlack:
		return true
	case y < -l.traffic.FallBound, y > l.traffic.CeilingBound:
		return true
	case math.IsNaN(y):
		return true
	}
	return false
}

// tooClose reports whether pos would overlap the separation window of a live car.
func (l *Lifecycle) tooClose(pos mgl64.Vec3) bool {
	for _, npc := range l.npcs {
		if npc.State == NPCRemoved {
			continue
		}
		d := pos.Sub(npc.Position)
		if math.Abs(d.Z()) < l.traffic.MinLongitudinalGap && math.Abs(d.X()) < l.traffic.MinLateralGap {
			return true
		}
	}
	return false
}

// removeNPC releases the body and drops the handle mapping.
func (l *Lifecycle) removeNPC(npc *NPC, reason string) {
	if npc.State == NPCRemoved {
		return
	}
	l.sim.RemoveBody(npc.Body)
	delete(l.npcByCollider, npc.Collider)
	npc.State = NPCRemoved
	l.metrics.NPCRemoved()
	l.log.Debug().Uint32("npc", npc.ID).Str("reason", reason).Msg("npc removed")
}
