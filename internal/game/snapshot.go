package game

import (
	"github.com/go-gl/mathgl/mgl64"
)

// EntityKind tells a renderer which mesh to draw for a transform.
type EntityKind uint8

const (
	KindPlayer EntityKind = iota
	KindNPC
	KindDebris
	KindFence
	KindTree
	KindCoin
)

func (k EntityKind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindNPC:
		return "npc"
	case KindDebris:
		return "debris"
	case KindFence:
		return "fence"
	case KindTree:
		return "tree"
	case KindCoin:
		return "coin"
	}
	return "unknown"
}

// coinIDBit keeps coin ids apart from body handles, which start at 1 and count up.
const coinIDBit = 1 << 31

// Transform is the pose of one rendered entity.
type Transform struct {
	ID       uint32
	Kind     EntityKind
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Snapshot is the render state after a host frame.
type Snapshot struct {
	Frame uint64
	Time  float64
	// Alpha is how far the clock is into the next fixed step, in [0, 1).
	Alpha float64

	Score       int
	Speed       float64
	Slip        float64
	PlayerState VehicleState
	Player      Transform

	// Entities lists every visible entity, the player first when visible.
	Entities []Transform
}

// Snapshot captures the pose of every visible entity.
func (s *Session) Snapshot() Snapshot {
	v := s.vehicle
	player := Transform{
		ID:       uint32(v.Body()),
		Kind:     KindPlayer,
		Position: v.Position(),
		Rotation: v.Rotation(),
	}
	snap := Snapshot{
		Frame:       s.frame,
		Time:        s.clock.Now(),
		Alpha:       s.clock.Alpha(),
		Score:       s.score,
		Speed:       v.Speed(),
		Slip:        v.Slip(),
		PlayerState: v.State,
		Player:      player,
	}

	npcs := s.lifecycle.NPCs()
	props := s.lifecycle.Props()
	coins := s.lifecycle.Coins()
	pieces := s.debris.Pieces()
	snap.Entities = make([]Transform, 0, 1+len(npcs)+len(props)+len(coins)+len(pieces))

	if v.Visible {
		snap.Entities = append(snap.Entities, player)
	}
	for _, npc := range npcs {
		if npc.State == NPCRemoved {
			continue
		}
		snap.Entities = append(snap.Entities, Transform{
			ID:       uint32(npc.Body),
			Kind:     KindNPC,
			Position: npc.Position,
			Rotation: npc.Rotation,
		})
	}
	for _, p := range pieces {
		snap.Entities = append(snap.Entities, Transform{
			ID:       uint32(p.Body),
			Kind:     KindDebris,
			Position: s.sim.Translation(p.Body),
			Rotation: s.sim.Rotation(p.Body),
		})
	}
	for _, p := range props {
		kind := KindFence
		if p.Kind == PropTree {
			kind = KindTree
		}
		snap.Entities = append(snap.Entities, Transform{
			ID:       uint32(p.Body),
			Kind:     kind,
			Position: p.Position,
			Rotation: p.Rotation,
		})
	}
	for _, c := range coins {
		snap.Entities = append(snap.Entities, Transform{
			ID:       coinIDBit | c.ID,
			Kind:     KindCoin,
			Position: c.Position,
			Rotation: mgl64.QuatIdent(),
		})
	}
	return snap
}
