package game

import (
	"fmt"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/internal/physics"
	"github.com/race/endless/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnTestNPC(t *testing.T, s *Session, pos mgl64.Vec3) *NPC {
	t.Helper()
	npc, err := s.lifecycle.spawnNPC(pos, mgl64.Vec3{0, 0, -1}, pos.X(), 0, s.Now())
	require.NoError(t, err)
	return npc
}

// physicsStep runs the engine step and the resolver without the rest of the frame.
func physicsStep(s *Session) ResolveStats {
	s.vehicle.ApplyControls(Controls{}, dt)
	s.sim.Step()
	return s.resolver.Resolve(s.Now())
}

func TestPlayerLaunchesCruisingNPC(t *testing.T) {
	s := newTestSession(t, quietTuning())
	var events []ScoreEvent
	s.OnScore(func(ev ScoreEvent) { events = append(events, ev) })

	s.sim.SetLinearVelocity(s.vehicle.Body(), mgl64.Vec3{0, 0, -20})
	npc := spawnTestNPC(t, s, mgl64.Vec3{0, 0.6, -3.5})

	stats := physicsStep(s)
	assert.Equal(t, 1, stats.Launches)
	assert.Zero(t, stats.Explosions)
	assert.Equal(t, NPCLaunched, npc.State)
	assert.Equal(t, physics.Dynamic, s.sim.BodyType(npc.Body))
	assert.Equal(t, VehicleNormal, s.vehicle.State, "the player survives a launch")

	require.Len(t, events, 1)
	assert.Equal(t, ScoreLaunch, events[0].Kind)
	assert.Equal(t, s.tuning.Traffic.LaunchScore, s.Score())

	// the pair stays in contact or separates: either way no second launch
	stats = physicsStep(s)
	assert.Zero(t, stats.Launches)
	assert.False(t, s.lifecycle.Launch(npc, s.Now(), mgl64.Vec3{1, 0, 0}))
	assert.Len(t, events, 1)
}

func TestPlayerCatchesCruisingNPC(t *testing.T) {
	tun := quietTuning()
	s := newTestSession(t, tun,
		WithInput(InputSourceFunc(func() Controls { return Controls{Forward: true} })))
	var events []ScoreEvent
	s.OnScore(func(ev ScoreEvent) { events = append(events, ev) })

	s.sim.SetLinearVelocity(s.vehicle.Body(), mgl64.Vec3{0, 0, -20})
	start := mgl64.Vec3{0, tun.Traffic.HalfExtents.Y, -25}
	npc, err := s.lifecycle.spawnNPC(start, mgl64.Vec3{0, 0, -1}, 0, tun.Traffic.MinSpeed, s.Now())
	require.NoError(t, err)

	frames := 0
	for ; frames < 240 && npc.State == NPCCruising; frames++ {
		s.Tick(dt)
	}

	require.Equal(t, NPCLaunched, npc.State)
	assert.Greater(t, frames, 10, "the car had to close the gap first")
	assert.Less(t, npc.Position.Z(), start.Z(), "the npc was driving away")
	assert.Equal(t, VehicleNormal, s.vehicle.State)
	assert.Zero(t, s.vehicle.Explosions())
	require.Len(t, events, 1)
	assert.Equal(t, ScoreLaunch, events[0].Kind)
}

// diagonalRoad runs straight at a constant heading off the -z axis.
func diagonalRoad(step, heading float64) world.Generator {
	dir := mgl64.Vec3{math.Sin(heading), 0, -math.Cos(heading)}
	return world.GeneratorFunc(func(from world.Waypoint, count int) ([]world.Waypoint, error) {
		out := make([]world.Waypoint, count)
		for i := range out {
			out[i] = world.Waypoint{
				Position: from.Position.Add(dir.Mul(step * float64(i+1))),
				Heading:  heading,
			}
		}
		return out, nil
	})
}

func TestFencesOnAngledRoadLeaveLanesClear(t *testing.T) {
	tun := quietTuning()
	for _, heading := range []float64{0.5, -0.5} {
		for _, lane := range []float64{0, -3, 3, -4, 4} {
			t.Run(fmt.Sprintf("heading %.1f lane %.0f", heading, lane), func(t *testing.T) {
				s := newTestSession(t, tun, WithGenerator(diagonalRoad(tun.Road.StepLength, heading)))
				basis, ok := s.streamer.Basis(-60)
				require.True(t, ok)

				pos := basis.Center.Add(basis.Right.Mul(lane))
				pos[1] = 0
				body := s.vehicle.Body()
				s.sim.SetTranslation(body, pos)
				s.sim.SetRotation(body, yawRotation(yawOf(basis.Forward)))
				s.sim.SetLinearVelocity(body, basis.Forward.Mul(20))

				for i := 0; i < 30; i++ {
					s.Tick(dt)
				}

				assert.Equal(t, VehicleNormal, s.vehicle.State)
				assert.Zero(t, s.vehicle.Explosions())
				assert.Greater(t, s.vehicle.Position().Sub(pos).Len(), 8.0, "kept driving")
			})
		}
	}
}

func TestFenceOnAngledRoadStillStopsTheCar(t *testing.T) {
	tun := quietTuning()
	s := newTestSession(t, tun, WithGenerator(diagonalRoad(tun.Road.StepLength, 0.5)))
	basis, ok := s.streamer.Basis(-60)
	require.True(t, ok)

	// steer straight at the right-hand fence
	pos := basis.Center.Add(basis.Right.Mul(tun.Road.HalfWidth - 2))
	pos[1] = 0
	body := s.vehicle.Body()
	s.sim.SetTranslation(body, pos)
	s.sim.SetRotation(body, yawRotation(yawOf(basis.Right)))
	s.sim.SetLinearVelocity(body, basis.Right.Mul(20))

	for i := 0; i < 30 && s.vehicle.State == VehicleNormal; i++ {
		s.Tick(dt)
	}
	assert.Equal(t, VehicleExploded, s.vehicle.State)
}

func TestFenceExplodesFastPlayer(t *testing.T) {
	s := newTestSession(t, quietTuning())
	var fence *Prop
	for _, p := range s.lifecycle.Props() {
		if p.Kind == PropFence && p.Position.X() > 0 && p.Position.Z() < -20 {
			fence = p
			break
		}
	}
	require.NotNil(t, fence)

	x := fence.Position.X() - fence.HalfExtents.X() - s.tuning.Vehicle.HalfExtents.X + 0.1
	s.sim.SetTranslation(s.vehicle.Body(), mgl64.Vec3{x, 0, fence.Position.Z()})
	s.sim.SetLinearVelocity(s.vehicle.Body(), mgl64.Vec3{0, 0, -20})

	stats := physicsStep(s)
	assert.Equal(t, 1, stats.Explosions)
	assert.Equal(t, VehicleExploded, s.vehicle.State)
	assert.Equal(t, s.tuning.Vehicle.DebrisCount, s.debris.Len())

	stats = physicsStep(s)
	assert.Zero(t, stats.Explosions, "a wreck cannot explode again")
	assert.Equal(t, 1, s.vehicle.Explosions())
}

func TestSlowFenceContactDoesNotExplode(t *testing.T) {
	s := newTestSession(t, quietTuning())
	var fence *Prop
	for _, p := range s.lifecycle.Props() {
		if p.Kind == PropFence && p.Position.X() < 0 && p.Position.Z() < -20 {
			fence = p
			break
		}
	}
	require.NotNil(t, fence)

	x := fence.Position.X() + fence.HalfExtents.X() + s.tuning.Vehicle.HalfExtents.X - 0.1
	s.sim.SetTranslation(s.vehicle.Body(), mgl64.Vec3{x, 0, fence.Position.Z()})
	s.sim.SetLinearVelocity(s.vehicle.Body(), mgl64.Vec3{0, 0, -2})

	stats := physicsStep(s)
	assert.Positive(t, stats.Contacts)
	assert.Zero(t, stats.Explosions)
	assert.Equal(t, VehicleNormal, s.vehicle.State)
}

func TestLaunchedNPCExplodesPlayer(t *testing.T) {
	s := newTestSession(t, quietTuning())
	npc := spawnTestNPC(t, s, mgl64.Vec3{0, 0.6, -20})
	require.True(t, s.lifecycle.Launch(npc, s.Now(), mgl64.Vec3{1, 0, 0}))

	s.sim.SetTranslation(npc.Body, mgl64.Vec3{0, 0.6, -3.5})
	s.sim.SetLinearVelocity(npc.Body, mgl64.Vec3{})
	s.sim.SetLinearVelocity(s.vehicle.Body(), mgl64.Vec3{0, 0, -20})

	stats := physicsStep(s)
	assert.Equal(t, 1, stats.Explosions)
	assert.Equal(t, VehicleExploded, s.vehicle.State)
}

func TestLaunchedNPCLaunchesCruisingNPC(t *testing.T) {
	s := newTestSession(t, quietTuning())
	flying := spawnTestNPC(t, s, mgl64.Vec3{0, 0.6, -50})
	cruising := spawnTestNPC(t, s, mgl64.Vec3{1, 0.6, -50})

	require.True(t, s.lifecycle.Launch(flying, s.Now(), mgl64.Vec3{1, 0, 0}))
	stats := physicsStep(s)

	assert.Equal(t, 1, stats.Launches)
	assert.Equal(t, NPCLaunched, cruising.State)
	assert.Equal(t, 2*s.tuning.Traffic.LaunchScore, s.Score())
}

func TestDestructibleShatters(t *testing.T) {
	s := newTestSession(t, quietTuning())
	crate := s.sim.CreateBody(physics.BodyDesc{
		Type:     physics.Dynamic,
		Position: mgl64.Vec3{0, 0, -2.5},
		Mass:     50,
	})
	_, err := s.sim.AttachBox(crate, physics.BoxCollider{HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}})
	require.NoError(t, err)
	s.sim.SetLinearVelocity(s.vehicle.Body(), mgl64.Vec3{0, 0, -20})

	stats := physicsStep(s)
	assert.Equal(t, 1, stats.Shattered)
	assert.False(t, s.sim.Contains(crate))
	assert.Equal(t, s.resolver.shatterCount, s.debris.Len())
	assert.Equal(t, VehicleNormal, s.vehicle.State)
}

func TestDebrisContactsAreIgnored(t *testing.T) {
	s := newTestSession(t, quietTuning())
	s.debris.Burst(OwnerNone, mgl64.Vec3{}, mgl64.Vec3{}, 6, s.Now())
	s.sim.SetLinearVelocity(s.vehicle.Body(), mgl64.Vec3{0, 0, -20})

	stats := physicsStep(s)
	assert.Positive(t, stats.Contacts)
	assert.Zero(t, stats.Explosions)
	assert.Zero(t, stats.Shattered)
	assert.Equal(t, VehicleNormal, s.vehicle.State)
	assert.Equal(t, 6, s.debris.Len())
}

func TestResolveSweepsExpiredDebris(t *testing.T) {
	s := newTestSession(t, quietTuning())
	s.debris.Burst(OwnerNone, mgl64.Vec3{0, 5, -40}, mgl64.Vec3{}, 4, 0)

	assert.Zero(t, s.resolver.Resolve(s.tuning.Vehicle.DebrisTTL-0.1).Expired)
	assert.Equal(t, 4, s.resolver.Resolve(s.tuning.Vehicle.DebrisTTL).Expired)
	assert.Zero(t, s.debris.Len())
}
