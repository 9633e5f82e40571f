package game

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNPCCountNeverExceedsCap(t *testing.T) {
	tun := quietTuning()
	tun.Traffic.MaxNPCs = 5
	tun.Traffic.SpawnInterval = 1
	tun.Traffic.MinLongitudinalGap = 0
	s := newTestSession(t, tun)
	l := s.lifecycle

	peak := 0
	for i := 1; i <= 600; i++ {
		player := mgl64.Vec3{0, 0, -2 * float64(i)}
		s.sim.Step()
		l.Tick(float64(i)*dt, dt, player)
		require.LessOrEqual(t, l.NPCCount(), tun.Traffic.MaxNPCs, "tick %d", i)
		peak = max(peak, l.NPCCount())
	}
	assert.Equal(t, tun.Traffic.MaxNPCs, peak)
}

func TestNPCSpawnsAheadOnTheRoad(t *testing.T) {
	tun := quietTuning()
	tun.Traffic.MaxNPCs = 3
	tun.Traffic.MaxCluster = 1
	s := newTestSession(t, tun)
	l := s.lifecycle

	l.Tick(dt, dt, mgl64.Vec3{})
	require.Equal(t, 1, l.NPCCount())
	npc := l.NPCs()[0]
	assert.Equal(t, NPCCruising, npc.State)
	assert.InDelta(t, -tun.Traffic.SpawnAhead, npc.Position.Z(), 1)
	assert.LessOrEqual(t, npc.Position.X(), tun.Road.HalfWidth-tun.Traffic.LaneMargin)
	assert.GreaterOrEqual(t, npc.Position.X(), -(tun.Road.HalfWidth - tun.Traffic.LaneMargin))
	assert.GreaterOrEqual(t, npc.Speed, tun.Traffic.MinSpeed)
	assert.LessOrEqual(t, npc.Speed, tun.Traffic.MaxSpeed)

	l.Tick(2*dt, dt, mgl64.Vec3{0, 0, -tun.Traffic.SpawnInterval / 2})
	assert.Equal(t, 1, l.NPCCount(), "no spawn before the interval")

	z := npc.Position.Z()
	for i := 0; i < 10; i++ {
		s.sim.Step()
		l.Tick(float64(3+i)*dt, dt, mgl64.Vec3{0, 0, -tun.Traffic.SpawnInterval / 2})
	}
	assert.Less(t, npc.Position.Z(), z, "cruising cars drive down the road")
	assert.InDelta(t, npc.Lane, npc.Position.X(), 1e-9, "lane offset holds on a straight road")
}

func TestNPCSpawnFallsBackWithoutRoad(t *testing.T) {
	tun := quietTuning()
	tun.Traffic.MaxNPCs = 1
	s := newTestSession(t, tun)
	l := s.lifecycle

	far := mgl64.Vec3{40, 0, -5000}
	l.Tick(dt, dt, far)
	require.Equal(t, 1, l.NPCCount())
	npc := l.NPCs()[0]
	assert.InDelta(t, far.Z()-tun.Traffic.SpawnAhead, npc.Position.Z(), 1)
	assert.InDelta(t, far.X(), npc.Position.X()-npc.Lane, 1e-9)
}

func TestLaunchedNPCIsRemovedAfterFlight(t *testing.T) {
	s := newTestSession(t, quietTuning())
	l := s.lifecycle
	npc := spawnTestNPC(t, s, mgl64.Vec3{0, 0.6, -50})
	require.True(t, l.Launch(npc, 0, mgl64.Vec3{-1, 0, 0}))
	body := npc.Body

	player := mgl64.Vec3{0, 0, -40}
	limit := int(s.tuning.Traffic.FlightDuration/dt) + 1
	removedAt := -1
	for i := 1; i <= limit+10; i++ {
		s.sim.Step()
		l.Tick(float64(i)*dt, dt, player)
		if npc.State == NPCRemoved {
			removedAt = i
			break
		}
	}
	require.NotEqual(t, -1, removedAt)
	assert.LessOrEqual(t, removedAt, limit)
	assert.False(t, s.sim.Contains(body))
	_, ok := l.NPCByCollider(npc.Collider)
	assert.False(t, ok)
	assert.Zero(t, l.NPCCount())
}

func TestDespawnBehindPlayer(t *testing.T) {
	tun := quietTuning()
	tun.Props.CoinChance = 1
	tun.Props.TreeChance = 1
	s := newTestSession(t, tun)
	l := s.lifecycle
	require.NotEmpty(t, l.Props())
	require.NotEmpty(t, l.Coins())

	npc := spawnTestNPC(t, s, mgl64.Vec3{0, 0.6, -10})
	bodies := s.sim.BodyCount()

	player := mgl64.Vec3{0, 0, -150}
	l.Tick(dt, dt, player)

	limit := player.Z() + tun.Props.DespawnBehind
	assert.Equal(t, NPCRemoved, npc.State)
	for _, p := range l.Props() {
		assert.LessOrEqual(t, p.Position.Z(), limit)
	}
	for _, c := range l.Coins() {
		assert.LessOrEqual(t, c.Position.Z(), limit)
	}
	assert.Less(t, s.sim.BodyCount(), bodies)
}

func TestDespawnExpiredAndFarAhead(t *testing.T) {
	tun := quietTuning()
	s := newTestSession(t, tun)
	l := s.lifecycle

	old := spawnTestNPC(t, s, mgl64.Vec3{0, 0.6, -30})
	ahead := spawnTestNPC(t, s, mgl64.Vec3{3, 0.6, -tun.Props.DespawnAhead - 50})

	l.Tick(tun.Traffic.MaxLifetime+1, dt, mgl64.Vec3{})
	assert.Equal(t, NPCRemoved, old.State)
	assert.Equal(t, NPCRemoved, ahead.State)
	assert.Empty(t, l.NPCs())
}

func TestLifecycleReset(t *testing.T) {
	tun := quietTuning()
	tun.Props.CoinChance = 1
	tun.Traffic.MaxNPCs = 4
	s := newTestSession(t, tun)
	l := s.lifecycle
	l.Tick(dt, dt, mgl64.Vec3{})
	require.Positive(t, l.NPCCount())

	l.Reset()
	assert.Zero(t, l.NPCCount())
	assert.Empty(t, l.Props())
	assert.Empty(t, l.Coins())
	assert.Equal(t, 1, s.sim.BodyCount(), "only the player remains")

	l.Tick(2*dt, dt, mgl64.Vec3{0, 0, 500})
	assert.Positive(t, l.NPCCount(), "first spawn is rearmed")
}

func TestSegmentDecoration(t *testing.T) {
	tun := quietTuning()
	tun.Props.TreeChance = 1
	tun.Props.CoinChance = 1
	s := newTestSession(t, tun)

	var fences, trees int
	cells := make(map[any]bool)
	for _, p := range s.lifecycle.Props() {
		switch p.Kind {
		case PropFence:
			fences++
			edge := p.Position.X()
			if edge < 0 {
				edge = -edge
			}
			assert.InDelta(t, tun.Road.HalfWidth+fenceGap, edge, 1e-9)
		case PropTree:
			trees++
			d := p.Position.X()
			if d < 0 {
				d = -d
			}
			assert.GreaterOrEqual(t, d, tun.Road.HalfWidth+tun.Props.TreeMinOffset-1e-9)
			assert.LessOrEqual(t, d, tun.Road.HalfWidth+tun.Props.TreeMaxOffset+1e-9)
			key := s.streamer.CellOf(p.Position)
			assert.False(t, cells[key], "one decoration per cell")
			cells[key] = true
		}
	}
	for _, c := range s.lifecycle.Coins() {
		assert.False(t, cells[c.Cell], "one decoration per cell")
		cells[c.Cell] = true
		assert.LessOrEqual(t, c.Position.X(), tun.Road.HalfWidth)
	}
	assert.Positive(t, fences)
	assert.Positive(t, trees)
	assert.Zero(t, fences%2, "fences come in pairs")
}
