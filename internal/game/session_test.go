package game

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/config"
	"github.com/race/endless/internal/physics"
	"github.com/race/endless/internal/physics/boxworld"
	"github.com/race/endless/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// straightRoad generates road straight down -z along x = 0.
func straightRoad(step float64) world.Generator {
	return world.GeneratorFunc(func(from world.Waypoint, count int) ([]world.Waypoint, error) {
		out := make([]world.Waypoint, count)
		for i := range out {
			out[i] = world.Waypoint{Position: mgl64.Vec3{0, 0, from.Position.Z() - step*float64(i+1)}}
		}
		return out, nil
	})
}

// quietTuning has no traffic, trees or coins.
func quietTuning() config.Tuning {
	tun := config.DefaultTuning()
	tun.Traffic.MaxNPCs = 0
	tun.Props.CoinChance = 0
	tun.Props.TreeChance = 0
	return tun
}

func newTestSession(t *testing.T, tun config.Tuning, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithGenerator(straightRoad(tun.Road.StepLength))}, opts...)
	s, err := NewSession("test", tun, boxworld.Factory(tun.Physics.BroadphaseCell), opts...)
	require.NoError(t, err)
	return s
}

func TestNewSessionFactoryError(t *testing.T) {
	factory := func(mgl64.Vec3, float64) (physics.Simulation, error) {
		return nil, physics.ErrUnavailable
	}
	_, err := NewSession("x", config.DefaultTuning(), factory)
	require.ErrorIs(t, err, physics.ErrUnavailable)
	assert.Contains(t, err.Error(), "create physics world")
}

func TestNewSessionRejectsInvalidTuning(t *testing.T) {
	tun := config.DefaultTuning()
	tun.Road.StepLength = 0

	_, err := NewSession("x", tun, boxworld.Factory(0))
	var serr *SessionError
	require.True(t, errors.As(err, &serr))
	assert.Contains(t, err.Error(), "road.steplength")
}

func TestNewSessionBuildsRoadAhead(t *testing.T) {
	tun := quietTuning()
	s := newTestSession(t, tun)

	assert.LessOrEqual(t, s.Streamer().End().Position.Z(), -tun.Road.Lookahead)
	assert.NotEmpty(t, s.Lifecycle().Props(), "fences line the first segments")
	assert.Equal(t, VehicleNormal, s.Vehicle().State)
	assert.Zero(t, s.Score())
	assert.Zero(t, s.Now())
}

func TestSessionTickRunsFixedSteps(t *testing.T) {
	s := newTestSession(t, quietTuning())

	assert.Equal(t, 1, s.Tick(dt))
	assert.Equal(t, 15, s.Tick(10))
	assert.Equal(t, 0, s.Tick(-1))
	assert.InDelta(t, 16*dt, s.Now(), 1e-12)
	assert.Equal(t, uint64(3), s.Frame())
}

func TestSessionDrivesForward(t *testing.T) {
	s := newTestSession(t, quietTuning(),
		WithInput(InputSourceFunc(func() Controls { return Controls{Forward: true} })))

	for i := 0; i < 120; i++ {
		s.Tick(dt)
	}
	assert.Greater(t, s.Speed(), 30.0)
	assert.Less(t, s.PlayerPosition().Z(), -20.0)
	assert.Equal(t, VehicleNormal, s.Vehicle().State)
	assert.LessOrEqual(t, s.Streamer().End().Position.Z(), s.PlayerPosition().Z()-quietTuning().Road.Lookahead)
}

func TestSessionCollectsCoins(t *testing.T) {
	tun := quietTuning()
	tun.Props.CoinChance = 1
	s := newTestSession(t, tun)

	var events []ScoreEvent
	s.OnScore(func(ev ScoreEvent) { events = append(events, ev) })

	coins := s.Lifecycle().Coins()
	require.NotEmpty(t, coins)
	target := coins[0].Position
	s.Simulation().SetTranslation(s.Vehicle().Body(), mgl64.Vec3{target.X(), 0, target.Z()})
	s.Tick(0)

	require.NotEmpty(t, events)
	assert.Equal(t, ScoreCoin, events[0].Kind)
	assert.Equal(t, tun.Props.CoinScore, events[0].Delta)
	assert.Equal(t, s.Score(), events[len(events)-1].Total)
	assert.Equal(t, len(events)*tun.Props.CoinScore, s.Score())

	before := s.Score()
	s.Tick(0)
	assert.Equal(t, before, s.Score(), "coins are collected once")
}

func TestSessionResetsAfterExplosion(t *testing.T) {
	tun := quietTuning()
	s := newTestSession(t, tun,
		WithInput(InputSourceFunc(func() Controls { return Controls{Forward: true} })))

	for i := 0; i < 60; i++ {
		s.Tick(dt)
	}
	s.addScore(ScoreEvent{Kind: ScoreLaunch, Delta: 100})
	require.True(t, s.Vehicle().Explode(s.Now()))
	assert.Positive(t, s.Debris().Len())

	for i := 0; i < int(tun.Vehicle.RespawnDelay/dt)+2; i++ {
		s.Tick(dt)
	}

	assert.Equal(t, 1, s.Resets())
	assert.Equal(t, VehicleNormal, s.Vehicle().State)
	assert.Equal(t, 100, s.Score(), "score carries over a respawn")
	assert.Zero(t, s.Debris().Len())
	assert.Greater(t, s.PlayerPosition().Z(), -5.0, "back near the spawn")
	assert.NotEmpty(t, s.Lifecycle().Props())
}

func TestRespawnKeepsGeneratedRoad(t *testing.T) {
	tun := quietTuning()
	s := newTestSession(t, tun,
		WithInput(InputSourceFunc(func() Controls { return Controls{Forward: true} })))

	for i := 0; i < 120; i++ {
		s.Tick(dt)
	}
	before := append([]world.Waypoint(nil), s.Streamer().Waypoints()...)
	segments := s.Streamer().SegmentCount()
	end := s.Streamer().End()

	require.True(t, s.Vehicle().Explode(s.Now()))
	for i := 0; i < int(tun.Vehicle.RespawnDelay/dt)+2; i++ {
		s.Tick(dt)
	}
	require.Equal(t, 1, s.Resets())

	after := s.Streamer().Waypoints()
	require.GreaterOrEqual(t, len(after), len(before))
	assert.Equal(t, before, after[:len(before)], "existing waypoints survive")
	assert.Equal(t, end, s.Streamer().End(), "nothing new needed near the spawn")
	assert.Equal(t, segments, s.Streamer().SegmentCount())

	_, ok := s.Streamer().Basis(s.PlayerPosition().Z())
	assert.True(t, ok, "road still under the respawned car")
}

func TestSessionCloseReleasesEntityBodies(t *testing.T) {
	tun := quietTuning()
	tun.Props.CoinChance = 1
	tun.Traffic.MaxNPCs = 4
	s := newTestSession(t, tun)
	s.Tick(dt)
	s.Vehicle().Explode(s.Now())
	require.Positive(t, s.Debris().Len())

	s.Close()
	assert.Empty(t, s.Lifecycle().Props())
	assert.Zero(t, s.Lifecycle().NPCCount())
	assert.Zero(t, s.Debris().Len())
	assert.Equal(t, 1, s.Simulation().BodyCount(), "only the player remains")
}

func TestSnapshot(t *testing.T) {
	tun := quietTuning()
	tun.Props.CoinChance = 1
	s := newTestSession(t, tun)
	s.Tick(dt)

	snap := s.Snapshot()
	require.NotEmpty(t, snap.Entities)
	assert.Equal(t, KindPlayer, snap.Entities[0].Kind)
	assert.Equal(t, snap.Player, snap.Entities[0])
	assert.Equal(t, uint64(1), snap.Frame)

	ids := make(map[uint32]bool)
	var coins int
	for _, e := range snap.Entities {
		assert.False(t, ids[e.ID], "duplicate id %d", e.ID)
		ids[e.ID] = true
		assert.InDelta(t, 1, e.Rotation.Len(), 1e-9)
		if e.Kind == KindCoin {
			coins++
			assert.NotZero(t, e.ID&coinIDBit)
		}
	}
	assert.Equal(t, len(s.Lifecycle().Coins()), coins)

	s.Vehicle().Explode(s.Now())
	snap = s.Snapshot()
	assert.Equal(t, VehicleExploded, snap.PlayerState)
	for _, e := range snap.Entities {
		assert.NotEqual(t, KindPlayer, e.Kind)
	}
}

func TestAutopilotSteersTowardRoad(t *testing.T) {
	s := newTestSession(t, quietTuning())
	ap := NewAutopilot(s.Vehicle(), s.Streamer(), 0.7)

	s.Simulation().SetTranslation(s.Vehicle().Body(), mgl64.Vec3{-3, 0, -20})
	c := ap.Poll()
	require.NotNil(t, c.Analog)
	assert.Positive(t, c.Analog.Steering, "road is to the right")
	assert.Equal(t, 0.7, c.Analog.Throttle)

	s.Simulation().SetTranslation(s.Vehicle().Body(), mgl64.Vec3{3, 0, -20})
	assert.Negative(t, ap.Poll().Analog.Steering)

	s.Simulation().SetTranslation(s.Vehicle().Body(), mgl64.Vec3{0, 0, -20})
	assert.InDelta(t, 0, ap.Poll().Analog.Steering, 1e-9)
}

// TestSessionSoak drives a full session with traffic and checks the bounds
// that must hold on every frame.
func TestSessionSoak(t *testing.T) {
	if testing.Short() {
		t.Skip("soak")
	}
	tun := config.DefaultTuning()
	tun.Seed = 7
	s, err := NewSession("soak", tun, boxworld.Factory(tun.Physics.BroadphaseCell))
	require.NoError(t, err)
	ap := NewAutopilot(s.Vehicle(), s.Streamer(), 0.8)
	ap.HandbrakeAbove = 0.9
	s.SetInput(ap)

	maxBodies := 0
	for frame := 0; frame < 60*60; frame++ {
		s.Tick(dt)

		require.LessOrEqual(t, s.Lifecycle().NPCCount(), tun.Traffic.MaxNPCs, "frame %d", frame)
		require.GreaterOrEqual(t, s.PlayerPosition().Y(), 0.0, "frame %d", frame)
		require.LessOrEqual(t, s.Debris().Len(), tun.Vehicle.DebrisCount+8*tun.Traffic.MaxNPCs, "frame %d", frame)
		for _, npc := range s.Lifecycle().NPCs() {
			if npc.State == NPCLaunched {
				require.Less(t, s.Now()-npc.LaunchedAt, tun.Traffic.FlightDuration+dt, "frame %d", frame)
			}
		}
		maxBodies = max(maxBodies, s.Simulation().BodyCount())
	}

	assert.InDelta(t, 60, s.Now(), 1e-6)
	assert.Less(t, maxBodies, 2000)

	wp := s.Streamer().Waypoints()
	for i := 1; i < len(wp); i++ {
		require.Less(t, wp[i].Position.Z(), wp[i-1].Position.Z(), "waypoint %d", i)
	}
	for _, e := range s.Snapshot().Entities {
		assert.InDelta(t, 1, e.Rotation.Len(), 1e-6)
	}
}
