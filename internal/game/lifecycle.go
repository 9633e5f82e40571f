package game

import (
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/config"
	"github.com/race/endless/internal/physics"
	"github.com/race/endless/internal/telemetry"
	"github.com/race/endless/internal/world"
	"github.com/rs/zerolog"
)

// ScoreKind names what earned a score event.
type ScoreKind uint8

const (
	ScoreCoin ScoreKind = iota
	ScoreLaunch
)

func (k ScoreKind) String() string {
	switch k {
	case ScoreCoin:
		return "coin"
	case ScoreLaunch:
		return "launch"
	}
	return "unknown"
}

// ScoreEvent is posted for every pickup and launch. Total is filled in by the session.
type ScoreEvent struct {
	Kind     ScoreKind
	Delta    int
	Total    int
	Position mgl64.Vec3
}

// ScoreFunc receives score events synchronously on the simulation goroutine.
type ScoreFunc func(ScoreEvent)

// Lifecycle owns traffic, roadside props and coins: it spawns them, moves
// them, launches cars and removes everything that falls out of range.
// It maps collider handles back to the entities it owns.
type Lifecycle struct {
	traffic config.Traffic
	props   config.Props
	road    config.Road
	phys    config.Physics

	sim      physics.Simulation
	streamer *world.Streamer
	rng      *rand.Rand
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	emit     ScoreFunc

	npcs          []*NPC
	npcByCollider map[physics.ColliderHandle]*NPC
	nextNPC       uint32
	lastSpawnZ    float64

	propList       []*Prop
	propByCollider map[physics.ColliderHandle]*Prop
	nextProp       uint32

	coins    []*Coin
	nextCoin uint32
}

// NewLifecycle creates an empty manager. Register it with the streamer as a
// segment builder so new road gets decorated.
func NewLifecycle(t config.Tuning, sim physics.Simulation, streamer *world.Streamer, rng *rand.Rand, log zerolog.Logger, metrics *telemetry.Metrics) *Lifecycle {
	return &Lifecycle{
		traffic:        t.Traffic,
		props:          t.Props,
		road:           t.Road,
		phys:           t.Physics,
		sim:            sim,
		streamer:       streamer,
		rng:            rng,
		log:            log,
		metrics:        metrics,
		npcByCollider:  make(map[physics.ColliderHandle]*NPC),
		propByCollider: make(map[physics.ColliderHandle]*Prop),
		lastSpawnZ:     math.Inf(1),
	}
}

// SetScoreFunc sets the receiver of score events.
func (l *Lifecycle) SetScoreFunc(fn ScoreFunc) {
	l.emit = fn
}

func (l *Lifecycle) post(ev ScoreEvent) {
	if l.emit != nil {
		l.emit(ev)
	}
}

// Tick spawns, moves and removes entities for one fixed step. player is the
// player position after the physics step.
func (l *Lifecycle) Tick(now, dt float64, player mgl64.Vec3) {
	l.maybeSpawn(now, player)

	for _, npc := range l.npcs {
		switch npc.State {
		case NPCCruising:
			l.cruise(npc, dt)
		case NPCLaunched:
			if l.fly(npc, now) {
				l.removeNPC(npc, "flight over")
			}
		case NPCRemoved:
		}
	}

	l.despawn(now, player)
}

func (l *Lifecycle) maybeSpawn(now float64, player mgl64.Vec3) {
	pz := player.Z()
	if pz > l.lastSpawnZ {
		l.lastSpawnZ = pz
		return
	}
	if l.lastSpawnZ-pz < l.traffic.SpawnInterval {
		return
	}
	l.lastSpawnZ = pz
	l.spawnCluster(now, player)
}

func (l *Lifecycle) spawnCluster(now float64, player mgl64.Vec3) {
	n := 1 + l.rng.IntN(max(1, l.traffic.MaxCluster))
	laneMax := math.Max(0, l.road.HalfWidth-l.traffic.LaneMargin)
	spawned := 0
	for i := 0; i < n && l.NPCCount() < l.traffic.MaxNPCs; i++ {
		z := player.Z() - l.traffic.SpawnAhead - float64(i)*l.traffic.ClusterSpacing
		basis, ok := l.streamer.Basis(z)
		if !ok {
			basis = world.StraightBasis(player.X(), z)
		}
		lane := (l.rng.Float64()*2 - 1) * laneMax
		pos := basis.Center.Add(basis.Right.Mul(lane))
		pos[1] = l.traffic.HalfExtents.Y
		if l.tooClose(pos) {
			continue
		}
		speed := l.traffic.MinSpeed + l.rng.Float64()*(l.traffic.MaxSpeed-l.traffic.MinSpeed)
		if _, err := l.spawnNPC(pos, basis.Forward, lane, speed, now); err != nil {
			l.log.Warn().Err(err).Msg("npc spawn failed")
			return
		}
		spawned++
	}
	if spawned > 0 {
		l.log.Debug().Int("spawned", spawned).Int("live", l.NPCCount()).Msg("traffic spawned")
	}
}

// despawn removes everything out of range of the player and compacts the NPC list.
func (l *Lifecycle) despawn(now float64, player mgl64.Vec3) {
	behind := player.Z() + l.props.DespawnBehind
	ahead := player.Z() - l.props.DespawnAhead

	removed := 0
	kept := l.npcs[:0]
	for _, npc := range l.npcs {
		if npc.State != NPCRemoved {
			switch z := npc.Position.Z(); {
			case z > behind:
				l.removeNPC(npc, "behind")
			case z < ahead:
				l.removeNPC(npc, "ahead")
			case now-npc.SpawnedAt > l.traffic.MaxLifetime:
				l.removeNPC(npc, "expired")
			}
		}
		if npc.State == NPCRemoved {
			removed++
			continue
		}
		kept = append(kept, npc)
	}
	clear(l.npcs[len(kept):])
	l.npcs = kept

	keptProps := l.propList[:0]
	for _, p := range l.propList {
		if p.Position.Z() > behind {
			l.removeProp(p)
			removed++
			continue
		}
		keptProps = append(keptProps, p)
	}
	clear(l.propList[len(keptProps):])
	l.propList = keptProps

	keptCoins := l.coins[:0]
	for _, c := range l.coins {
		if c.Position.Z() > behind {
			removed++
			continue
		}
		keptCoins = append(keptCoins, c)
	}
	clear(l.coins[len(keptCoins):])
	l.coins = keptCoins

	if removed > 0 {
		l.log.Debug().Int("removed", removed).Msg("entities despawned")
	}
}

func (l *Lifecycle) removeProp(p *Prop) {
	l.sim.RemoveBody(p.Body)
	delete(l.propByCollider, p.Collider)
}

// Reset removes every NPC, prop and coin and rearms the first spawn.
func (l *Lifecycle) Reset() {
	for _, npc := range l.npcs {
		l.removeNPC(npc, "reset")
	}
	clear(l.npcs)
	l.npcs = l.npcs[:0]
	for _, p := range l.propList {
		l.removeProp(p)
	}
	clear(l.propList)
	l.propList = l.propList[:0]
	clear(l.coins)
	l.coins = l.coins[:0]
	l.lastSpawnZ = math.Inf(1)
}

// NPCByCollider resolves a collider to the NPC that owns it.
func (l *Lifecycle) NPCByCollider(c physics.ColliderHandle) (*NPC, bool) {
	npc, ok := l.npcByCollider[c]
	return npc, ok
}

// PropByCollider resolves a collider to the prop that owns it.
func (l *Lifecycle) PropByCollider(c physics.ColliderHandle) (*Prop, bool) {
	p, ok := l.propByCollider[c]
	return p, ok
}

// NPCCount returns the number of NPCs that have not been removed.
func (l *Lifecycle) NPCCount() int {
	n := 0
	for _, npc := range l.npcs {
		if npc.State != NPCRemoved {
			n++
		}
	}
	return n
}

// NPCs returns the tracked NPCs. Callers must not modify the slice.
func (l *Lifecycle) NPCs() []*NPC { return l.npcs }

// Props returns the live props. Callers must not modify the slice.
func (l *Lifecycle) Props() []*Prop { return l.propList }

// Coins returns the uncollected coins. Callers must not modify the slice.
func (l *Lifecycle) Coins() []*Coin { return l.coins }
