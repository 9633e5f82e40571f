package game

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/internal/physics"
	"github.com/race/endless/internal/world"
)

// PropKind distinguishes static roadside obstacles.
type PropKind uint8

const (
	PropFence PropKind = iota
	PropTree
)

func (k PropKind) String() string {
	switch k {
	case PropFence:
		return "fence"
	case PropTree:
		return "tree"
	}
	return "unknown"
}

const (
	fenceStride    = 3
	fenceThickness = 0.15
	fenceGap       = 0.25
	treeStride     = 2
	coinStride     = 3
	coinHeight     = 1.0
)

// Prop is a fixed obstacle body placed by a segment builder.
type Prop struct {
	ID          uint32
	Kind        PropKind
	Position    mgl64.Vec3
	Rotation    mgl64.Quat
	HalfExtents mgl64.Vec3

	Body     physics.BodyHandle
	Collider physics.ColliderHandle
}

// Coin is a body-less pickup collected by proximity.
type Coin struct {
	ID       uint32
	Position mgl64.Vec3
	Cell     world.CellKey
}

// BuildSegment decorates a freshly cut road segment with fences, trees and coins.
func (l *Lifecycle) BuildSegment(seg world.Segment) {
	pts := seg.Points
	if len(pts) < 2 {
		return
	}
	fences, trees, coins := 0, 0, 0
	for i := 0; i < len(pts)-1; i += fenceStride {
		j := min(i+fenceStride, len(pts)-1)
		for _, side := range [2]float64{-1, 1} {
			if l.placeFence(pts[i].Position, pts[j].Position, side) {
				fences++
			}
		}
	}
	for i := 0; i < len(pts)-1; i += treeStride {
		if l.rng.Float64() >= l.props.TreeChance {
			continue
		}
		if l.placeTree(pts[i].Position, pts[i+1].Position) {
			trees++
		}
	}
	for i := 0; i < len(pts)-1; i += coinStride {
		if l.rng.Float64() >= l.props.CoinChance {
			continue
		}
		if l.placeCoin(pts[i].Position, pts[i+1].Position) {
			coins++
		}
	}
	l.log.Debug().
		Int("fences", fences).
		Int("trees", trees).
		Int("coins", coins).
		Msg("segment decorated")
}

// edgeFrame returns the forward and right unit vectors of the span a->b.
func edgeFrame(a, b mgl64.Vec3) (forward, right mgl64.Vec3, ok bool) {
	d := flatten(b.Sub(a))
	if d.Len() < 1e-9 {
		return mgl64.Vec3{}, mgl64.Vec3{}, false
	}
	forward = d.Normalize()
	return forward, forward.Cross(up).Normalize(), true
}

func (l *Lifecycle) placeFence(a, b mgl64.Vec3, side float64) bool {
	forward, right, ok := edgeFrame(a, b)
	if !ok {
		return false
	}
	span := flatten(b.Sub(a)).Len()
	center := a.Add(b).Mul(0.5).Add(right.Mul(side * (l.road.HalfWidth + fenceGap)))
	center[1] = l.props.FenceHeight / 2
	he := mgl64.Vec3{fenceThickness, l.props.FenceHeight / 2, span / 2}
	return l.addProp(PropFence, center, yawRotation(yawOf(forward)), he)
}

func (l *Lifecycle) placeTree(a, b mgl64.Vec3) bool {
	_, right, ok := edgeFrame(a, b)
	if !ok {
		return false
	}
	side := 1.0
	if l.rng.IntN(2) == 0 {
		side = -1
	}
	offset := l.road.HalfWidth + l.props.TreeMinOffset +
		l.rng.Float64()*(l.props.TreeMaxOffset-l.props.TreeMinOffset)
	pos := a.Add(right.Mul(side * offset))
	pos[1] = l.props.TreeHeight / 2
	if !l.streamer.ClaimCell(pos) {
		return false
	}
	he := mgl64.Vec3{l.props.TreeHalfWidth, l.props.TreeHeight / 2, l.props.TreeHalfWidth}
	return l.addProp(PropTree, pos, mgl64.QuatIdent(), he)
}

func (l *Lifecycle) placeCoin(a, b mgl64.Vec3) bool {
	_, right, ok := edgeFrame(a, b)
	if !ok {
		return false
	}
	laneMax := math.Max(0, l.road.HalfWidth-l.traffic.LaneMargin)
	pos := a.Add(right.Mul((l.rng.Float64()*2 - 1) * laneMax))
	pos[1] = coinHeight
	if !l.streamer.ClaimCell(pos) {
		return false
	}
	l.nextCoin++
	l.coins = append(l.coins, &Coin{
		ID:       l.nextCoin,
		Position: pos,
		Cell:     l.streamer.CellOf(pos),
	})
	return true
}

func (l *Lifecycle) addProp(kind PropKind, pos mgl64.Vec3, rot mgl64.Quat, he mgl64.Vec3) bool {
	body := l.sim.CreateBody(physics.BodyDesc{
		Type:     physics.Fixed,
		Position: pos,
		Rotation: rot,
	})
	collider, err := l.sim.AttachBox(body, physics.BoxCollider{
		HalfExtents: he,
		Friction:    l.phys.Friction,
		Restitution: l.phys.Restitution,
	})
	if err != nil {
		l.sim.RemoveBody(body)
		l.log.Warn().Err(err).Stringer("kind", kind).Msg("cannot place prop")
		return false
	}
	l.nextProp++
	p := &Prop{
		ID:          l.nextProp,
		Kind:        kind,
		Position:    pos,
		Rotation:    rot,
		HalfExtents: he,
		Body:        body,
		Collider:    collider,
	}
	l.propList = append(l.propList, p)
	l.propByCollider[collider] = p
	return true
}

// CollectCoins removes every coin within CoinRadius of pos on the ground plane
// and posts one coin score event per pickup. It returns the number collected.
func (l *Lifecycle) CollectCoins(pos mgl64.Vec3) int {
	r := l.props.CoinRadius
	kept := l.coins[:0]
	collected := 0
	for _, c := range l.coins {
		if flatten(c.Position.Sub(pos)).Len() <= r {
			collected++
			l.metrics.CoinCollected()
			l.post(ScoreEvent{Kind: ScoreCoin, Delta: l.props.CoinScore, Position: c.Position})
			continue
		}
		kept = append(kept, c)
	}
	clear(l.coins[len(kept):])
	l.coins = kept
	return collected
}
