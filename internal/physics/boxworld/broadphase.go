package boxworld

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/internal/physics"
)

const maxRetainedCells = 4096

// CellKey represents a cell in the ground-plane grid
type CellKey struct {
	X, Z int64
}

type colliderPair struct {
	A, B physics.ColliderHandle // A < B
}

func makePair(a, b physics.ColliderHandle) colliderPair {
	if a > b {
		a, b = b, a
	}
	return colliderPair{A: a, B: b}
}

func (p colliderPair) less(o colliderPair) bool {
	if p.A != o.A {
		return p.A < o.A
	}
	return p.B < o.B
}

// spatialGrid buckets collider bounds on the x/z plane. A collider spanning several
// cells is inserted into each of them, so one lookup per cell finds every neighbour.
type spatialGrid struct {
	cellSize float64
	cells    map[CellKey][]physics.ColliderHandle
}

func newSpatialGrid(cellSize float64) *spatialGrid {
	return &spatialGrid{
		cellSize: cellSize,
		cells:    make(map[CellKey][]physics.ColliderHandle),
	}
}

// cellKey returns the cell containing a ground-plane point
func (g *spatialGrid) cellKey(x, z float64) CellKey {
	return CellKey{
		X: int64(math.Floor(x / g.cellSize)),
		Z: int64(math.Floor(z / g.cellSize)),
	}
}

// clear drops all entries but keeps the bucket allocations, unless the
// world has wandered far enough that stale cells dominate
func (g *spatialGrid) clear() {
	if len(g.cells) > maxRetainedCells {
		g.cells = make(map[CellKey][]physics.ColliderHandle)
		return
	}
	for k, bucket := range g.cells {
		g.cells[k] = bucket[:0]
	}
}

// insert adds a collider to every cell its bounds overlap
func (g *spatialGrid) insert(c physics.ColliderHandle, min, max mgl64.Vec3) {
	lo := g.cellKey(min.X(), min.Z())
	hi := g.cellKey(max.X(), max.Z())
	for x := lo.X; x <= hi.X; x++ {
		for z := lo.Z; z <= hi.Z; z++ {
			key := CellKey{X: x, Z: z}
			g.cells[key] = append(g.cells[key], c)
		}
	}
}

// potentialPairs returns each pair sharing at least one cell exactly once, in handle order
func (g *spatialGrid) potentialPairs() []colliderPair {
	checked := make(map[colliderPair]struct{})
	var pairs []colliderPair

	for _, bucket := range g.cells {
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				if bucket[i] == bucket[j] {
					continue
				}
				p := makePair(bucket[i], bucket[j])
				if _, seen := checked[p]; seen {
					continue
				}
				checked[p] = struct{}{}
				pairs = append(pairs, p)
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].less(pairs[j]) })
	return pairs
}
