// Package world streams an endless procedural road ahead of the player.
package world

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrEmptyRoad is returned when a generator produces no waypoints.
	ErrEmptyRoad = errors.New("generator produced no waypoints")
	// ErrNotForward is returned when a waypoint does not advance along -z.
	ErrNotForward = errors.New("waypoint does not advance forward")
	// ErrNonFinite is returned when a waypoint contains NaN or Inf.
	ErrNonFinite = errors.New("waypoint is not finite")
)

// Waypoint is one point of the road centreline. Heading is the yaw of the road
// in radians, zero meaning straight down -z.
type Waypoint struct {
	Position mgl64.Vec3
	Heading  float64
}

// Generator extends the road from a seed waypoint.
type Generator interface {
	Generate(from Waypoint, count int) ([]Waypoint, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(from Waypoint, count int) ([]Waypoint, error)

func (f GeneratorFunc) Generate(from Waypoint, count int) ([]Waypoint, error) {
	return f(from, count)
}

// RandomWalk perturbs heading by a bounded random delta per step. Lateral drift
// accumulates as sin(heading) * CurveScale, so curvature is emergent.
type RandomWalk struct {
	StepLength    float64
	HeadingJitter float64
	MaxHeading    float64
	CurveScale    float64

	rng *rand.Rand
}

// NewRandomWalk returns a walk drawing from rng.
func NewRandomWalk(rng *rand.Rand, stepLength, headingJitter, maxHeading, curveScale float64) *RandomWalk {
	return &RandomWalk{
		StepLength:    stepLength,
		HeadingJitter: headingJitter,
		MaxHeading:    maxHeading,
		CurveScale:    curveScale,
		rng:           rng,
	}
}

// Generate produces count waypoints after from. from itself is not included.
func (g *RandomWalk) Generate(from Waypoint, count int) ([]Waypoint, error) {
	if g.StepLength <= 0 {
		return nil, fmt.Errorf("random walk: step length %v: %w", g.StepLength, ErrNotForward)
	}
	if count <= 0 {
		return nil, ErrEmptyRoad
	}

	out := make([]Waypoint, 0, count)
	x, z, heading := from.Position.X(), from.Position.Z(), from.Heading
	for i := 0; i < count; i++ {
		z -= g.StepLength
		heading += (g.rng.Float64()*2 - 1) * g.HeadingJitter
		if g.MaxHeading > 0 {
			heading = clamp(heading, -g.MaxHeading, g.MaxHeading)
		}
		x += math.Sin(heading) * g.CurveScale
		out = append(out, Waypoint{Position: mgl64.Vec3{x, 0, z}, Heading: heading})
	}
	return out, nil
}

// Interpolate inserts subdivisions evenly spaced points between each consecutive pair.
func Interpolate(points []Waypoint, subdivisions int) []Waypoint {
	if len(points) < 2 || subdivisions <= 0 {
		return append([]Waypoint(nil), points...)
	}

	out := make([]Waypoint, 0, len(points)+(len(points)-1)*subdivisions)
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		out = append(out, a)
		for s := 1; s <= subdivisions; s++ {
			t := float64(s) / float64(subdivisions+1)
			out = append(out, Waypoint{
				Position: lerpVec(a.Position, b.Position, t),
				Heading:  a.Heading + (b.Heading-a.Heading)*t,
			})
		}
	}
	return append(out, points[len(points)-1])
}

// Validate checks that points continue strictly forward from prev and are finite.
func Validate(prev Waypoint, points []Waypoint) error {
	if len(points) == 0 {
		return ErrEmptyRoad
	}
	lastZ := prev.Position.Z()
	for i, p := range points {
		for _, v := range []float64{p.Position.X(), p.Position.Y(), p.Position.Z(), p.Heading} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("waypoint %d: %w", i, ErrNonFinite)
			}
		}
		if p.Position.Z() >= lastZ {
			return fmt.Errorf("waypoint %d at z=%v after z=%v: %w", i, p.Position.Z(), lastZ, ErrNotForward)
		}
		lastZ = p.Position.Z()
	}
	return nil
}

// Straight returns the fallback waypoint one step ahead of from with zero heading.
func Straight(from Waypoint, stepLength float64) Waypoint {
	return Waypoint{
		Position: mgl64.Vec3{from.Position.X(), 0, from.Position.Z() - stepLength},
		Heading:  0,
	}
}

func lerpVec(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
