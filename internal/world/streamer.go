package world

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/config"
	"github.com/rs/zerolog"
)

// SegmentKey identifies a stretch of road by its rounded endpoints.
type SegmentKey struct {
	StartX, StartZ int64
	EndX, EndZ     int64
}

// KeyOf derives the dedup key for a run of waypoints.
func KeyOf(points []Waypoint) SegmentKey {
	first, last := points[0].Position, points[len(points)-1].Position
	return SegmentKey{
		StartX: roundToInt(first.X()),
		StartZ: roundToInt(first.Z()),
		EndX:   roundToInt(last.X()),
		EndZ:   roundToInt(last.Z()),
	}
}

// Segment is a contiguous run of waypoints handed to builders together.
type Segment struct {
	Key    SegmentKey
	Points []Waypoint
}

// SegmentBuilder turns a new segment into geometry, bodies or decorations.
type SegmentBuilder interface {
	BuildSegment(seg Segment)
}

// SegmentBuilderFunc adapts a function to SegmentBuilder.
type SegmentBuilderFunc func(seg Segment)

func (f SegmentBuilderFunc) BuildSegment(seg Segment) { f(seg) }

// CellKey is a rounded ground-plane cell used to deduplicate decorations.
type CellKey struct {
	X, Z int64
}

// Basis is the road frame at a given z.
type Basis struct {
	Center  mgl64.Vec3
	Forward mgl64.Vec3
	Right   mgl64.Vec3
}

// StraightBasis is the frame assumed when no road has been generated at z.
func StraightBasis(x, z float64) Basis {
	return Basis{
		Center:  mgl64.Vec3{x, 0, z},
		Forward: mgl64.Vec3{0, 0, -1},
		Right:   mgl64.Vec3{1, 0, 0},
	}
}

// Streamer keeps road generated ahead of the player and hands each new
// segment to the registered builders exactly once.
//
// The waypoint buffer is append-only. Streamer is not safe for concurrent use.
type Streamer struct {
	cfg config.Road
	gen Generator
	log zerolog.Logger

	origin    Waypoint
	waypoints []Waypoint
	cutAt     int // index of the last point of the previous segment

	generated map[SegmentKey]struct{}
	cells     map[CellKey]struct{}
	builders  []SegmentBuilder

	fallbacks  int
	onFallback func(err error)
}

// NewStreamer creates a streamer whose road starts at origin.
func NewStreamer(cfg config.Road, gen Generator, origin Waypoint, log zerolog.Logger) *Streamer {
	s := &Streamer{
		cfg:    cfg,
		gen:    gen,
		log:    log,
		origin: origin,
	}
	s.Reset()
	return s
}

// Reset forgets all generated road, segment keys and claimed cells.
func (s *Streamer) Reset() {
	s.waypoints = []Waypoint{s.origin}
	s.cutAt = 0
	s.generated = make(map[SegmentKey]struct{})
	s.cells = make(map[CellKey]struct{})
	s.fallbacks = 0
}

// AddBuilder registers b to receive every newly built segment.
func (s *Streamer) AddBuilder(b SegmentBuilder) {
	s.builders = append(s.builders, b)
}

// SetOnFallback sets a callback invoked whenever generation falls back to a straight waypoint.
func (s *Streamer) SetOnFallback(fn func(err error)) {
	s.onFallback = fn
}

// Update extends the road until its end is Lookahead past playerZ, bounded per
// call, then cuts and builds any pending segments. It returns the number of
// segments built.
func (s *Streamer) Update(playerZ float64) int {
	built := 0
	for i := 0; i < s.cfg.MaxExtendsPerFrame; i++ {
		if s.End().Position.Z() <= playerZ-s.cfg.Lookahead {
			break
		}
		s.extend()
		built += s.cutSegments()
	}
	return built
}

// extend appends one generated batch, or a single straight waypoint when generation fails.
func (s *Streamer) extend() {
	last := s.End()
	raw, err := s.gen.Generate(last, s.cfg.BatchSize)
	if err == nil {
		err = Validate(last, raw)
	}
	if err != nil {
		s.fallbacks++
		s.log.Warn().Err(err).
			Float64("z", last.Position.Z()).
			Int("fallbacks", s.fallbacks).
			Msg("road generation failed, using straight fallback")
		s.waypoints = append(s.waypoints, Straight(last, math.Max(s.cfg.StepLength, 1)))
		if s.onFallback != nil {
			s.onFallback(err)
		}
		return
	}

	smooth := Interpolate(append([]Waypoint{last}, raw...), s.cfg.Subdivisions)
	s.waypoints = append(s.waypoints, smooth[1:]...)
}

func (s *Streamer) cutSegments() int {
	built := 0
	for len(s.waypoints)-1-s.cutAt > s.cfg.SegmentThreshold {
		// previous segment's last point leads the new one
		points := append([]Waypoint(nil), s.waypoints[s.cutAt:]...)
		s.cutAt = len(s.waypoints) - 1
		if _, ok := s.BuildSegment(points); ok {
			built++
		}
	}
	return built
}

// BuildSegment hands points to the builders unless a segment with the same key was
// already built. The key is recorded before any builder runs.
func (s *Streamer) BuildSegment(points []Waypoint) (Segment, bool) {
	points = dedupeJoin(points)
	if len(points) == 0 {
		return Segment{}, false
	}
	seg := Segment{Key: KeyOf(points), Points: points}
	if _, done := s.generated[seg.Key]; done {
		return seg, false
	}
	s.generated[seg.Key] = struct{}{}

	for _, b := range s.builders {
		b.BuildSegment(seg)
	}
	s.log.Debug().
		Float64("start_z", points[0].Position.Z()).
		Float64("end_z", points[len(points)-1].Position.Z()).
		Int("points", len(points)).
		Msg("road segment built")
	return seg, true
}

// dedupeJoin drops a leading point that repeats the next one.
func dedupeJoin(points []Waypoint) []Waypoint {
	if len(points) >= 2 && points[0].Position.ApproxEqual(points[1].Position) {
		return points[1:]
	}
	return points
}

// ClaimCell records the cell containing pos, reporting false if it was already claimed.
func (s *Streamer) ClaimCell(pos mgl64.Vec3) bool {
	key := s.CellOf(pos)
	if _, taken := s.cells[key]; taken {
		return false
	}
	s.cells[key] = struct{}{}
	return true
}

// CellOf returns the decoration cell containing pos.
func (s *Streamer) CellOf(pos mgl64.Vec3) CellKey {
	return CellKey{
		X: int64(math.Floor(pos.X() / s.cfg.CellSize)),
		Z: int64(math.Floor(pos.Z() / s.cfg.CellSize)),
	}
}

// Basis interpolates the road frame at z between its two bracketing waypoints.
// ok is false when z lies outside the generated road.
func (s *Streamer) Basis(z float64) (Basis, bool) {
	wp := s.waypoints
	if len(wp) < 2 || z > wp[0].Position.Z() || z < wp[len(wp)-1].Position.Z() {
		return Basis{}, false
	}

	// z decreases along the buffer, find the first waypoint at or beyond z
	i := sort.Search(len(wp), func(i int) bool { return wp[i].Position.Z() <= z })
	if i == 0 {
		i = 1
	}
	a, b := wp[i-1].Position, wp[i].Position
	span := a.Z() - b.Z()
	t := 0.0
	if span > 0 {
		t = (a.Z() - z) / span
	}

	dir := b.Sub(a)
	dir[1] = 0
	if dir.Len() == 0 {
		return StraightBasis(a.X(), z), true
	}
	forward := dir.Normalize()
	return Basis{
		Center:  lerpVec(a, b, t),
		Forward: forward,
		Right:   forward.Cross(mgl64.Vec3{0, 1, 0}).Normalize(),
	}, true
}

// End returns the furthest generated waypoint.
func (s *Streamer) End() Waypoint {
	return s.waypoints[len(s.waypoints)-1]
}

// Waypoints returns the generated road. Callers must not modify it.
func (s *Streamer) Waypoints() []Waypoint {
	return s.waypoints
}

// SegmentCount returns the number of distinct segments built since the last Reset.
func (s *Streamer) SegmentCount() int {
	return len(s.generated)
}

// CellCount returns the number of claimed decoration cells.
func (s *Streamer) CellCount() int {
	return len(s.cells)
}

// Fallbacks returns how many straight fallback waypoints were emitted.
func (s *Streamer) Fallbacks() int {
	return s.fallbacks
}

func roundToInt(v float64) int64 {
	return int64(math.Round(v))
}
