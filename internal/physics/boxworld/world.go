// Package boxworld is a small rigid-body world of oriented boxes.
//
// Dynamic bodies are integrated by feather's actor.RigidBody, which also
// supplies their world inertia. Pairs are found on a ground-plane grid of
// world-space bounds and confirmed with a separating-axis test on the oriented
// boxes, so a yawed car and a yawed fence only touch when their boxes do.
// Bodies are stepped in creation order so a world fed the same calls produces
// the same contacts.
//
// A World is not safe for concurrent use.
package boxworld

import (
	"fmt"
	"math"
	"sort"

	"github.com/akmonengine/feather/actor"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/internal/physics"
)

// DefaultCellSize is the broadphase cell edge used by Factory when none is given.
const DefaultCellSize = 16.0

const epsilon = 1e-9

type body struct {
	handle  physics.BodyHandle
	typ     physics.BodyType
	pos     mgl64.Vec3
	rot     mgl64.Quat
	vel     mgl64.Vec3
	angVel  mgl64.Vec3
	mass    float64
	invMass float64

	// rigid mirrors a dynamic body for integration and inertia. Nil otherwise.
	rigid *actor.RigidBody

	linDamp      float64
	angDamp      float64
	gravityScale float64

	hasNext bool
	nextPos mgl64.Vec3
	nextRot mgl64.Quat

	colliders []physics.ColliderHandle
}

type collider struct {
	handle physics.ColliderHandle
	body   *body
	box    physics.BoxCollider
	min    mgl64.Vec3
	max    mgl64.Vec3
}

// World implements physics.Simulation.
type World struct {
	gravity  mgl64.Vec3
	timestep float64

	bodies    map[physics.BodyHandle]*body
	order     []physics.BodyHandle
	colliders map[physics.ColliderHandle]*collider

	nextBody     uint32
	nextCollider uint32

	grid   *spatialGrid
	active map[colliderPair]struct{}
	events []physics.ContactEvent
}

// New creates a world that steps by timestep seconds.
func New(gravity mgl64.Vec3, timestep, cellSize float64) (*World, error) {
	if timestep <= 0 || math.IsNaN(timestep) || math.IsInf(timestep, 0) {
		return nil, fmt.Errorf("%w: invalid timestep %v", physics.ErrUnavailable, timestep)
	}
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &World{
		gravity:   gravity,
		timestep:  timestep,
		bodies:    make(map[physics.BodyHandle]*body),
		colliders: make(map[physics.ColliderHandle]*collider),
		grid:      newSpatialGrid(cellSize),
		active:    make(map[colliderPair]struct{}),
	}, nil
}

// Factory returns a physics.Factory producing worlds with the given broadphase cell size.
func Factory(cellSize float64) physics.Factory {
	return func(gravity mgl64.Vec3, timestep float64) (physics.Simulation, error) {
		w, err := New(gravity, timestep, cellSize)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// CreateBody adds a body and returns its handle.
func (w *World) CreateBody(desc physics.BodyDesc) physics.BodyHandle {
	w.nextBody++
	rot := desc.Rotation
	if rot.Len() < epsilon {
		rot = mgl64.QuatIdent()
	}
	b := &body{
		handle:       physics.BodyHandle(w.nextBody),
		typ:          desc.Type,
		pos:          desc.Position,
		rot:          rot.Normalize(),
		mass:         desc.Mass,
		linDamp:      desc.LinearDamping,
		angDamp:      desc.AngularDamping,
		gravityScale: desc.GravityScale,
	}
	if b.mass <= 0 {
		b.mass = 1
	}
	b.updateMassProperties(mgl64.Vec3{0.5, 0.5, 0.5})

	w.bodies[b.handle] = b
	w.order = append(w.order, b.handle)
	return b.handle
}

// updateMassProperties refreshes inverse mass and, for dynamic bodies, rebuilds
// the feather body with a box of the given extents and the body's mass.
func (b *body) updateMassProperties(half mgl64.Vec3) {
	if b.typ != physics.Dynamic {
		b.invMass = 0
		b.rigid = nil
		return
	}
	b.invMass = 1 / b.mass

	t := actor.NewTransform()
	t.Position = b.pos
	t.Rotation = b.rot
	t.InverseRotation = b.rot.Inverse()
	density := b.mass / (8 * half.X() * half.Y() * half.Z())
	b.rigid = actor.NewRigidBody(t, &actor.Box{HalfExtents: half}, actor.BodyTypeDynamic, density)
}

// syncRigid copies the body state into its feather mirror.
func (b *body) syncRigid() {
	r := b.rigid
	r.Transform.Position = b.pos
	r.Transform.Rotation = b.rot
	r.Transform.InverseRotation = b.rot.Inverse()
	r.Velocity = b.vel
	r.AngularVelocity = b.angVel
	r.Material.LinearDamping = b.linDamp
	r.Material.AngularDamping = b.angDamp
}

// AttachBox attaches a box collider to body.
func (w *World) AttachBox(h physics.BodyHandle, box physics.BoxCollider) (physics.ColliderHandle, error) {
	b, ok := w.bodies[h]
	if !ok {
		return 0, fmt.Errorf("attach box to body %d: %w", h, physics.ErrUnknownBody)
	}
	for i := 0; i < 3; i++ {
		if box.HalfExtents[i] <= 0 {
			return 0, fmt.Errorf("attach box to body %d: half extents must be positive, got %v", h, box.HalfExtents)
		}
	}

	w.nextCollider++
	c := &collider{
		handle: physics.ColliderHandle(w.nextCollider),
		body:   b,
		box:    box,
	}
	w.colliders[c.handle] = c
	b.colliders = append(b.colliders, c.handle)
	if len(b.colliders) == 1 {
		b.updateMassProperties(box.HalfExtents)
	}
	return c.handle, nil
}

// RemoveBody deletes body and its colliders. Contacts it was part of end immediately.
func (w *World) RemoveBody(h physics.BodyHandle) {
	b, ok := w.bodies[h]
	if !ok {
		return
	}
	gone := make(map[physics.ColliderHandle]struct{}, len(b.colliders))
	for _, c := range b.colliders {
		gone[c] = struct{}{}
		delete(w.colliders, c)
	}

	ended := make([]colliderPair, 0)
	for p := range w.active {
		_, a := gone[p.A]
		_, bb := gone[p.B]
		if a || bb {
			ended = append(ended, p)
		}
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].less(ended[j]) })
	for _, p := range ended {
		delete(w.active, p)
		w.events = append(w.events, physics.ContactEvent{A: p.A, B: p.B, Started: false})
	}

	delete(w.bodies, h)
	for i, oh := range w.order {
		if oh == h {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Contains reports whether h names a live body.
func (w *World) Contains(h physics.BodyHandle) bool {
	_, ok := w.bodies[h]
	return ok
}

// ColliderBody returns the body a collider is attached to.
func (w *World) ColliderBody(c physics.ColliderHandle) (physics.BodyHandle, bool) {
	col, ok := w.colliders[c]
	if !ok {
		return 0, false
	}
	return col.body.handle, true
}

// BodyCount returns the number of live bodies.
func (w *World) BodyCount() int {
	return len(w.bodies)
}

// Step advances the world by one timestep.
func (w *World) Step() {
	dt := w.timestep
	for _, h := range w.order {
		w.bodies[h].integrate(w.gravity, dt)
	}

	w.grid.clear()
	for _, h := range w.order {
		b := w.bodies[h]
		for _, ch := range b.colliders {
			c := w.colliders[ch]
			c.min, c.max = worldBounds(b, c.box.HalfExtents)
			w.grid.insert(ch, c.min, c.max)
		}
	}

	touching := make(map[colliderPair]struct{})
	for _, p := range w.grid.potentialPairs() {
		ca, cb := w.colliders[p.A], w.colliders[p.B]
		if ca.body == cb.body {
			continue
		}
		if ca.body.typ != physics.Dynamic && cb.body.typ != physics.Dynamic {
			continue
		}
		normal, depth, hit := penetration(ca, cb)
		if !hit {
			continue
		}
		touching[p] = struct{}{}
		resolve(ca, cb, normal, depth)
		if _, was := w.active[p]; !was {
			w.events = append(w.events, physics.ContactEvent{A: p.A, B: p.B, Started: true})
		}
	}

	ended := make([]colliderPair, 0)
	for p := range w.active {
		if _, still := touching[p]; !still {
			ended = append(ended, p)
		}
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].less(ended[j]) })
	for _, p := range ended {
		w.events = append(w.events, physics.ContactEvent{A: p.A, B: p.B, Started: false})
	}
	w.active = touching
}

func (b *body) integrate(gravity mgl64.Vec3, dt float64) {
	switch b.typ {
	case physics.Dynamic:
		b.syncRigid()
		b.rigid.Integrate(dt, gravity.Mul(b.gravityScale))
		b.pos = b.rigid.Transform.Position
		b.rot = b.rigid.Transform.Rotation.Normalize()
		b.vel = b.rigid.Velocity
		b.angVel = b.rigid.AngularVelocity
	case physics.Kinematic:
		if b.hasNext {
			b.vel = b.nextPos.Sub(b.pos).Mul(1 / dt)
			b.pos = b.nextPos
			b.rot = b.nextRot
			b.hasNext = false
			return
		}
		b.pos = b.pos.Add(b.vel.Mul(dt))
		b.rot = integrateRotation(b.rot, b.angVel, dt)
	case physics.Fixed:
	}
}

// integrateRotation advances q by angular velocity w: q' = q + dt/2 * w * q.
func integrateRotation(q mgl64.Quat, w mgl64.Vec3, dt float64) mgl64.Quat {
	if w.Len() < epsilon {
		return q
	}
	spin := mgl64.Quat{W: 0, V: w}.Mul(q).Scale(0.5 * dt)
	return q.Add(spin).Normalize()
}

// worldBounds returns the axis-aligned bounds of a rotated box centred on b.
func worldBounds(b *body, half mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	m := b.rot.Mat4().Mat3()
	var ext mgl64.Vec3
	for row := 0; row < 3; row++ {
		ext[row] = math.Abs(m.At(row, 0))*half[0] +
			math.Abs(m.At(row, 1))*half[1] +
			math.Abs(m.At(row, 2))*half[2]
	}
	return b.pos.Sub(ext), b.pos.Add(ext)
}

// boundsOverlap reports whether the world-space bounds of a and b intersect.
// Touching faces do not count.
func boundsOverlap(a, b *collider) bool {
	for i := 0; i < 3; i++ {
		if a.max[i] <= b.min[i] || b.max[i] <= a.min[i] {
			return false
		}
	}
	return true
}

// edgeAxisBias is how much shallower a cross-product axis must be than the
// best face axis to become the contact normal.
const edgeAxisBias = 0.95

// penetration runs the separating-axis test on two oriented boxes. It returns
// the contact normal pointing from b towards a and the overlap depth along it.
// Touching faces do not count.
func penetration(a, b *collider) (normal mgl64.Vec3, depth float64, ok bool) {
	if !boundsOverlap(a, b) {
		return mgl64.Vec3{}, 0, false
	}
	axesA := boxAxes(a.body.rot)
	axesB := boxAxes(b.body.rot)
	ha, hb := a.box.HalfExtents, b.box.HalfExtents
	offset := a.body.pos.Sub(b.body.pos)

	depth = math.Inf(1)
	test := func(axis mgl64.Vec3, bias float64) bool {
		l := axis.Len()
		if l < 1e-6 {
			return true // parallel edges, covered by the face axes
		}
		axis = axis.Mul(1 / l)
		ra := projectedRadius(axesA, ha, axis)
		rb := projectedRadius(axesB, hb, axis)
		dist := offset.Dot(axis)
		overlap := ra + rb - math.Abs(dist)
		if overlap <= 0 {
			return false
		}
		if overlap < depth*bias {
			depth = overlap
			if dist < 0 {
				axis = axis.Mul(-1)
			}
			normal = axis
		}
		return true
	}

	for i := 0; i < 3; i++ {
		if !test(axesA[i], 1) || !test(axesB[i], 1) {
			return mgl64.Vec3{}, 0, false
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !test(axesA[i].Cross(axesB[j]), edgeAxisBias) {
				return mgl64.Vec3{}, 0, false
			}
		}
	}
	return normal, depth, true
}

// boxAxes returns the world directions of a box's local x, y and z axes.
func boxAxes(rot mgl64.Quat) [3]mgl64.Vec3 {
	m := rot.Mat4().Mat3()
	return [3]mgl64.Vec3{m.Col(0), m.Col(1), m.Col(2)}
}

// projectedRadius is the half length of a box's shadow on a unit axis.
func projectedRadius(axes [3]mgl64.Vec3, half, axis mgl64.Vec3) float64 {
	return half[0]*math.Abs(axes[0].Dot(axis)) +
		half[1]*math.Abs(axes[1].Dot(axis)) +
		half[2]*math.Abs(axes[2].Dot(axis))
}

// resolve pushes the pair apart along normal (b towards a) by depth and
// exchanges a restitution impulse, splitting both by inverse mass.
func resolve(a, b *collider, normal mgl64.Vec3, depth float64) {
	ba, bb := a.body, b.body
	invSum := ba.invMass + bb.invMass
	if invSum < epsilon {
		return
	}

	ba.pos = ba.pos.Add(normal.Mul(depth * ba.invMass / invSum))
	bb.pos = bb.pos.Sub(normal.Mul(depth * bb.invMass / invSum))

	rel := ba.vel.Sub(bb.vel)
	vn := rel.Dot(normal)
	if vn >= 0 {
		return
	}
	e := (a.box.Restitution + b.box.Restitution) / 2
	j := -(1 + e) * vn / invSum
	impulse := normal.Mul(j)
	ba.vel = ba.vel.Add(impulse.Mul(ba.invMass))
	bb.vel = bb.vel.Sub(impulse.Mul(bb.invMass))

	// Coulomb friction on the tangential part, capped by the normal impulse.
	rel = ba.vel.Sub(bb.vel)
	tangent := rel.Sub(normal.Mul(rel.Dot(normal)))
	speed := tangent.Len()
	if speed < epsilon {
		return
	}
	mu := math.Sqrt(math.Max(0, a.box.Friction*b.box.Friction))
	jt := math.Min(speed/invSum, mu*j)
	fric := tangent.Mul(-jt / speed)
	ba.vel = ba.vel.Add(fric.Mul(ba.invMass))
	bb.vel = bb.vel.Sub(fric.Mul(bb.invMass))
}

// DrainContactEvents hands every queued event to fn and clears the queue.
func (w *World) DrainContactEvents(fn func(physics.ContactEvent)) {
	events := w.events
	w.events = nil
	for _, e := range events {
		fn(e)
	}
}

func (w *World) Translation(h physics.BodyHandle) mgl64.Vec3 {
	if b, ok := w.bodies[h]; ok {
		return b.pos
	}
	return mgl64.Vec3{}
}

func (w *World) SetTranslation(h physics.BodyHandle, p mgl64.Vec3) {
	if b, ok := w.bodies[h]; ok {
		b.pos = p
		b.hasNext = false
	}
}

func (w *World) Rotation(h physics.BodyHandle) mgl64.Quat {
	if b, ok := w.bodies[h]; ok {
		return b.rot
	}
	return mgl64.QuatIdent()
}

func (w *World) SetRotation(h physics.BodyHandle, q mgl64.Quat) {
	if b, ok := w.bodies[h]; ok && q.Len() > epsilon {
		b.rot = q.Normalize()
	}
}

func (w *World) LinearVelocity(h physics.BodyHandle) mgl64.Vec3 {
	if b, ok := w.bodies[h]; ok {
		return b.vel
	}
	return mgl64.Vec3{}
}

func (w *World) SetLinearVelocity(h physics.BodyHandle, v mgl64.Vec3) {
	if b, ok := w.bodies[h]; ok && b.typ != physics.Fixed {
		b.vel = v
	}
}

func (w *World) AngularVelocity(h physics.BodyHandle) mgl64.Vec3 {
	if b, ok := w.bodies[h]; ok {
		return b.angVel
	}
	return mgl64.Vec3{}
}

func (w *World) SetAngularVelocity(h physics.BodyHandle, av mgl64.Vec3) {
	if b, ok := w.bodies[h]; ok && b.typ != physics.Fixed {
		b.angVel = av
	}
}

func (w *World) Mass(h physics.BodyHandle) float64 {
	if b, ok := w.bodies[h]; ok {
		return b.mass
	}
	return 0
}

// ApplyImpulse changes the linear momentum of a dynamic body.
func (w *World) ApplyImpulse(h physics.BodyHandle, impulse mgl64.Vec3) {
	if b, ok := w.bodies[h]; ok && b.typ == physics.Dynamic {
		b.vel = b.vel.Add(impulse.Mul(b.invMass))
	}
}

// ApplyTorqueImpulse changes the angular momentum of a dynamic body.
func (w *World) ApplyTorqueImpulse(h physics.BodyHandle, torque mgl64.Vec3) {
	if b, ok := w.bodies[h]; ok && b.typ == physics.Dynamic {
		b.syncRigid()
		b.angVel = b.angVel.Add(b.rigid.GetInverseInertiaWorld().Mul3x1(torque))
	}
}

// SetNextKinematicPose moves a kinematic body to p, q on the next Step.
func (w *World) SetNextKinematicPose(h physics.BodyHandle, p mgl64.Vec3, q mgl64.Quat) {
	b, ok := w.bodies[h]
	if !ok || b.typ != physics.Kinematic {
		return
	}
	b.hasNext = true
	b.nextPos = p
	if q.Len() > epsilon {
		b.nextRot = q.Normalize()
	} else {
		b.nextRot = b.rot
	}
}

func (w *World) BodyType(h physics.BodyHandle) physics.BodyType {
	if b, ok := w.bodies[h]; ok {
		return b.typ
	}
	return physics.Fixed
}

// SetBodyType converts a body in place, keeping its pose and velocity.
func (w *World) SetBodyType(h physics.BodyHandle, t physics.BodyType) error {
	b, ok := w.bodies[h]
	if !ok {
		return fmt.Errorf("set body type of %d: %w", h, physics.ErrUnknownBody)
	}
	b.typ = t
	b.hasNext = false
	if t == physics.Fixed {
		b.vel = mgl64.Vec3{}
		b.angVel = mgl64.Vec3{}
	}
	half := mgl64.Vec3{0.5, 0.5, 0.5}
	if len(b.colliders) > 0 {
		half = w.colliders[b.colliders[0]].box.HalfExtents
	}
	b.updateMassProperties(half)
	return nil
}

var _ physics.Simulation = (*World)(nil)
