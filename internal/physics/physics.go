// Package physics defines the narrow rigid-body contract the simulation core consumes.
//
// The core never assumes a concrete engine. Anything that can create bodies with box
// colliders, step at a fixed rate and report begin/end contacts by collider handle can
// drive a session. boxworld is the in-repo implementation.
package physics

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrUnavailable is returned by factories that cannot start a world.
	ErrUnavailable = errors.New("physics engine unavailable")
	// ErrUnsupported is returned by optional operations an engine does not implement.
	ErrUnsupported = errors.New("operation not supported by physics engine")
	// ErrUnknownBody is returned when a handle does not name a live body.
	ErrUnknownBody = errors.New("unknown body")
)

// BodyHandle identifies a rigid body. Zero is never a valid handle.
type BodyHandle uint32

// ColliderHandle identifies a collision shape attached to a body. Zero is never valid.
type ColliderHandle uint32

// BodyType selects how a body is integrated.
type BodyType uint8

const (
	// Dynamic bodies integrate forces, gravity and impulses.
	Dynamic BodyType = iota
	// Kinematic bodies follow poses set by game logic and ignore forces.
	Kinematic
	// Fixed bodies never move.
	Fixed
)

func (t BodyType) String() string {
	switch t {
	case Dynamic:
		return "dynamic"
	case Kinematic:
		return "kinematic"
	case Fixed:
		return "fixed"
	}
	return "unknown"
}

// BodyDesc describes a body at creation time.
type BodyDesc struct {
	Type           BodyType
	Position       mgl64.Vec3
	Rotation       mgl64.Quat
	Mass           float64
	LinearDamping  float64
	AngularDamping float64
	GravityScale   float64
}

// BoxCollider is an oriented box centred on its body.
type BoxCollider struct {
	HalfExtents mgl64.Vec3
	Friction    float64
	Restitution float64
}

// ContactEvent reports that two colliders started or stopped touching.
type ContactEvent struct {
	A, B    ColliderHandle
	Started bool
}

// Other returns the handle on the opposite side of c, and false if c is not part of the event.
func (e ContactEvent) Other(c ColliderHandle) (ColliderHandle, bool) {
	switch c {
	case e.A:
		return e.B, true
	case e.B:
		return e.A, true
	}
	return 0, false
}

// Simulation is the rigid-body service a session steps once per fixed timestep.
//
// Queries on unknown handles return zero values. Setters on unknown handles are no-ops.
type Simulation interface {
	CreateBody(desc BodyDesc) BodyHandle
	AttachBox(body BodyHandle, box BoxCollider) (ColliderHandle, error)
	RemoveBody(body BodyHandle)
	Contains(body BodyHandle) bool
	ColliderBody(c ColliderHandle) (BodyHandle, bool)

	// Step advances the world by the timestep it was created with and queues contacts.
	Step()
	// DrainContactEvents hands every queued event to fn and clears the queue.
	DrainContactEvents(fn func(ContactEvent))

	Translation(body BodyHandle) mgl64.Vec3
	SetTranslation(body BodyHandle, p mgl64.Vec3)
	Rotation(body BodyHandle) mgl64.Quat
	SetRotation(body BodyHandle, q mgl64.Quat)
	LinearVelocity(body BodyHandle) mgl64.Vec3
	SetLinearVelocity(body BodyHandle, v mgl64.Vec3)
	AngularVelocity(body BodyHandle) mgl64.Vec3
	SetAngularVelocity(body BodyHandle, w mgl64.Vec3)
	Mass(body BodyHandle) float64

	ApplyImpulse(body BodyHandle, impulse mgl64.Vec3)
	ApplyTorqueImpulse(body BodyHandle, torque mgl64.Vec3)
	SetNextKinematicPose(body BodyHandle, p mgl64.Vec3, q mgl64.Quat)

	BodyType(body BodyHandle) BodyType
	// SetBodyType changes a body in place or returns ErrUnsupported.
	SetBodyType(body BodyHandle, t BodyType) error

	BodyCount() int
}

// Factory creates a world with the given gravity that steps by timestep seconds.
type Factory func(gravity mgl64.Vec3, timestep float64) (Simulation, error)
