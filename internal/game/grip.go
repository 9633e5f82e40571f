package game

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/config"
)

var up = mgl64.Vec3{0, 1, 0}

// flatten drops the vertical part of v
func flatten(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v.X(), 0, v.Z()}
}

// headingOf returns the unit forward vector on the ground plane for a body rotation
func headingOf(rot mgl64.Quat) mgl64.Vec3 {
	f := flatten(rot.Rotate(mgl64.Vec3{0, 0, -1}))
	if f.Len() < 1e-9 {
		return mgl64.Vec3{0, 0, -1}
	}
	return f.Normalize()
}

// yawOf returns the yaw angle whose rotation maps -z onto forward
func yawOf(forward mgl64.Vec3) float64 {
	return math.Atan2(-forward.X(), -forward.Z())
}

// yawRotation returns a rotation about +y only
func yawRotation(yaw float64) mgl64.Quat {
	return mgl64.QuatRotate(yaw, up)
}

// DecomposeVelocity splits the horizontal part of v into its component along
// forward and the remaining lateral (slip) component.
func DecomposeVelocity(v, forward mgl64.Vec3) (along, lateral mgl64.Vec3) {
	h := flatten(v)
	f := flatten(forward)
	if f.Len() < 1e-9 {
		return mgl64.Vec3{}, h
	}
	f = f.Normalize()
	along = f.Mul(h.Dot(f))
	return along, h.Sub(along)
}

// SlipRatio is the share of horizontal speed that is sideways. It is zero at rest.
func SlipRatio(v, forward mgl64.Vec3) float64 {
	_, lateral := DecomposeVelocity(v, forward)
	speed := flatten(v).Len()
	if speed < 1e-6 {
		return 0
	}
	return clamp(lateral.Len()/speed, 0, 1)
}

// GripCoefficient returns the rate at which lateral velocity is removed.
// Grip falls from MaxGrip at zero slip to BaseGrip at full slip, drops further
// once the car is drifting, and again while the handbrake is held.
func GripCoefficient(cfg config.Vehicle, slip float64, handbrake bool) float64 {
	slip = clamp(slip, 0, 1)
	grip := cfg.MaxGrip + (cfg.BaseGrip-cfg.MaxGrip)*slip
	if slip > cfg.DriftThreshold {
		grip *= cfg.DriftGripFactor
	}
	if handbrake {
		grip *= cfg.HandbrakeGripFactor
	}
	return grip
}

// BleedLateral scales the lateral part of v by max(0, 1-grip*dt). Vertical velocity is kept.
func BleedLateral(v, forward mgl64.Vec3, grip, dt float64) mgl64.Vec3 {
	along, lateral := DecomposeVelocity(v, forward)
	keep := math.Max(0, 1-grip*dt)
	h := along.Add(lateral.Mul(keep))
	return mgl64.Vec3{h.X(), v.Y(), h.Z()}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
