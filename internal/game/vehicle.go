package game

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/config"
	"github.com/race/endless/internal/physics"
	"github.com/rs/zerolog"
)

// VehicleState is the explode/reset state of the player car.
type VehicleState uint8

const (
	VehicleNormal VehicleState = iota
	VehicleExploded
)

func (s VehicleState) String() string {
	switch s {
	case VehicleNormal:
		return "normal"
	case VehicleExploded:
		return "exploded"
	}
	return "unknown"
}

// AnalogInput is a filtered stick or gesture reading. Positive steering turns right.
type AnalogInput struct {
	Steering float64 // -1.0 to 1.0
	Throttle float64 // 0.0 to 1.0
}

// Controls is the input for one fixed step. Analog wins over the digital flags when set.
type Controls struct {
	Forward   bool
	Backward  bool
	Left      bool
	Right     bool
	Handbrake bool
	Analog    *AnalogInput
}

// axes returns throttle in [-reverse, 1] and a yaw steer input where positive turns left.
func (c Controls) axes(reverse float64) (throttle, steer float64) {
	if c.Analog != nil {
		return clamp(c.Analog.Throttle, 0, 1), -clamp(c.Analog.Steering, -1, 1)
	}
	switch {
	case c.Forward && !c.Backward:
		throttle = 1
	case c.Backward && !c.Forward:
		throttle = -reverse
	}
	if c.Left {
		steer++
	}
	if c.Right {
		steer--
	}
	return throttle, steer
}

// Vehicle is the player car: one dynamic body driven by impulses, with a
// slip-based grip model applied after every physics step.
type Vehicle struct {
	cfg    config.Vehicle
	sim    physics.Simulation
	debris *DebrisPool
	log    zerolog.Logger

	body     physics.BodyHandle
	collider physics.ColliderHandle
	spawn    mgl64.Vec3

	State     VehicleState
	Yaw       float64
	Visible   bool
	RespawnAt float64

	controls   Controls
	lastSpeed  float64
	explosions int
}

// NewVehicle creates a vehicle with no body. Call Spawn before driving it.
func NewVehicle(cfg config.Vehicle, sim physics.Simulation, debris *DebrisPool, log zerolog.Logger) *Vehicle {
	return &Vehicle{
		cfg:    cfg,
		sim:    sim,
		debris: debris,
		log:    log,
	}
}

// Spawn creates the body and collider at pos facing -z.
func (v *Vehicle) Spawn(pos mgl64.Vec3, friction, restitution float64) error {
	if v.body != 0 {
		return nil
	}
	body := v.sim.CreateBody(physics.BodyDesc{
		Type:           physics.Dynamic,
		Position:       pos,
		Rotation:       mgl64.QuatIdent(),
		Mass:           v.cfg.Mass,
		LinearDamping:  v.cfg.LinearDamping,
		AngularDamping: v.cfg.AngularDamping,
		GravityScale:   1,
	})
	he := v.cfg.HalfExtents
	collider, err := v.sim.AttachBox(body, physics.BoxCollider{
		HalfExtents: mgl64.Vec3{he.X, he.Y, he.Z},
		Friction:    friction,
		Restitution: restitution,
	})
	if err != nil {
		v.sim.RemoveBody(body)
		return fmt.Errorf("attach vehicle collider: %w", err)
	}

	v.body = body
	v.collider = collider
	v.spawn = pos
	v.State = VehicleNormal
	v.Visible = true
	v.Yaw = 0
	return nil
}

// Body returns the physics handle, zero before Spawn.
func (v *Vehicle) Body() physics.BodyHandle { return v.body }

// Collider returns the collider handle, zero before Spawn.
func (v *Vehicle) Collider() physics.ColliderHandle { return v.collider }

// Controls returns the controls applied on the last step.
func (v *Vehicle) Controls() Controls { return v.controls }

// Explosions returns how many times the vehicle has exploded.
func (v *Vehicle) Explosions() int { return v.explosions }

// Position returns the body translation.
func (v *Vehicle) Position() mgl64.Vec3 {
	if v.body == 0 {
		return mgl64.Vec3{}
	}
	return v.sim.Translation(v.body)
}

// Velocity returns the body linear velocity.
func (v *Vehicle) Velocity() mgl64.Vec3 {
	if v.body == 0 {
		return mgl64.Vec3{}
	}
	return v.sim.LinearVelocity(v.body)
}

// Rotation returns the body orientation.
func (v *Vehicle) Rotation() mgl64.Quat {
	if v.body == 0 {
		return mgl64.QuatIdent()
	}
	return v.sim.Rotation(v.body)
}

// Forward returns the unit heading on the ground plane.
func (v *Vehicle) Forward() mgl64.Vec3 {
	return headingOf(v.Rotation())
}

// Speed returns the horizontal speed.
func (v *Vehicle) Speed() float64 {
	return flatten(v.Velocity()).Len()
}

// ForwardSpeed returns the signed speed along the heading.
func (v *Vehicle) ForwardSpeed() float64 {
	return v.Velocity().Dot(v.Forward())
}

// Slip returns the current slip ratio.
func (v *Vehicle) Slip() float64 {
	return SlipRatio(v.Velocity(), v.Forward())
}

// ImpactSpeed is the larger of the speed before the last step and now, so
// contacts that already bled off speed still count at the speed they hit with.
func (v *Vehicle) ImpactSpeed() float64 {
	return math.Max(v.lastSpeed, v.Speed())
}

// ApplyControls pushes the car along its heading and steers its yaw rate. It runs before the physics step.
func (v *Vehicle) ApplyControls(c Controls, dt float64) {
	if v.body == 0 {
		return
	}
	v.controls = c
	if v.State == VehicleExploded {
		v.hold()
		return
	}

	cfg := v.cfg
	forward := v.Forward()
	vel := v.sim.LinearVelocity(v.body)
	speed := flatten(vel).Len()
	forwardSpeed := vel.Dot(forward)
	v.lastSpeed = speed

	throttle, steer := c.axes(cfg.ReverseFactor)
	switch {
	case throttle > 0 && forwardSpeed < cfg.MaxSpeed,
		throttle < 0 && forwardSpeed > -cfg.MaxSpeed*cfg.ReverseFactor:
		mass := v.sim.Mass(v.body)
		v.sim.ApplyImpulse(v.body, forward.Mul(throttle*cfg.Acceleration*mass*dt))
	}

	if speed <= cfg.SteerMinSpeed {
		return
	}
	factor := clamp(speed/8, cfg.MinSteerFactor, 1)
	if c.Handbrake {
		factor *= cfg.HandbrakeSteerBoost
	}
	target := steer * cfg.TurnSpeed * factor
	if forwardSpeed < 0 {
		target = -target
	}
	av := v.sim.AngularVelocity(v.body)
	blend := math.Min(1, cfg.SteerResponse*dt)
	av[1] += (target - av.Y()) * blend
	v.sim.SetAngularVelocity(v.body, av)
}

// ApplyGrip bleeds lateral velocity and keeps the car on the ground. It runs after the physics step.
func (v *Vehicle) ApplyGrip(dt float64) {
	if v.body == 0 {
		return
	}
	if v.State == VehicleExploded {
		v.hold()
		return
	}

	rot := v.sim.Rotation(v.body)
	forward := headingOf(rot)
	vel := v.sim.LinearVelocity(v.body)

	grip := GripCoefficient(v.cfg, SlipRatio(vel, forward), v.controls.Handbrake)
	vel = BleedLateral(vel, forward, grip, dt)

	v.Yaw = yawOf(forward)
	if pos := v.sim.Translation(v.body); pos.Y() <= 0 {
		pos[1] = 0
		v.sim.SetTranslation(v.body, pos)
		if vel.Y() < 0 {
			vel[1] = 0
		}
		v.sim.SetRotation(v.body, yawRotation(v.Yaw))
		av := v.sim.AngularVelocity(v.body)
		v.sim.SetAngularVelocity(v.body, mgl64.Vec3{0, av.Y(), 0})
	}
	v.sim.SetLinearVelocity(v.body, vel)
}

// hold pins the wreck in place while exploded.
func (v *Vehicle) hold() {
	v.sim.SetLinearVelocity(v.body, mgl64.Vec3{})
	v.sim.SetAngularVelocity(v.body, mgl64.Vec3{})
	if pos := v.sim.Translation(v.body); pos.Y() < 0 {
		pos[1] = 0
		v.sim.SetTranslation(v.body, pos)
	}
}

// Explode hides the car, throws debris and schedules a reset. It reports false
// when the car is already exploded or has no body.
func (v *Vehicle) Explode(now float64) bool {
	if v.body == 0 || v.State == VehicleExploded {
		return false
	}
	pos := v.sim.Translation(v.body)
	vel := v.sim.LinearVelocity(v.body)

	v.State = VehicleExploded
	v.Visible = false
	v.RespawnAt = now + v.cfg.RespawnDelay
	v.explosions++

	pieces := 0
	if v.debris != nil {
		pieces = v.debris.Burst(OwnerPlayer, pos, vel.Mul(0.5), v.cfg.DebrisCount, now)
	}
	v.hold()

	v.log.Info().
		Float64("x", pos.X()).
		Float64("z", pos.Z()).
		Float64("speed", flatten(vel).Len()).
		Int("debris", pieces).
		Msg("vehicle exploded")
	return true
}

// Tick resets the car once its respawn delay has passed. It reports whether a reset happened.
func (v *Vehicle) Tick(now float64) bool {
	if v.body == 0 || v.State != VehicleExploded || now < v.RespawnAt {
		return false
	}
	v.Reset()
	return true
}

// Reset clears debris and puts the car back on the spawn pose at rest.
func (v *Vehicle) Reset() {
	if v.body == 0 {
		return
	}
	if v.debris != nil {
		v.debris.RemoveOwner(OwnerPlayer)
	}
	v.sim.SetTranslation(v.body, v.spawn)
	v.sim.SetRotation(v.body, mgl64.QuatIdent())
	v.sim.SetLinearVelocity(v.body, mgl64.Vec3{})
	v.sim.SetAngularVelocity(v.body, mgl64.Vec3{})

	v.State = VehicleNormal
	v.Visible = true
	v.Yaw = 0
	v.lastSpeed = 0
	v.controls = Controls{}

	v.log.Info().Msg("vehicle reset")
}
