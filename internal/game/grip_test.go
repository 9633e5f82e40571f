package game

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/race/endless/config"
	"github.com/stretchr/testify/assert"
)

func TestGripFallsWithSlip(t *testing.T) {
	cfg := config.DefaultTuning().Vehicle

	prev := math.Inf(1)
	for i := 0; i <= 20; i++ {
		slip := float64(i) / 20
		grip := GripCoefficient(cfg, slip, false)
		assert.LessOrEqual(t, grip, prev, "slip %v", slip)
		assert.LessOrEqual(t, GripCoefficient(cfg, slip, true), grip, "handbrake at slip %v", slip)
		assert.Positive(t, grip)
		prev = grip
	}

	assert.InDelta(t, cfg.MaxGrip, GripCoefficient(cfg, 0, false), 1e-12)
	assert.InDelta(t, cfg.BaseGrip*cfg.DriftGripFactor, GripCoefficient(cfg, 1, false), 1e-12)
	assert.InDelta(t, GripCoefficient(cfg, 1, false), GripCoefficient(cfg, 5, false), 1e-12, "slip is clamped")
}

func TestDecomposeVelocity(t *testing.T) {
	along, lateral := DecomposeVelocity(mgl64.Vec3{3, 7, -4}, mgl64.Vec3{0, 0, -1})
	assert.True(t, along.ApproxEqual(mgl64.Vec3{0, 0, -4}), "along %v", along)
	assert.True(t, lateral.ApproxEqual(mgl64.Vec3{3, 0, 0}), "lateral %v", lateral)

	assert.InDelta(t, 0.6, SlipRatio(mgl64.Vec3{3, 7, -4}, mgl64.Vec3{0, 0, -1}), 1e-12)
	assert.Zero(t, SlipRatio(mgl64.Vec3{}, mgl64.Vec3{0, 0, -1}))
	assert.Zero(t, SlipRatio(mgl64.Vec3{0, -9, 0}, mgl64.Vec3{0, 0, -1}), "vertical motion is not slip")
}

func TestBleedLateral(t *testing.T) {
	forward := mgl64.Vec3{0, 0, -1}
	v := mgl64.Vec3{4, -2, -10}

	half := BleedLateral(v, forward, 30, 1.0/60)
	assert.InDelta(t, 2, half.X(), 1e-12)
	assert.InDelta(t, -2, half.Y(), 1e-12)
	assert.InDelta(t, -10, half.Z(), 1e-12)

	gone := BleedLateral(v, forward, 120, 1.0/60)
	assert.InDelta(t, 0, gone.X(), 1e-12)

	over := BleedLateral(v, forward, 1000, 1.0/60)
	assert.InDelta(t, 0, over.X(), 1e-12, "bleed never reverses lateral velocity")
}

func TestYawRoundTrip(t *testing.T) {
	for _, yaw := range []float64{0, 0.3, -1.2, 2.9} {
		f := headingOf(yawRotation(yaw))
		assert.InDelta(t, 1, f.Len(), 1e-9)
		assert.InDelta(t, yaw, yawOf(f), 1e-9)
	}
	assert.True(t, headingOf(mgl64.QuatIdent()).ApproxEqual(mgl64.Vec3{0, 0, -1}))
}
