package game

import "math"

// stepSlack absorbs float error so that frames of exactly one step always run it.
const stepSlack = 1e-9

// Clock turns variable frame deltas into whole fixed steps.
type Clock struct {
	step     float64
	maxDelta float64

	accumulator float64
	steps       uint64
}

// NewClock returns a clock that steps by step seconds and clamps frames to maxDelta.
func NewClock(step, maxDelta float64) *Clock {
	return &Clock{step: step, maxDelta: maxDelta}
}

// Advance adds frameDelta to the accumulator and calls fn once per whole step
// it now holds. Negative or NaN deltas add nothing. It returns the steps run.
func (c *Clock) Advance(frameDelta float64, fn func(dt float64)) int {
	if math.IsNaN(frameDelta) || frameDelta < 0 {
		frameDelta = 0
	}
	if frameDelta > c.maxDelta {
		frameDelta = c.maxDelta
	}
	c.accumulator += frameDelta

	n := 0
	for c.accumulator+stepSlack >= c.step {
		fn(c.step)
		c.accumulator -= c.step
		c.steps++
		n++
	}
	if c.accumulator < 0 {
		c.accumulator = 0
	}
	return n
}

// Now returns simulated seconds elapsed.
func (c *Clock) Now() float64 {
	return float64(c.steps) * c.step
}

// Steps returns the number of fixed steps run.
func (c *Clock) Steps() uint64 {
	return c.steps
}

// Alpha returns how far the accumulator is into the next step, for render interpolation.
func (c *Clock) Alpha() float64 {
	return c.accumulator / c.step
}

// Step returns the fixed timestep.
func (c *Clock) Step() float64 {
	return c.step
}

// Reset clears the accumulator and step count.
func (c *Clock) Reset() {
	c.accumulator = 0
	c.steps = 0
}
