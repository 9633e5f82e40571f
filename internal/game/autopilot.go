package game

import (
	"math"

	"github.com/race/endless/internal/world"
)

const (
	autopilotLookahead = 12.0
	autopilotGain      = 2.0
)

// Autopilot is an InputSource that holds a throttle and steers toward the road
// centreline a short distance ahead. It drives headless runs and soak tests.
type Autopilot struct {
	vehicle  *Vehicle
	streamer *world.Streamer
	Throttle float64
	// Handbrake is held whenever the steering demand exceeds this. Zero disables it.
	HandbrakeAbove float64
}

// NewAutopilot returns an autopilot for v following the road held by s.
func NewAutopilot(v *Vehicle, s *world.Streamer, throttle float64) *Autopilot {
	return &Autopilot{
		vehicle:  v,
		streamer: s,
		Throttle: clamp(throttle, 0, 1),
	}
}

// Poll implements InputSource.
func (a *Autopilot) Poll() Controls {
	pos := a.vehicle.Position()
	steering := 0.0
	if basis, ok := a.streamer.Basis(pos.Z() - autopilotLookahead); ok {
		to := flatten(basis.Center.Sub(pos))
		if d := to.Len(); d > 1e-6 {
			forward := a.vehicle.Forward()
			right := forward.Cross(up)
			steering = clamp(autopilotGain*to.Dot(right)/d, -1, 1)
		}
	}
	return Controls{
		Handbrake: a.HandbrakeAbove > 0 && math.Abs(steering) > a.HandbrakeAbove,
		Analog:    &AnalogInput{Steering: steering, Throttle: a.Throttle},
	}
}
