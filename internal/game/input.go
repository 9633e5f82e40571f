package game

import (
	"math"
	"sync"
	"time"
)

// InputSource is polled once per fixed step for the controls to apply.
type InputSource interface {
	Poll() Controls
}

// InputSourceFunc adapts a function to InputSource.
type InputSourceFunc func() Controls

func (f InputSourceFunc) Poll() Controls { return f() }

// InputVerdict is the result of submitting input to an InputLatch.
type InputVerdict int

const (
	InputAccepted InputVerdict = iota
	InputRateLimited
	InputRejected
)

func (v InputVerdict) String() string {
	switch v {
	case InputAccepted:
		return "accepted"
	case InputRateLimited:
		return "rate_limited"
	case InputRejected:
		return "rejected"
	}
	return "unknown"
}

// InputLatch holds the latest controls submitted from another goroutine and
// hands them to the simulation on each Poll.
//
// Submissions beyond maxPerStep between two polls are dropped, and malformed
// analog values are rejected. Both count as violations.
type InputLatch struct {
	mu sync.Mutex

	current       Controls
	analog        AnalogInput
	inputsPerStep int
	maxPerStep    int
	violations    int
	maxViolations int
	lastInput     time.Time
	now           func() time.Time
}

// NewInputLatch creates a latch accepting at most maxPerStep inputs between polls.
func NewInputLatch(maxPerStep, maxViolations int) *InputLatch {
	return &InputLatch{
		maxPerStep:    maxPerStep,
		maxViolations: maxViolations,
		now:           time.Now,
		lastInput:     time.Now(),
	}
}

// Submit stores c as the controls for the next step.
func (l *InputLatch) Submit(c Controls) InputVerdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inputsPerStep++
	if l.inputsPerStep > l.maxPerStep {
		l.violations++
		return InputRateLimited
	}

	if a := c.Analog; a != nil {
		if !finite(a.Steering) || !finite(a.Throttle) {
			l.violations++
			return InputRejected
		}
		if math.Abs(a.Steering) > 1 || a.Throttle < 0 || a.Throttle > 1 {
			l.violations++
		}
		l.analog = AnalogInput{
			Steering: clamp(a.Steering, -1, 1),
			Throttle: clamp(a.Throttle, 0, 1),
		}
		c.Analog = &l.analog
	}

	l.current = c
	l.lastInput = l.now()
	return InputAccepted
}

// Poll returns the latest accepted controls and opens a new rate window.
func (l *InputLatch) Poll() Controls {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inputsPerStep = 0
	c := l.current
	if c.Analog != nil {
		a := *c.Analog
		c.Analog = &a
	}
	return c
}

// Violations returns the number of dropped or corrected submissions.
func (l *InputLatch) Violations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.violations
}

// Exceeded reports whether the violation count passed the configured maximum.
func (l *InputLatch) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.violations > l.maxViolations
}

// LastInput returns when input was last accepted.
func (l *InputLatch) LastInput() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastInput
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
