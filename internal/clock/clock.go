package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock time so billing policy is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystem() Clock {
	return SystemClock{}
}

// Module wires the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
