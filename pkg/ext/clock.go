package ext

import "time"

// Clock wraps the Now method so that tests can replace the wall clock with
// a fixed one.
type Clock interface {
	Now() time.Time
}

// Since returns the time elapsed on the given clock since t.
func Since(clock Clock, t time.Time) time.Duration {
	return clock.Now().Sub(t)
}

type systemClock struct {
}

func (c *systemClock) Now() time.Time {
	return time.Now()
}

func NewSystemClock() Clock {
	return &systemClock{}
}

type fixedClock struct {
	fixedTime time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.fixedTime
}

// NewFixedClock returns a Clock frozen at fixedTime.
func NewFixedClock(fixedTime time.Time) Clock {
	return &fixedClock{
		fixedTime: fixedTime,
	}
}
