// ABOUTME: Output clock abstraction for playback scheduling
// ABOUTME: Provides monotonic seconds since the output opened
package player

import "time"

// Clock is the audio-output time base the scheduler plans against.
type Clock interface {
	// Now returns seconds elapsed on the output clock.
	Now() float64
}

// NewClock returns a monotonic clock starting at zero.
func NewClock() Clock {
	return &monotonicClock{start: time.Now()}
}

type monotonicClock struct {
	start time.Time
}

func (c *monotonicClock) Now() float64 {
	return time.Since(c.start).Seconds()
}
