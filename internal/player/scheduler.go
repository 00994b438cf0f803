// ABOUTME: Gapless playback scheduler for inbound model audio
// ABOUTME: Tracks a monotonic next-start cursor against the output clock
package player

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Orbit-Assistant/orbit-go/pkg/audio"
)

// ErrSchedulerClosed reports a Schedule call after Close.
var ErrSchedulerClosed = errors.New("player: scheduler closed")

// Stats tracks scheduler counters.
type Stats struct {
	Scheduled int64
	Dropped   int64
}

// Scheduler queues decoded audio buffers for gapless sequential playback.
// Frames play in arrival order; there is no reordering buffer, so delivery
// order is assumed to equal intended playback order.
type Scheduler struct {
	clock Clock
	out   Output

	mu     sync.Mutex
	cursor float64 // next start time, output-clock seconds
	stats  Stats

	queue chan timedBuffer
	done  chan struct{}

	closeOnce sync.Once
}

type timedBuffer struct {
	start float64
	buf   *audio.Buffer
}

// NewScheduler creates a scheduler writing to out against clock and starts
// its run loop.
func NewScheduler(clock Clock, out Output) *Scheduler {
	s := &Scheduler{
		clock: clock,
		out:   out,
		queue: make(chan timedBuffer, 64),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule decodes one inbound frame and enqueues it to start at
// max(cursor, now), then advances the cursor by the buffer's duration.
// A malformed frame is dropped with the cursor untouched. Returns the
// start time assigned to the frame.
func (s *Scheduler) Schedule(frame audio.Frame) (float64, error) {
	buf, err := audio.DecodePCM(frame.Data, audio.OutputSampleRate, audio.Channels)
	if err != nil {
		s.mu.Lock()
		s.stats.Dropped++
		s.mu.Unlock()
		log.Printf("Dropping malformed audio frame: %v", err)
		return 0, err
	}

	s.mu.Lock()
	start := s.cursor
	if now := s.clock.Now(); now > start {
		start = now
	}
	s.cursor = start + buf.Duration()
	s.stats.Scheduled++
	s.mu.Unlock()

	select {
	case s.queue <- timedBuffer{start: start, buf: buf}:
		return start, nil
	case <-s.done:
		return start, ErrSchedulerClosed
	}
}

// run delivers queued buffers to the output at their start times. Buffers
// are consumed strictly in schedule order; starts are non-decreasing by
// construction, so waiting on the head never starves a later buffer.
func (s *Scheduler) run() {
	for {
		select {
		case <-s.done:
			return
		case tb := <-s.queue:
			if wait := tb.start - s.clock.Now(); wait > 0 {
				select {
				case <-time.After(time.Duration(wait * float64(time.Second))):
				case <-s.done:
					return
				}
			}
			if err := s.out.Write(tb.buf.Samples); err != nil {
				log.Printf("Playback write failed: %v", err)
			}
		}
	}
}

// Cursor returns the current next-start time in output-clock seconds.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Remaining returns the seconds of scheduled audio not yet played.
// Zero once the cursor has fallen behind the clock.
func (s *Scheduler) Remaining() float64 {
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()
	if rem := cursor - s.clock.Now(); rem > 0 {
		return rem
	}
	return 0
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the run loop immediately without waiting for pending
// playback. Idempotent.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// String renders counters for status displays.
func (st Stats) String() string {
	return fmt.Sprintf("scheduled=%d dropped=%d", st.Scheduled, st.Dropped)
}
