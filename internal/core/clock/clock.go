// Package clock abstracts the time source so cooldowns, privacy windows and
// respawn schedules can be frozen or advanced in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source consumed by services. Production code uses System;
// tests use Simulated.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Simulated is a manually advanced clock.
type Simulated struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimulated creates a simulated clock starting at the given instant.
func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start}
}

func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock forward by d.
func (s *Simulated) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

// Set jumps the clock to the given instant.
func (s *Simulated) Set(t time.Time) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}
