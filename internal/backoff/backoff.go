package backoff

import (
	"sync"
	"time"
)

const (
	DefaultBase = time.Second
	DefaultMax  = 30 * time.Second
)

// Policy describes the retry delay curve: start at Base, double per
// consecutive failure, never exceed Max.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	return p
}

// Backoff tracks the delay to use before the next reconnect attempt.
// Not safe for concurrent use; the Supervisor serializes access.
type Backoff struct {
	policy Policy
	next   time.Duration
}

func New(p Policy) *Backoff {
	p = p.withDefaults()
	return &Backoff{policy: p, next: p.Base}
}

// Next returns the delay for the upcoming attempt and advances the curve.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.next*2, b.policy.Max)
	return d
}

// Reset restores the base delay. Called on every successful connect.
func (b *Backoff) Reset() {
	b.next = b.policy.Base
}

// Supervisor owns the single pending reconnect timer for a session.
// Scheduling a retry always replaces a previously pending one, and a
// cancelled supervisor swallows timers that were already in flight, so a
// disconnect issued while a retry is pending never produces a late attempt.
type Supervisor struct {
	mu        sync.Mutex
	backoff   *Backoff
	timer     *time.Timer
	cancelled bool
}

func NewSupervisor(p Policy) *Supervisor {
	return &Supervisor{backoff: New(p)}
}

// ScheduleRetry arms a timer for the next attempt and returns the delay it
// chose. fn runs on the timer goroutine; it is never invoked after Cancel.
func (s *Supervisor) ScheduleRetry(fn func()) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancelled {
		return 0
	}
	delay := s.backoff.Next()
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
	return delay
}

// Success resets the delay curve to its base value.
func (s *Supervisor) Success() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff.Reset()
}

// Cancel stops any pending timer and prevents scheduled attempts from
// firing. The supervisor stays cancelled until Resume.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Resume lifts a previous Cancel so the session can be reconnected later.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = false
	s.backoff.Reset()
}

// Pending reports whether a retry timer is currently armed.
func (s *Supervisor) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
