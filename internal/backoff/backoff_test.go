package backoff

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNextDoublesUntilCap(t *testing.T) {
	b := New(Policy{Base: time.Second, Max: 30 * time.Second})

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestResetRestoresBase(t *testing.T) {
	b := New(Policy{Base: time.Second, Max: 30 * time.Second})
	b.Next()
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("delay after reset = %v, want 1s", got)
	}
}

func TestZeroPolicyDefaults(t *testing.T) {
	b := New(Policy{})
	if got := b.Next(); got != DefaultBase {
		t.Errorf("first delay = %v, want %v", got, DefaultBase)
	}
}

func TestSupervisorFiresScheduledRetry(t *testing.T) {
	s := NewSupervisor(Policy{Base: 10 * time.Millisecond, Max: 100 * time.Millisecond})

	fired := make(chan struct{})
	delay := s.ScheduleRetry(func() { close(fired) })
	if delay != 10*time.Millisecond {
		t.Errorf("delay = %v, want 10ms", delay)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled retry never fired")
	}
}

func TestSupervisorCancelPreventsPendingRetry(t *testing.T) {
	s := NewSupervisor(Policy{Base: 20 * time.Millisecond, Max: 100 * time.Millisecond})

	var fired atomic.Bool
	s.ScheduleRetry(func() { fired.Store(true) })
	s.Cancel()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Error("retry fired after Cancel")
	}
	if s.Pending() {
		t.Error("timer still pending after Cancel")
	}
}

func TestSupervisorScheduleReplacesPendingTimer(t *testing.T) {
	s := NewSupervisor(Policy{Base: 20 * time.Millisecond, Max: 100 * time.Millisecond})

	var fires atomic.Int32
	s.ScheduleRetry(func() { fires.Add(1) })
	s.ScheduleRetry(func() { fires.Add(1) })

	time.Sleep(150 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Errorf("fires = %d, want 1 (second schedule must replace the first)", got)
	}
}

func TestSupervisorSuccessResetsCurve(t *testing.T) {
	s := NewSupervisor(Policy{Base: time.Second, Max: 30 * time.Second})
	s.Cancel() // keep timers from actually arming
	s.Resume()

	s.mu.Lock()
	s.backoff.Next()
	s.backoff.Next()
	s.mu.Unlock()

	s.Success()

	s.mu.Lock()
	got := s.backoff.Next()
	s.mu.Unlock()
	if got != time.Second {
		t.Errorf("delay after Success = %v, want 1s", got)
	}
}

func TestSupervisorResumeAllowsNewSchedules(t *testing.T) {
	s := NewSupervisor(Policy{Base: 5 * time.Millisecond, Max: 100 * time.Millisecond})
	s.Cancel()
	if d := s.ScheduleRetry(func() {}); d != 0 {
		t.Errorf("cancelled supervisor scheduled a retry with delay %v", d)
	}

	s.Resume()
	fired := make(chan struct{})
	s.ScheduleRetry(func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("retry did not fire after Resume")
	}
}
