package liveness

import (
	"sync"
	"time"
)

// DefaultWindow is how long a connected transport may stay silent before it
// is treated as dead. The device pushes state roughly once a second, so 5s
// of silence means the channel is open but nobody is home.
const DefaultWindow = 5 * time.Second

// Monitor watches message recency on a single transport. There is no
// application-level ping, so any inbound traffic counts as proof of life.
// onExpire runs at most once per armed window, on the timer goroutine.
type Monitor struct {
	window   int64 // nanoseconds, immutable
	onExpire func()

	mu    sync.Mutex
	timer *time.Timer
}

func New(window time.Duration, onExpire func()) *Monitor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Monitor{window: int64(window), onExpire: onExpire}
}

// Reset arms (or re-arms) the deadline. Called on connect and on every
// inbound message.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(time.Duration(m.window), func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		m.onExpire()
	})
}

// Stop disarms the deadline. Safe to call repeatedly and while expired.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Armed reports whether a deadline is currently pending.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}
