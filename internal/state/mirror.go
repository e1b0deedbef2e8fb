package state

import (
	"math"
	"sync"

	"baerlink/internal/models"
)

// ResolveFunc looks up a catalog item by (slot, index). ok is false when the
// pair is out of range or no catalog has been fetched yet.
type ResolveFunc func(slot, index int) (*models.CatalogItem, bool)

// Mirror holds the canonical snapshot of one device's state. It is mutated
// exclusively by Apply, which the session runs from its single consumer
// goroutine; Snapshot may be called from anywhere.
type Mirror struct {
	mu      sync.RWMutex
	state   models.DeviceState
	version uint64
	resolve ResolveFunc
}

func NewMirror() *Mirror {
	return &Mirror{
		state: models.DeviceState{Playback: models.PlaybackIdle},
	}
}

// SetResolver installs the catalog lookup. Called once the per-connection
// catalog fetch finishes; until then every resolution simply misses.
func (m *Mirror) SetResolver(fn ResolveFunc) {
	m.mu.Lock()
	m.resolve = fn
	m.mu.Unlock()
}

// Snapshot returns the current state and its version. The version increments
// on every applied update, so consumers can diff by counter instead of by
// field comparison.
func (m *Mirror) Snapshot() (models.DeviceState, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.version
}

// Apply merges one update into the mirror and returns the new snapshot.
func (m *Mirror) Apply(u models.StateUpdate) (models.DeviceState, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Merge(m.state, u, m.resolve)
	m.version++
	return m.state, m.version
}

// Reset discards the mirrored state, keeping the resolver and version
// counter. Used when a session is torn down and its state becomes stale.
func (m *Mirror) Reset() {
	m.mu.Lock()
	m.state = models.DeviceState{Playback: models.PlaybackIdle}
	m.version++
	m.mu.Unlock()
}

// Merge is the pure per-field merge. Fields absent from the update leave the
// previous state untouched; it never fails, out-of-range lookups simply do
// not resolve.
func Merge(prev models.DeviceState, u models.StateUpdate, resolve ResolveFunc) models.DeviceState {
	next := prev

	if u.MaxVolume > 0 {
		next.MaxVolume = u.MaxVolume
		next.VolumeRaw = u.VolumeRaw
		next.VolumeNormalized = clamp(float64(u.VolumeRaw)/float64(u.MaxVolume), 0, 1)
	}

	if u.Battery != nil {
		next.Battery = &models.Battery{
			VoltageVolts: math.Round(u.Battery.VoltageVolts*10) / 10,
			Percentage:   int(math.Round(u.Battery.Percentage)),
			Charging:     u.Battery.Charging,
		}
	}

	if u.Network != nil {
		n := *u.Network
		next.Network = &n
	}

	if !u.HasPlayback {
		return next
	}

	// An idle signal wipes the whole playing context in one step so no
	// partial idle state is ever observable.
	if u.Playback == models.PlaybackIdle || u.Slot == nil || u.Index == nil {
		next.Playback = models.PlaybackIdle
		next.CurrentItem = nil
		next.ActiveSlot = nil
		next.ActiveIndex = nil
		next.TotalInSlot = nil
		next.DurationSeconds = nil
		next.PositionSeconds = 0
		return next
	}

	next.Playback = u.Playback
	next.ActiveSlot = intPtr(*u.Slot)
	next.ActiveIndex = intPtr(*u.Index)
	if u.Total != nil {
		next.TotalInSlot = intPtr(*u.Total)
	}
	if u.PositionSeconds != nil {
		next.PositionSeconds = *u.PositionSeconds
	} else {
		next.PositionSeconds = 0
	}
	if u.DurationSeconds != nil {
		d := *u.DurationSeconds
		next.DurationSeconds = &d
	}

	if resolve == nil {
		return next
	}
	item, ok := resolve(*u.Slot, *u.Index)
	if !ok {
		// Stale catalog or racing device state: keep whatever was
		// resolved before rather than guessing.
		return next
	}

	switch {
	case prev.CurrentItem == nil || prev.CurrentItem.ID != item.ID:
		resolved := *item
		if u.DurationSeconds != nil {
			resolved.DurationSeconds = *u.DurationSeconds
		}
		next.CurrentItem = &resolved
	case u.DurationSeconds != nil && prev.CurrentItem.DurationSeconds != *u.DurationSeconds:
		patched := *prev.CurrentItem
		patched.DurationSeconds = *u.DurationSeconds
		next.CurrentItem = &patched
	default:
		// Same item, nothing new: keep the existing pointer so
		// reference-diffing consumers see no change.
		next.CurrentItem = prev.CurrentItem
	}
	return next
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func intPtr(v int) *int { return &v }
