// Package registry hands out at most one device handle per device id.
// Concurrent callers asking for the same id are collapsed with singleflight,
// so a burst of requests never allocates duplicate transports.
package registry

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"baerlink/internal/device"
	"baerlink/internal/models"
)

// Factory builds the device handle, including its transport session, for a
// known device. It must not connect; the registry drives connection.
type Factory func(dev models.KnownDevice) (*device.Device, error)

type Registry struct {
	factory Factory

	mu      sync.Mutex
	devices map[string]*device.Device
	group   singleflight.Group
}

func New(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		devices: make(map[string]*device.Device),
	}
}

// GetOrCreate returns the live device handle for dev.ID, creating and
// connecting one if none exists. An existing handle whose session dropped is
// reconnected rather than replaced, so subscribers keep their channels.
func (r *Registry) GetOrCreate(ctx context.Context, dev models.KnownDevice) (*device.Device, error) {
	v, err, _ := r.group.Do(dev.ID, func() (interface{}, error) {
		r.mu.Lock()
		d, exists := r.devices[dev.ID]
		r.mu.Unlock()

		if exists {
			if d.Status() == models.StatusDisconnected {
				if err := d.Connect(ctx); err != nil && d.Kind() == models.TransportGATT {
					return nil, fmt.Errorf("reconnecting %s: %w", dev.ID, err)
				}
			}
			return d, nil
		}

		d, err := r.factory(dev)
		if err != nil {
			return nil, fmt.Errorf("creating device %s: %w", dev.ID, err)
		}
		d.Start(context.Background())

		if err := d.Connect(ctx); err != nil {
			// A socket session keeps retrying on its own, so the handle
			// stays registered. A gatt session does not reconnect itself
			// and a failed dial leaves nothing worth keeping.
			if d.Kind() == models.TransportGATT {
				d.Stop()
				return nil, fmt.Errorf("connecting %s: %w", dev.ID, err)
			}
		}

		r.mu.Lock()
		r.devices[dev.ID] = d
		r.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*device.Device), nil
}

// Get returns the handle for id without creating one.
func (r *Registry) Get(id string) (*device.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	return d, ok
}

// List returns all registered handles in no particular order.
func (r *Registry) List() []*device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*device.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Remove disconnects and drops the handle for id, if any.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	d, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()
	if ok {
		d.Disconnect()
		d.Stop()
	}
}

// Close disconnects and drops every handle.
func (r *Registry) Close() {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]*device.Device)
	r.mu.Unlock()
	for _, d := range devices {
		d.Disconnect()
		d.Stop()
	}
}
