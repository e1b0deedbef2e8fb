// Package device binds one transport session to one state mirror. A single
// consumer goroutine drains the session's channels, so every mirror mutation
// happens in arrival order with no concurrent writer. Subscribers only ever
// see immutable snapshots.
package device

import (
	"context"
	"log"
	"sync"

	"baerlink/internal/catalog"
	"baerlink/internal/models"
	"baerlink/internal/state"
	"baerlink/internal/transport"
)

// Snapshot is what the presentation layer consumes: the mirrored state, a
// version counter to diff by, and the connection status it was taken under.
type Snapshot struct {
	DeviceID string             `json:"device_id"`
	Status   models.Status      `json:"status"`
	Version  uint64             `json:"version"`
	State    models.DeviceState `json:"state"`
	Info     *models.DeviceInfo `json:"info,omitempty"`
}

type Device struct {
	id      string
	session transport.Session
	mirror  *state.Mirror

	// catalogBase is the device's http base when it is known up front
	// (socket transport). For gatt it is learned from the network
	// characteristic once the device reports wifi reachability.
	catalogBase string

	mu          sync.Mutex
	catalog     *catalog.Catalog
	info        *models.DeviceInfo
	status      models.Status
	fetchedThis bool // catalog fetched for the current connection

	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Device)

// WithCatalogBase sets the device's http base URL for the catalog fetch.
func WithCatalogBase(baseURL string) Option {
	return func(d *Device) { d.catalogBase = baseURL }
}

func New(id string, session transport.Session, opts ...Option) *Device {
	d := &Device{
		id:          id,
		session:     session,
		mirror:      state.NewMirror(),
		catalog:     catalog.Empty(),
		status:      models.StatusDisconnected,
		subscribers: make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.mirror.SetResolver(d.resolve)
	return d
}

func (d *Device) ID() string { return d.id }

func (d *Device) Kind() models.TransportKind { return d.session.Kind() }

func (d *Device) Status() models.Status { return d.session.Status() }

// resolve is the mirror's catalog lookup; it always reads the catalog the
// device currently holds, so a refreshed catalog takes effect immediately.
func (d *Device) resolve(slot, index int) (*models.CatalogItem, bool) {
	d.mu.Lock()
	cat := d.catalog
	d.mu.Unlock()
	return cat.Resolve(slot, index)
}

// Start launches the consumer goroutine. Idempotent.
func (d *Device) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		ctx, d.cancel = context.WithCancel(ctx)
		d.done = make(chan struct{})
		go d.run(ctx)
	})
}

// Stop halts the consumer goroutine without touching the session.
func (d *Device) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

// Connect (re)connects the underlying session.
func (d *Device) Connect(ctx context.Context) error {
	return d.session.Connect(ctx)
}

// Disconnect closes the session. The catalog is stale from here on and is
// refetched on the next successful connect.
func (d *Device) Disconnect() {
	d.session.Disconnect()
	d.mu.Lock()
	d.fetchedThis = false
	d.mu.Unlock()
}

// Send forwards a command over the session's request path.
func (d *Device) Send(ctx context.Context, cmd models.Command) error {
	return d.session.Send(ctx, cmd)
}

// Snapshot returns the current state without blocking the consumer.
func (d *Device) Snapshot() Snapshot {
	st, version := d.mirror.Snapshot()
	d.mu.Lock()
	info := d.info
	d.mu.Unlock()
	return Snapshot{
		DeviceID: d.id,
		Status:   d.session.Status(),
		Version:  version,
		State:    st,
		Info:     info,
	}
}

// Subscribe returns a channel receiving a snapshot after every applied
// update and status change. Slow subscribers miss intermediate snapshots,
// never get them out of order.
func (d *Device) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	d.subMu.Lock()
	d.subscribers[ch] = struct{}{}
	d.subMu.Unlock()
	return ch
}

func (d *Device) Unsubscribe(ch chan Snapshot) {
	d.subMu.Lock()
	_, exists := d.subscribers[ch]
	delete(d.subscribers, ch)
	d.subMu.Unlock()
	if exists {
		close(ch)
	}
}

func (d *Device) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-d.session.StatusChanges():
			d.onStatus(ctx, st)
		case u := <-d.session.Updates():
			d.onUpdate(ctx, u)
		}
	}
}

func (d *Device) onStatus(ctx context.Context, st models.Status) {
	d.mu.Lock()
	prev := d.status
	d.status = st
	if st == models.StatusDisconnected {
		d.fetchedThis = false
	}
	d.mu.Unlock()

	if st == models.StatusConnected && prev != models.StatusConnected && d.catalogBase != "" {
		d.mu.Lock()
		d.fetchedThis = true
		d.mu.Unlock()
		go d.fetchCatalog(ctx, d.catalogBase)
	}
	d.publish()
}

func (d *Device) onUpdate(ctx context.Context, u models.StateUpdate) {
	d.mirror.Apply(u)

	// A gatt session has no address for the catalog until the device
	// reports its wifi reachable; the network characteristic supplies it.
	if u.Network != nil && u.Network.Connected && u.Network.IPv4 != "" && d.catalogBase == "" {
		d.mu.Lock()
		pending := !d.fetchedThis
		d.fetchedThis = true
		d.mu.Unlock()
		if pending {
			go d.fetchCatalog(ctx, "http://"+u.Network.IPv4)
		}
	}
	d.publish()
}

// fetchCatalog performs the once-per-connection catalog and info fetch.
// Failures are non-fatal: the mirror keeps tracking position, volume and
// battery with an unresolved current item.
func (d *Device) fetchCatalog(ctx context.Context, baseURL string) {
	client := catalog.NewClient(baseURL)
	cat, err := client.Fetch(ctx)
	if err != nil {
		log.Printf("device %s: catalog fetch: %v", d.id, err)
		return
	}
	info, err := client.Info(ctx)
	if err != nil {
		log.Printf("device %s: info fetch: %v", d.id, err)
	}

	d.mu.Lock()
	d.catalog = cat
	if info != nil {
		d.info = info
	}
	d.mu.Unlock()
	d.publish()
}

func (d *Device) publish() {
	snap := d.Snapshot()
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subscribers {
		select {
		case ch <- snap:
		default:
			// Replace the stale pending snapshot so the subscriber
			// always wakes to the latest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
