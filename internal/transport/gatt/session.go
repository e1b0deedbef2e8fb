package gatt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"baerlink/internal/models"
	"baerlink/internal/transport"
)

// Session is the gatt realization of the transport contract. Connect opens
// the device link and wires the three state characteristics; a device-level
// disconnect tears everything down and surfaces Disconnected without
// retrying, because a new radio handshake is the caller's decision.
type Session struct {
	deviceID string
	address  string
	dialer   Dialer
	limiter  *rate.Limiter

	updates  chan models.StateUpdate
	statusCh chan models.Status

	mu      sync.Mutex
	link    Link
	control Characteristic
	unsubs  []Unsubscribe
	status  models.Status
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewSession(deviceID, address string, dialer Dialer) *Session {
	return &Session{
		deviceID: deviceID,
		address:  address,
		dialer:   dialer,
		limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		updates:  make(chan models.StateUpdate, 16),
		statusCh: make(chan models.Status, 16),
		status:   models.StatusDisconnected,
	}
}

func (s *Session) DeviceID() string           { return s.deviceID }
func (s *Session) Kind() models.TransportKind { return models.TransportGATT }

func (s *Session) Updates() <-chan models.StateUpdate  { return s.updates }
func (s *Session) StatusChanges() <-chan models.Status { return s.statusCh }

func (s *Session) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// characteristic kinds in wire order: seed reads happen in this order too,
// so the mirror sees power before the first playing context.
var stateChars = []struct {
	uuid   string
	decode func([]byte) (models.StateUpdate, error)
}{
	{PowerCharUUID, decodePower},
	{PlayerCharUUID, decodePlayer},
	{NetworkCharUUID, decodeNetwork},
}

// Connect opens the device-level link, seeds state with one read per
// characteristic, then subscribes to notifications. A missing required
// characteristic aborts the attempt with an error; the session is unusable
// without it and the caller decides what happens next. The context bounds
// the dial only: the link stays up after a request-scoped caller context is
// cancelled, until Disconnect or the device drops the connection.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status != models.StatusDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.status = models.StatusConnecting
	s.closed = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	lifetime := s.ctx
	s.mu.Unlock()
	s.publish(models.StatusConnecting)

	link, err := s.dialer.Dial(ctx, s.address)
	if err != nil {
		s.cancel()
		s.setStatus(models.StatusDisconnected)
		return fmt.Errorf("connecting %s: %w", s.deviceID, err)
	}

	var unsubs []Unsubscribe
	teardown := func() {
		for _, u := range unsubs {
			if err := u(); err != nil {
				log.Printf("gatt %s: unsubscribe: %v", s.deviceID, err)
			}
		}
		link.Close()
	}
	fail := func(err error) error {
		teardown()
		s.cancel()
		s.setStatus(models.StatusDisconnected)
		return err
	}

	for _, sc := range stateChars {
		char, err := link.Characteristic(sc.uuid)
		if err != nil {
			return fail(fmt.Errorf("characteristic %s: %w", sc.uuid, err))
		}

		// Seed before the first notification so the mirror never starts
		// from a blank screen.
		if data, err := char.Read(); err != nil {
			log.Printf("gatt %s: seed read %s: %v", s.deviceID, sc.uuid, err)
		} else {
			s.deliver(lifetime, sc.uuid, sc.decode, data)
		}

		decode := sc.decode
		uuid := sc.uuid
		unsub, err := char.Subscribe(func(data []byte) {
			s.deliver(lifetime, uuid, decode, data)
		})
		if err != nil {
			return fail(fmt.Errorf("subscribing %s: %w", sc.uuid, err))
		}
		unsubs = append(unsubs, unsub)
	}

	// Control is optional: sessions without it still mirror state, Send
	// just fails.
	control, err := link.Characteristic(ControlCharUUID)
	if err != nil {
		control = nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		teardown()
		return nil
	}
	s.link = link
	s.control = control
	s.unsubs = unsubs
	s.mu.Unlock()

	s.setStatus(models.StatusConnected)
	go s.watch(lifetime, link)
	return nil
}

// watch waits for the radio stack to report the device gone, then runs the
// common teardown. No reconnect is scheduled.
func (s *Session) watch(ctx context.Context, link Link) {
	select {
	case <-link.Disconnected():
		log.Printf("gatt %s: device-level disconnect", s.deviceID)
		s.teardown()
	case <-ctx.Done():
	}
}

func (s *Session) deliver(ctx context.Context, uuid string, decode func([]byte) (models.StateUpdate, error), data []byte) {
	if len(data) == 0 {
		return
	}
	u, err := decode(data)
	if err != nil {
		// Malformed notification: drop it, keep the link.
		log.Printf("gatt %s: dropping %s payload: %v", s.deviceID, uuid, err)
		return
	}
	select {
	case s.updates <- u:
	case <-ctx.Done():
	}
}

// teardown unsubscribes every characteristic before the device handle is
// released, so no callback fires into a torn-down consumer.
func (s *Session) teardown() {
	s.mu.Lock()
	link := s.link
	unsubs := s.unsubs
	s.link = nil
	s.control = nil
	s.unsubs = nil
	cancel := s.cancel
	s.mu.Unlock()

	for _, u := range unsubs {
		if err := u(); err != nil {
			log.Printf("gatt %s: unsubscribe: %v", s.deviceID, err)
		}
	}
	if link != nil {
		link.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.setStatus(models.StatusDisconnected)
}

// Disconnect releases the link and all subscriptions. Safe to call
// repeatedly and concurrently with a device-level disconnect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.teardown()
}

// Send writes a command to the control characteristic.
func (s *Session) Send(ctx context.Context, cmd models.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	control := s.control
	connected := s.status == models.StatusConnected
	s.mu.Unlock()

	if !connected {
		return transport.ErrNotConnected
	}
	if control == nil {
		return fmt.Errorf("device %s has no control characteristic", s.deviceID)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := control.Write(data); err != nil {
		return fmt.Errorf("writing command %s: %w", cmd.Cmd, err)
	}
	return nil
}

func (s *Session) setStatus(st models.Status) {
	s.mu.Lock()
	if s.status == st {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()
	s.publish(st)
}

func (s *Session) publish(st models.Status) {
	select {
	case s.statusCh <- st:
	default:
	}
}
