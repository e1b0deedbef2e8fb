// Package websock implements the streaming-socket transport: a websocket
// the device pushes JSON state messages over, roughly once a second. There is
// no ping protocol; silence is the only failure signal, so a liveness window
// forces a close when the channel goes quiet and the reconnect supervisor
// dials again with growing delays.
package websock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"baerlink/internal/backoff"
	"baerlink/internal/httputil"
	"baerlink/internal/liveness"
	"baerlink/internal/models"
	"baerlink/internal/transport"
)

const socketPath = "/ws"
const commandPath = "/api/cmd"

type Session struct {
	deviceID string
	wsURL    string
	cmdURL   string
	dialer   *websocket.Dialer
	http     *http.Client
	limiter  *rate.Limiter

	super   *backoff.Supervisor
	monitor *liveness.Monitor

	updates  chan models.StateUpdate
	statusCh chan models.Status

	mu     sync.Mutex
	conn   *websocket.Conn
	status models.Status
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Session)

func WithBackoff(p backoff.Policy) Option {
	return func(s *Session) { s.super = backoff.NewSupervisor(p) }
}

func WithLivenessWindow(d time.Duration) Option {
	return func(s *Session) { s.monitor = liveness.New(d, s.onSilence) }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// New builds a session for the device reachable at baseURL (http://host).
// Nothing is dialed until Connect.
func New(deviceID, baseURL string, opts ...Option) *Session {
	base := strings.TrimRight(baseURL, "/")
	s := &Session{
		deviceID: deviceID,
		wsURL:    toWS(base) + socketPath,
		cmdURL:   base + commandPath,
		dialer:   websocket.DefaultDialer,
		http:     httputil.NewClient(),
		limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		updates:  make(chan models.StateUpdate, 16),
		statusCh: make(chan models.Status, 16),
		status:   models.StatusDisconnected,
	}
	s.super = backoff.NewSupervisor(backoff.Policy{})
	s.monitor = liveness.New(liveness.DefaultWindow, s.onSilence)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func toWS(url string) string {
	url = strings.Replace(url, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

func (s *Session) DeviceID() string           { return s.deviceID }
func (s *Session) Kind() models.TransportKind { return models.TransportSocket }

func (s *Session) Updates() <-chan models.StateUpdate  { return s.updates }
func (s *Session) StatusChanges() <-chan models.Status { return s.statusCh }

func (s *Session) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect opens the socket. If the session is already connecting, connected
// or waiting on a reconnect timer this is a no-op; a second underlying
// channel is never opened. The context only bounds this first handshake. The
// session itself, including its reconnect loop, runs until Disconnect, so a
// request-scoped caller context cannot kill a healthy link.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status != models.StatusDisconnected || (!s.closed && s.super.Pending()) {
		s.mu.Unlock()
		return nil
	}
	s.closed = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.super.Resume()
	return s.attempt(ctx)
}

// attempt dials once. A failure schedules the next retry and returns the
// dial error; callers past the first Connect ignore it. dialCtx bounds only
// the handshake; retries pass nil and dial under the session context.
func (s *Session) attempt(dialCtx context.Context) error {
	s.mu.Lock()
	if s.closed || s.status != models.StatusDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.status = models.StatusConnecting
	ctx := s.ctx
	s.mu.Unlock()
	s.publish(models.StatusConnecting)

	if dialCtx == nil {
		dialCtx = ctx
	}
	conn, resp, err := s.dialer.DialContext(dialCtx, s.wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.setStatus(models.StatusDisconnected)
		if ctx.Err() == nil && !s.isClosed() {
			delay := s.super.ScheduleRetry(func() { s.attempt(nil) })
			log.Printf("ws %s: connect failed, retrying in %v: %v", s.deviceID, delay, err)
		}
		return fmt.Errorf("dialing %s: %w", s.wsURL, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	s.super.Success()
	s.setStatus(models.StatusConnected)
	s.monitor.Reset()

	go s.readPump(ctx, conn)
	return nil
}

func (s *Session) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(ctx, err)
			return
		}
		// Any traffic proves the link alive, even frames we cannot parse.
		s.monitor.Reset()

		u, ok := parseStateMessage(data)
		if !ok {
			log.Printf("ws %s: dropping unrecognized message: %s", s.deviceID, httputil.Truncate(data, 120))
			continue
		}
		select {
		case s.updates <- u:
		case <-ctx.Done():
			return
		}
	}
}

// handleClose runs the common close path: whether the peer went away, the
// liveness window fired or Disconnect closed the socket underneath us.
func (s *Session) handleClose(ctx context.Context, err error) {
	s.monitor.Stop()

	s.mu.Lock()
	s.conn = nil
	closed := s.closed
	s.mu.Unlock()

	s.setStatus(models.StatusDisconnected)

	if closed || ctx.Err() != nil {
		return
	}
	delay := s.super.ScheduleRetry(func() { s.attempt(nil) })
	log.Printf("ws %s: connection lost (%v), reconnecting in %v", s.deviceID, err, delay)
}

// onSilence fires when the liveness window elapses without inbound traffic.
// Closing the connection pushes the read pump into the normal close path.
func (s *Session) onSilence() {
	log.Printf("ws %s: no traffic for liveness window, forcing close", s.deviceID)
	s.setStatus(models.StatusDisconnected)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Disconnect cancels any pending reconnect and liveness timers, closes the
// socket and releases handles. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.mu.Unlock()

	s.super.Cancel()
	s.monitor.Stop()
	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.setStatus(models.StatusDisconnected)
}

// Send posts a command to the device's request path. Commands do not travel
// on the socket; the state stream stays one-directional. Sends are
// rate-limited so a scrubbing volume slider cannot flood the device.
func (s *Session) Send(ctx context.Context, cmd models.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if s.Status() != models.StatusConnected {
		return transport.ErrNotConnected
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cmdURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending command %s: %w", cmd.Cmd, err)
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("command %s: device returned %d", cmd.Cmd, resp.StatusCode)
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
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

// publish never blocks; a consumer that stopped draining loses transitions,
// not the session.
func (s *Session) publish(st models.Status) {
	select {
	case s.statusCh <- st:
	default:
	}
}
