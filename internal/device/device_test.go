package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baerlink/internal/models"
)

type fakeSession struct {
	id   string
	kind models.TransportKind

	updates  chan models.StateUpdate
	statusCh chan models.Status

	mu          sync.Mutex
	status      models.Status
	connects    int
	disconnects int
	sent        []models.Command
}

func newFakeSession(id string, kind models.TransportKind) *fakeSession {
	return &fakeSession{
		id:       id,
		kind:     kind,
		updates:  make(chan models.StateUpdate, 16),
		statusCh: make(chan models.Status, 16),
		status:   models.StatusDisconnected,
	}
}

func (f *fakeSession) DeviceID() string           { return f.id }
func (f *fakeSession) Kind() models.TransportKind { return f.kind }

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	f.status = models.StatusConnected
	f.mu.Unlock()
	f.statusCh <- models.StatusConnected
	return nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.status = models.StatusDisconnected
	f.mu.Unlock()
	f.statusCh <- models.StatusDisconnected
}

func (f *fakeSession) Send(ctx context.Context, cmd models.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSession) Updates() <-chan models.StateUpdate  { return f.updates }
func (f *fakeSession) StatusChanges() <-chan models.Status { return f.statusCh }

func (f *fakeSession) Status() models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/slots", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"path":"/sd/01","files":[{"path":"/sd/01/a.mp3","title":"Frog Song","artist":"Pond"}]}]`))
	})
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"bear-7","version":"1.4.2","serial":"HB-0042"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func intPtr(v int) *int { return &v }

func playingUpdate(slot, index int) models.StateUpdate {
	return models.StateUpdate{
		HasPlayback: true,
		Playback:    models.PlaybackPlaying,
		Slot:        intPtr(slot),
		Index:       intPtr(index),
	}
}

func TestConnectFetchesCatalogAndResolvesItems(t *testing.T) {
	srv := catalogServer(t)
	fs := newFakeSession("bear-7", models.TransportSocket)
	d := New("bear-7", fs, WithCatalogBase(srv.URL))
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Connect(context.Background()))

	require.Eventually(t, func() bool {
		snap := d.Snapshot()
		return snap.Status == models.StatusConnected && snap.Info != nil
	}, 2*time.Second, 10*time.Millisecond)

	fs.updates <- playingUpdate(0, 0)

	require.Eventually(t, func() bool {
		snap := d.Snapshot()
		return snap.State.CurrentItem != nil
	}, 2*time.Second, 10*time.Millisecond)

	snap := d.Snapshot()
	assert.Equal(t, "Frog Song", snap.State.CurrentItem.Title)
	assert.Equal(t, "bear-7", snap.Info.Name)
}

func TestGattLearnsCatalogAddressFromNetworkState(t *testing.T) {
	srv := catalogServer(t)
	fs := newFakeSession("bear-9", models.TransportGATT)
	d := New("bear-9", fs)
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Connect(context.Background()))

	fs.updates <- models.StateUpdate{
		Network: &models.Network{
			Connected: true,
			Enabled:   true,
			IPv4:      strings.TrimPrefix(srv.URL, "http://"),
		},
	}

	require.Eventually(t, func() bool {
		return d.Snapshot().Info != nil
	}, 2*time.Second, 10*time.Millisecond)

	fs.updates <- playingUpdate(0, 0)
	require.Eventually(t, func() bool {
		snap := d.Snapshot()
		return snap.State.CurrentItem != nil && snap.State.CurrentItem.Title == "Frog Song"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriberReceivesLatestSnapshot(t *testing.T) {
	fs := newFakeSession("bear-3", models.TransportSocket)
	d := New("bear-3", fs)
	d.Start(context.Background())
	defer d.Stop()

	sub := d.Subscribe()
	defer d.Unsubscribe(sub)

	fs.updates <- models.StateUpdate{VolumeRaw: 50, MaxVolume: 100}

	select {
	case snap := <-sub:
		assert.Equal(t, 50, snap.State.VolumeRaw)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestSlowSubscriberSkipsToNewest(t *testing.T) {
	fs := newFakeSession("bear-3", models.TransportSocket)
	d := New("bear-3", fs)
	d.Start(context.Background())
	defer d.Stop()

	sub := d.Subscribe()
	defer d.Unsubscribe(sub)

	for raw := 1; raw <= 20; raw++ {
		fs.updates <- models.StateUpdate{VolumeRaw: raw, MaxVolume: 100}
	}

	require.Eventually(t, func() bool {
		return d.Snapshot().State.VolumeRaw == 20
	}, 2*time.Second, 10*time.Millisecond)

	// Drain: the last pending snapshot must be the newest, not a backlog.
	var last Snapshot
	for {
		select {
		case snap := <-sub:
			last = snap
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, 20, last.State.VolumeRaw)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	fs := newFakeSession("bear-3", models.TransportSocket)
	d := New("bear-3", fs)

	sub := d.Subscribe()
	d.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)

	// Second unsubscribe is a no-op, not a double close.
	d.Unsubscribe(sub)
}

func TestSendDelegatesToSession(t *testing.T) {
	fs := newFakeSession("bear-3", models.TransportSocket)
	d := New("bear-3", fs)

	require.NoError(t, d.Send(context.Background(), models.Command{Cmd: "pause"}))
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.sent, 1)
	assert.Equal(t, "pause", fs.sent[0].Cmd)
}
