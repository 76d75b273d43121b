package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/homelink-core/internal/device"
	"github.com/nerrad567/homelink-core/internal/infrastructure/config"
)

type countingRecorder struct {
	open atomic.Int32
}

func (c *countingRecorder) ObserverOpened() { c.open.Add(1) }
func (c *countingRecorder) ObserverClosed() { c.open.Add(-1) }

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 1024, PingInterval: 30, PongTimeout: 10, SendBuffer: 16}
}

// newTestServer serves /{id} with an optional ?format= parameter.
func newTestServer(t *testing.T, reg *device.Registry, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(reg, testConfig(), opts...)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format, err := ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		srv.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/"), format) //nolint:errcheck // test handler
	}))
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return srv, hs
}

func dial(t *testing.T, hs *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s): %v", path, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", mt)
	}
	return string(data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "json": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ParseFormat(xml) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseAccepted.String() != "ACCEPTED" || PhaseStreaming.String() != "STREAMING" || PhaseClosed.String() != "CLOSED" {
		t.Error("unexpected phase names")
	}
}

func TestStream_SnapshotThenChanges(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	ctx := context.Background()
	if _, err := reg.Register(ctx, "lamp1", "", "alice"); err != nil {
		t.Fatal(err)
	}
	_, hs := newTestServer(t, reg)

	conn := dial(t, hs, "/lamp1")
	if got := readFrame(t, conn); got != "OFF" {
		t.Fatalf("first frame = %q, want OFF", got)
	}

	for _, st := range []device.State{device.StateOn, device.StateOff, device.StateOn} {
		if err := reg.SetState(ctx, "lamp1", st, device.SourceReport); err != nil {
			t.Fatal(err)
		}
		if got := readFrame(t, conn); got != string(st) {
			t.Errorf("frame = %q, want %q", got, st)
		}
	}
}

func TestStream_UnknownDeviceThenRegistered(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	_, hs := newTestServer(t, reg)

	conn := dial(t, hs, "/later")
	if got := readFrame(t, conn); got != "UNKNOWN" {
		t.Fatalf("first frame = %q, want UNKNOWN", got)
	}

	if _, err := reg.Register(context.Background(), "later", "", "alice"); err != nil {
		t.Fatal(err)
	}
	if got := readFrame(t, conn); got != "OFF" {
		t.Errorf("frame after registration = %q, want OFF", got)
	}
}

func TestStream_JSONFormat(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	ctx := context.Background()
	if _, err := reg.Register(ctx, "lamp1", "", "alice"); err != nil {
		t.Fatal(err)
	}
	_, hs := newTestServer(t, reg)

	conn := dial(t, hs, "/lamp1?format=json")
	readFrame(t, conn)

	if err := reg.SetState(ctx, "lamp1", device.StateOn, device.SourceCommand); err != nil {
		t.Fatal(err)
	}

	var c device.Change
	if err := json.Unmarshal([]byte(readFrame(t, conn)), &c); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if c.DeviceID != "lamp1" || c.State != device.StateOn || c.Source != device.SourceCommand || c.At.IsZero() {
		t.Errorf("change = %+v", c)
	}
}

func TestStream_ClientDisconnectReleasesSubscription(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	rec := &countingRecorder{}
	srv, hs := newTestServer(t, reg, WithRecorder(rec))

	conn := dial(t, hs, "/lamp1")
	readFrame(t, conn)
	waitFor(t, "session", func() bool { return srv.SessionCount() == 1 })
	if rec.open.Load() != 1 {
		t.Errorf("recorded open sessions = %d, want 1", rec.open.Load())
	}

	conn.Close()

	waitFor(t, "session release", func() bool {
		return srv.SessionCount() == 0 && reg.Stats().Watchers == 0
	})
	if rec.open.Load() != 0 {
		t.Errorf("recorded open sessions = %d after close, want 0", rec.open.Load())
	}
}

func TestStream_CloseEndsSessions(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	srv, hs := newTestServer(t, reg)

	a := dial(t, hs, "/a")
	b := dial(t, hs, "/b")
	readFrame(t, a)
	readFrame(t, b)

	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
		if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("ReadMessage after Close error = %v, want normal close", err)
		}
	}
	if n := reg.Stats().Watchers; n != 0 {
		t.Errorf("Watchers = %d after Close, want 0", n)
	}

	// New sessions are refused.
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/c"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial succeeded after Close")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

func TestStream_DoesNotWriteRegistry(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	_, hs := newTestServer(t, reg)

	conn := dial(t, hs, "/ghost")
	readFrame(t, conn)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ON")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := reg.Get(context.Background(), "ghost"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Get(ghost) error = %v; observer messages must not create devices", err)
	}
}

func TestStream_PingKeepsSessionAlive(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	cfg := config.WebSocketConfig{MaxMessageSize: 1024, PingInterval: 1, PongTimeout: 1}
	srv := NewServer(reg, cfg)
	srv.pingInterval = 20 * time.Millisecond
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.Serve(w, r, "lamp1", FormatText) //nolint:errcheck // test handler
	}))
	defer func() {
		srv.Close()
		hs.Close()
	}()

	conn := dial(t, hs, "/")
	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Control frames are handled inside ReadMessage.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitFor(t, "pings", func() bool { return pings.Load() >= 2 })
	if srv.SessionCount() != 1 {
		t.Errorf("SessionCount() = %d, want 1", srv.SessionCount())
	}
}
