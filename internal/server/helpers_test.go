package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/flyshare/internal/coordinator"
	"github.com/Tyrowin/flyshare/internal/filestore"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	server *Server
	coord  *coordinator.Coordinator
	files  *filestore.Store
	http   *httptest.Server
	// stop cancels the coordinator loop ahead of cleanup.
	stop   context.CancelFunc
}

// newTestEnv starts a coordinator, a file store in a temp dir, and an
// httptest server around the relay's routes.
func newTestEnv(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	cfg := NewConfig()
	cfg.UploadDir = t.TempDir()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.RateLimit.Burst = 100
	cfg.TrustProxy = true
	if customize != nil {
		customize(cfg)
	}

	coord := coordinator.New(cfg.CoordinatorOptions())
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	files, err := filestore.New(cfg.UploadDir, cfg.MaxUploadSize)
	require.NoError(t, err)

	srv, err := New(*cfg, coord, files)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Hub().ShutdownTimeout(2 * time.Second)
		cancel()
		<-coord.Done()
	})

	return &testEnv{server: srv, coord: coord, files: files, http: ts, stop: cancel}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

// dial connects from clientIP; the test server trusts X-Forwarded-For so
// each test can place connections on chosen networks.
func (e *testEnv) dial(t *testing.T, clientIP string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("X-Forwarded-For", clientIP)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(), header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// join dials and consumes the welcome frame.
func (e *testEnv) join(t *testing.T, clientIP string) (*websocket.Conn, coordinator.Welcome) {
	t.Helper()
	conn := e.dial(t, clientIP)
	var welcome coordinator.Welcome
	decodeData(t, readEvent(t, conn, coordinator.EventWelcome), &welcome)
	return conn, welcome
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func readFrame(t *testing.T, conn *websocket.Conn) coordinator.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame coordinator.Frame
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

// readEvent reads frames until one named event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) coordinator.Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if frame := readFrame(t, conn); frame.Event == event {
			return frame
		}
	}
	t.Fatalf("no %s frame received", event)
	return coordinator.Frame{}
}

func decodeData(t *testing.T, frame coordinator.Frame, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(frame.Data, v))
}

// expectNoFrame leaves conn unusable for further reads once it times out.
func expectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of frame: %v", err)
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
