package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpatro/valkey-http/internal/config"
	"github.com/hpatro/valkey-http/internal/engine"
	apierrors "github.com/hpatro/valkey-http/internal/errors"
	"github.com/hpatro/valkey-http/internal/monitor"
)

type testGateway struct {
	server   *httptest.Server
	manager  *Manager
	registry *monitor.Registry
	engine   *engine.Memory
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	tr, mem := newTranslator(t)
	registry := monitor.NewRegistry(config.MonitorConfig{QueueSize: 64}, testLogger(), nil)
	hook := monitor.NewHook(registry, 64, testLogger(), nil)
	require.NoError(t, hook.Install(ctx, mem))
	go func() { _ = hook.Run(ctx) }()

	cfg := config.Default().WebSocket
	cfg.HealthInterval = 20 * time.Millisecond
	manager := NewManager(cfg, tr, registry, testLogger(), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/process", manager.ServeProcess)
	mux.HandleFunc("/health", manager.ServeHealth)
	mux.HandleFunc("/monitor", manager.ServeMonitor)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = manager.Shutdown(shutdownCtx)
		server.Close()
		hook.Uninstall()
		cancel()
		registry.Close()
	})
	return &testGateway{server: server, manager: manager, registry: registry, engine: mem}
}

func (g *testGateway) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{"echo"}, HandshakeTimeout: 2 * time.Second}
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + path
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo", resp.Header.Get("Sec-WebSocket-Protocol"))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) string {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(reply)
}

func TestProcessSessionOverWebSocket(t *testing.T) {
	g := newTestGateway(t)
	conn := g.dial(t, "/process")

	assert.Equal(t, "PONG", roundTrip(t, conn, "PING"))
	assert.JSONEq(t, `{"code":"Ok","data":null}`, roundTrip(t, conn, "set a 1"))
	assert.JSONEq(t, `{"code":"Ok","data":"1"}`, roundTrip(t, conn, "get a"))
	assert.JSONEq(t, `{"code":"Err","data":null}`, roundTrip(t, conn, "bogus a"))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x00}))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "got %v", err)
}

func TestHealthSessionOverWebSocket(t *testing.T) {
	g := newTestGateway(t)
	conn := g.dial(t, "/health")

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		messageType, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, messageType)
		assert.Equal(t, "PING", string(msg))
	}
}

func TestMonitorSessionOverWebSocket(t *testing.T) {
	g := newTestGateway(t)
	watcher := g.dial(t, "/monitor")
	assert.Equal(t, 1, g.registry.Count())

	client := g.dial(t, "/process")
	roundTrip(t, client, "set k v")
	roundTrip(t, client, "get k")
	roundTrip(t, client, "del k")

	want := []string{"SET k v", "GET k", "EXISTS k", "DEL k"}
	for _, line := range want {
		require.NoError(t, watcher.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := watcher.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, line, string(msg))
	}
}

func TestMonitorSubscribedBeforeHandshakeCompletes(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		watcher := g.dial(t, "/monitor")
		key := fmt.Sprintf("k%d", i)
		_, err := g.engine.Execute(ctx, "default", "SET", key, "v")
		require.NoError(t, err)

		require.NoError(t, watcher.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := watcher.ReadMessage()
		require.NoError(t, err, "round %d", i)
		assert.Equal(t, "SET "+key+" v", string(msg))
		watcher.Close()
	}
}

func TestFailedMonitorUpgradeReleasesSubscription(t *testing.T) {
	g := newTestGateway(t)

	resp, err := http.Get(g.server.URL + "/monitor")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body apierrors.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "WEBSOCKET_UPGRADE_FAILED", body.ErrorCode)

	g.registry.Publish("SET a 1")
	assert.Equal(t, 0, g.registry.Count())
}

func TestManagerShutdown(t *testing.T) {
	g := newTestGateway(t)
	conn := g.dial(t, "/health")
	require.Eventually(t, func() bool { return g.manager.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.manager.Shutdown(ctx))
	assert.Equal(t, 0, g.manager.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	_, resp, err := dialer.Dial("ws"+strings.TrimPrefix(g.server.URL, "http")+"/health", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
