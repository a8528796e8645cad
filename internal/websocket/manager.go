// Package websocket runs the gateway's WebSocket sessions: /process answers
// command lines, /health sends a heartbeat and /monitor streams every command
// the engine executes. Each session owns its socket and one goroutine.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/hpatro/valkey-http/internal/config"
	apierrors "github.com/hpatro/valkey-http/internal/errors"
	"github.com/hpatro/valkey-http/internal/infrastructure"
	"github.com/hpatro/valkey-http/internal/monitor"
)

// Manager upgrades connections and owns the live sessions
type Manager struct {
	cfg       config.WebSocketConfig
	upgrader  websocket.Upgrader
	processor CommandProcessor
	source    SubscriptionSource
	logger    *slog.Logger
	metrics   *infrastructure.GatewayMetrics

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      conc.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a new WebSocket manager
func NewManager(cfg config.WebSocketConfig, processor CommandProcessor, source SubscriptionSource, logger *slog.Logger, metrics *infrastructure.GatewayMetrics) *Manager {
	logger = infrastructure.WithComponent(logger, "websocket.manager")
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:       cfg,
		processor: processor,
		source:    source,
		logger:    logger,
		metrics:   metrics,
		baseCtx:   ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		Subprotocols:    []string{cfg.Subprotocol},
		// Any origin may connect; Basic-Auth runs before the upgrade
		CheckOrigin: func(r *http.Request) bool { return true },
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			logger.WarnContext(r.Context(), "WebSocket upgrade error",
				slog.Int("status", status),
				slog.String("reason", reason.Error()),
				slog.String("path", r.URL.Path))
			apierrors.WriteError(w, r, apierrors.WebSocketUpgradeWithError(status, reason))
		},
	}
	return m
}

// ServeProcess upgrades r into a process session
func (m *Manager) ServeProcess(w http.ResponseWriter, r *http.Request) {
	m.serve(w, r, KindProcess)
}

// ServeHealth upgrades r into a health session
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	m.serve(w, r, KindHealth)
}

// ServeMonitor upgrades r into a monitor session
func (m *Manager) ServeMonitor(w http.ResponseWriter, r *http.Request) {
	m.serve(w, r, KindMonitor)
}

func (m *Manager) serve(w http.ResponseWriter, r *http.Request, kind Kind) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		apierrors.WriteError(w, r, apierrors.ErrShuttingDown)
		return
	}

	// A monitor joins the registry before the handshake completes, so every
	// command run after the client sees 101 reaches it.
	var sub *monitor.Subscription
	if kind == KindMonitor {
		sub = m.source.Subscribe()
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already answered
		if sub != nil {
			sub.Close()
		}
		return
	}

	traceID := infrastructure.GetTraceID(infrastructure.EnsureTraceID(r.Context()))
	conn := NewConnectionWrapper(ws)
	conn.SetReadLimit(m.cfg.MaxMessageSize)

	session := newSession(uuid.New().String(), kind, conn, m.cfg.WriteWait, m.logger)
	ctx := infrastructure.WithTraceID(m.baseCtx, traceID)
	m.metrics.SessionOpened(ctx, string(kind))
	session.logger.InfoContext(ctx, "WebSocket session opened",
		slog.String("remote_addr", conn.RemoteAddr()),
		slog.String("subprotocol", conn.Subprotocol()))

	started := m.start(session, func() {
		defer m.untrack(ctx, session)
		if recovered := panics.Try(func() { m.run(ctx, session, sub) }); recovered != nil {
			session.logger.ErrorContext(ctx, "WebSocket session panic",
				slog.Any("panic", recovered.Value),
				slog.String("stack", string(recovered.Stack)))
		}
	})
	if !started {
		if sub != nil {
			sub.Close()
		}
		session.closeWith(websocket.CloseGoingAway, "server shutting down")
		m.untrack(ctx, session)
	}
}

func (m *Manager) run(ctx context.Context, s *Session, sub *monitor.Subscription) {
	var err error
	switch s.Kind {
	case KindProcess:
		err = s.RunProcess(ctx, m.processor)
	case KindHealth:
		err = s.RunHealth(ctx, m.cfg.HealthInterval)
	case KindMonitor:
		err = s.RunMonitor(ctx, sub)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.DebugContext(ctx, "session loop returned", slog.String("error", err.Error()))
	}
}

// start registers s and launches fn under the lock so Shutdown never races
// a late wg.Go with its Wait
func (m *Manager) start(s *Session, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.sessions[s.ID] = s
	m.wg.Go(fn)
	return true
}

func (m *Manager) untrack(ctx context.Context, s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	_ = s.conn.Close()
	m.metrics.SessionClosed(ctx, string(s.Kind))
	s.logger.InfoContext(ctx, "WebSocket session closed",
		slog.Duration("duration", time.Since(s.startedAt)))
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every live session and waits for their goroutines
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range live {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = s.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.InfoContext(ctx, "WebSocket sessions drained", slog.Int("closed", len(live)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
