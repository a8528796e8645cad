package websocket

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/hpatro/valkey-http/internal/auth"
	"github.com/hpatro/valkey-http/internal/command"
	"github.com/hpatro/valkey-http/internal/monitor"
)

// Kind names a session variant
type Kind string

const (
	KindProcess Kind = "process"
	KindHealth  Kind = "health"
	KindMonitor Kind = "monitor"
)

const (
	pingRequest  = "ping"
	pongReply    = "PONG"
	healthBeacon = "PING"
)

var (
	// ErrBinaryFrame ends a process session that received a binary frame
	ErrBinaryFrame = errors.New("websocket: binary frames are not supported")

	// ErrSubscriptionEnded ends a monitor session whose subscription was released
	ErrSubscriptionEnded = errors.New("websocket: monitor subscription ended")
)

// Session is one upgraded connection with its own goroutine
type Session struct {
	ID        string
	Kind      Kind
	conn      Connection
	writeWait time.Duration
	logger    *slog.Logger
	startedAt time.Time
}

func newSession(id string, kind Kind, conn Connection, writeWait time.Duration, logger *slog.Logger) *Session {
	return &Session{
		ID:        id,
		Kind:      kind,
		conn:      conn,
		writeWait: writeWait,
		logger: logger.With(
			slog.String("session_id", id),
			slog.String("session_kind", string(kind)),
		),
		startedAt: time.Now(),
	}
}

func (s *Session) writeText(payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
}

// discardInbound reads and drops frames so control frames get handled.
// The returned channel is closed when reading fails.
func (s *Session) discardInbound() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				s.logEnd(err)
				return
			}
		}
	}()
	return done
}

// RunProcess answers each text frame in order: "ping" gets "PONG", anything
// else runs as a command line under the default identity.
func (s *Session) RunProcess(ctx context.Context, processor CommandProcessor) error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logEnd(err)
			return err
		}
		if messageType == websocket.BinaryMessage {
			s.logger.InfoContext(ctx, "binary frame received, closing session")
			s.closeWith(websocket.CloseUnsupportedData, "binary frames are not supported")
			return ErrBinaryFrame
		}

		line := strings.TrimSpace(string(data))
		if strings.EqualFold(line, pingRequest) {
			if err := s.writeText([]byte(pongReply)); err != nil {
				s.logEnd(err)
				return err
			}
			continue
		}

		resp, perr := processor.Process(ctx, auth.DefaultIdentity, line)
		if perr != nil {
			s.logger.DebugContext(ctx, "command rejected", slog.String("error", perr.Error()))
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if err := s.writeText(payload); err != nil {
			s.logEnd(err)
			return err
		}
	}
}

// RunHealth sends a heartbeat every interval until a write fails
func (s *Session) RunHealth(ctx context.Context, interval time.Duration) error {
	readerDone := s.discardInbound()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-readerDone:
			return nil
		case <-ticker.C:
			if err := s.writeText([]byte(healthBeacon)); err != nil {
				s.logEnd(err)
				return err
			}
		}
	}
}

// RunMonitor forwards every command line from sub until a write fails.
// sub is released on return; the registry drops it on its next publish.
func (s *Session) RunMonitor(ctx context.Context, sub *monitor.Subscription) error {
	defer sub.Close()
	readerDone := s.discardInbound()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-readerDone:
			return nil
		case <-sub.Done():
			s.closeWith(websocket.CloseTryAgainLater, "monitor subscription ended")
			return ErrSubscriptionEnded
		case line := <-sub.C():
			if err := s.writeText([]byte(line)); err != nil {
				s.logEnd(err)
				return err
			}
		}
	}
}

func (s *Session) logEnd(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Warn("session ended unexpectedly", slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("session i/o ended", slog.String("error", err.Error()))
}

var _ CommandProcessor = (*command.Translator)(nil)
