package websocket

import (
	"context"
	"time"

	"github.com/hpatro/valkey-http/internal/command"
	"github.com/hpatro/valkey-http/internal/monitor"
)

// Connection defines the interface for WebSocket connections
// This allows for proper mocking in tests
type Connection interface {
	// WriteMessage writes a message with the given message type and payload
	WriteMessage(messageType int, data []byte) error

	// WriteControl writes a control frame; safe to call concurrently with other methods
	WriteControl(messageType int, data []byte, deadline time.Time) error

	// ReadMessage reads a message from the connection
	// Returns the message type and payload
	ReadMessage() (messageType int, p []byte, err error)

	// Close closes the connection
	Close() error

	// SetWriteDeadline sets the write deadline on the connection
	SetWriteDeadline(t time.Time) error

	// SetReadLimit sets the maximum size for a message read from the connection
	SetReadLimit(limit int64)

	// Subprotocol returns the negotiated subprotocol
	Subprotocol() string

	// RemoteAddr returns the remote network address
	RemoteAddr() string
}

// CommandProcessor runs one command line and returns its response
type CommandProcessor interface {
	Process(ctx context.Context, identity, line string) (command.CommandResponse, error)
}

// SubscriptionSource hands out monitor subscriptions
type SubscriptionSource interface {
	Subscribe() *monitor.Subscription
}
