// Package engine defines the contract between the gateway and the key-value
// engine it fronts, and ships two implementations: an in-process Memory engine
// and a Valkey engine that talks to a real server through go-redis.
//
// The gateway only ever needs three things from an engine: verify a login,
// execute a command, and observe every command the engine executes.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrNil is returned by Execute when the key does not exist
	ErrNil = errors.New("engine: nil reply")

	// ErrUnknownCommand is returned for verbs the engine does not implement
	ErrUnknownCommand = errors.New("engine: unknown command")

	// ErrWrongArity is returned when a command has the wrong number of arguments
	ErrWrongArity = errors.New("engine: wrong number of arguments")

	// ErrNotAllowed is returned when the engine's access control refuses a command
	ErrNotAllowed = errors.New("engine: command not allowed")

	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("engine: closed")
)

// Reply is the result of one executed command.
// Value is set for bulk replies; Int for integer replies.
type Reply struct {
	Value *string
	Int   int64
}

// StringReply wraps s as a bulk reply
func StringReply(s string) Reply {
	return Reply{Value: &s}
}

// IntReply wraps n as an integer reply
func IntReply(n int64) Reply {
	return Reply{Int: n}
}

// CommandListener observes one executed command.
// It is called on the engine's execution path and must not block.
type CommandListener func(name string, args []string)

// Authenticator verifies credentials against the engine
type Authenticator interface {
	Authenticate(ctx context.Context, login, password string) (bool, error)
}

// Executor runs one command on behalf of identity
type Executor interface {
	Execute(ctx context.Context, identity, name string, args ...string) (Reply, error)
}

// CommandSource delivers every command the engine executes.
// The returned function unregisters the listener and is safe to call twice.
type CommandSource interface {
	SubscribeToAllCommands(ctx context.Context, listener CommandListener) (func(), error)
}

// Engine is the full collaborator consumed by the gateway
type Engine interface {
	Authenticator
	Executor
	CommandSource
	Ping(ctx context.Context) error
	Close() error
}
