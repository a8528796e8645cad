package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

// redacted replaces secrets in the command stream
const redacted = "(redacted)"

// Memory is an in-process engine holding string values in a map.
// Registered listeners are invoked synchronously before each command runs,
// the same way a server-side command filter would see it. Notification and
// execution share one critical section, so listeners observe commands in the
// order they are applied. A listener must not call back into the engine.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string

	// bcrypt hashes keyed by login
	users map[string][]byte

	listenersMu sync.RWMutex
	listeners   map[uint64]CommandListener
	nextID      uint64

	closed atomic.Bool
	logger *slog.Logger
}

// MemoryOption configures a Memory engine
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	bcryptCost int
	logger     *slog.Logger
}

// WithBcryptCost overrides the hashing cost used for the user table
func WithBcryptCost(cost int) MemoryOption {
	return func(o *memoryOptions) { o.bcryptCost = cost }
}

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(o *memoryOptions) { o.logger = logger }
}

// NewMemory creates a Memory engine whose user table holds users (login to password)
func NewMemory(users map[string]string, opts ...MemoryOption) (*Memory, error) {
	o := memoryOptions{bcryptCost: bcrypt.DefaultCost, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Memory{
		data:      make(map[string]string),
		users:     make(map[string][]byte, len(users)),
		listeners: make(map[uint64]CommandListener),
		logger:    o.logger.With("component", "engine.memory"),
	}
	for login, password := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), o.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %q: %w", login, err)
		}
		m.users[login] = hash
	}
	return m, nil
}

// Authenticate checks login and password against the user table.
// The attempt is visible to listeners as AUTH with the password redacted.
func (m *Memory) Authenticate(ctx context.Context, login, password string) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	m.mu.Lock()
	m.notify("AUTH", []string{login, redacted})
	m.mu.Unlock()

	hash, ok := m.users[login]
	if !ok {
		// Keep timing close to the found-user path
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.MinCost)

// Execute runs one command. identity is accepted but not enforced.
func (m *Memory) Execute(ctx context.Context, identity, name string, args ...string) (Reply, error) {
	if m.closed.Load() {
		return Reply{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify(name, args)

	switch strings.ToUpper(name) {
	case "SET":
		if len(args) != 2 {
			return Reply{}, fmt.Errorf("%w for SET", ErrWrongArity)
		}
		m.data[args[0]] = args[1]
		return StringReply("OK"), nil

	case "GET":
		if len(args) != 1 {
			return Reply{}, fmt.Errorf("%w for GET", ErrWrongArity)
		}
		value, ok := m.data[args[0]]
		if !ok {
			return Reply{}, ErrNil
		}
		return StringReply(value), nil

	case "DEL":
		if len(args) == 0 {
			return Reply{}, fmt.Errorf("%w for DEL", ErrWrongArity)
		}
		var n int64
		for _, key := range args {
			if _, ok := m.data[key]; ok {
				delete(m.data, key)
				n++
			}
		}
		return IntReply(n), nil

	case "EXISTS":
		if len(args) == 0 {
			return Reply{}, fmt.Errorf("%w for EXISTS", ErrWrongArity)
		}
		var n int64
		for _, key := range args {
			if _, ok := m.data[key]; ok {
				n++
			}
		}
		return IntReply(n), nil

	case "PING":
		if len(args) == 1 {
			return StringReply(args[0]), nil
		}
		return StringReply("PONG"), nil

	default:
		return Reply{}, fmt.Errorf("%w '%s'", ErrUnknownCommand, name)
	}
}

// SubscribeToAllCommands registers listener for every command executed from now on
func (m *Memory) SubscribeToAllCommands(ctx context.Context, listener CommandListener) (func(), error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if listener == nil {
		return nil, fmt.Errorf("engine: nil listener")
	}

	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}, nil
}

// notify runs every listener in-line with the command
func (m *Memory) notify(name string, args []string) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, listener := range m.listeners {
		listener(name, args)
	}
}

// Ping reports whether the engine is usable
func (m *Memory) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close drops all listeners and rejects further operations
func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.listenersMu.Lock()
	clear(m.listeners)
	m.listenersMu.Unlock()
	m.logger.Debug("memory engine closed")
	return nil
}

// Len reports the number of stored keys
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
