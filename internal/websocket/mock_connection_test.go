package websocket

import (
	"errors"
	"sync"
	"time"
)

var errMockClosed = errors.New("connection closed")

// MockConnection is a mock implementation of the Connection interface for testing.
// Once the queued reads are used up, ReadMessage blocks until Close.
type MockConnection struct {
	mu sync.Mutex

	WriteMessageFunc func(messageType int, data []byte) error
	WrittenMessages  []MockMessage
	ControlMessages  []MockMessage

	ReadMessages []MockMessage
	ReadIndex    int

	Closed   bool
	closedCh chan struct{}
	written  chan struct{}

	WriteDeadline time.Time
	ReadLimit     int64
	RemoteAddress string
}

// MockMessage represents a message for mocking
type MockMessage struct {
	Type int
	Data []byte
	Err  error
}

func NewMockConnection() *MockConnection {
	return &MockConnection{
		closedCh:      make(chan struct{}),
		written:       make(chan struct{}, 1024),
		RemoteAddress: "127.0.0.1:8080",
	}
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return errMockClosed
	}
	if m.WriteMessageFunc != nil {
		if err := m.WriteMessageFunc(messageType, data); err != nil {
			return err
		}
	}
	m.WrittenMessages = append(m.WrittenMessages, MockMessage{Type: messageType, Data: data})
	select {
	case m.written <- struct{}{}:
	default:
	}
	return nil
}

func (m *MockConnection) WriteControl(messageType int, data []byte, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ControlMessages = append(m.ControlMessages, MockMessage{Type: messageType, Data: data})
	return nil
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, nil, errMockClosed
	}
	if m.ReadIndex < len(m.ReadMessages) {
		msg := m.ReadMessages[m.ReadIndex]
		m.ReadIndex++
		m.mu.Unlock()
		return msg.Type, msg.Data, msg.Err
	}
	closed := m.closedCh
	m.mu.Unlock()

	<-closed
	return 0, nil, errMockClosed
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Closed {
		m.Closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteDeadline = t
	return nil
}

func (m *MockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadLimit = limit
}

func (m *MockConnection) Subprotocol() string { return "echo" }

func (m *MockConnection) RemoteAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoteAddress
}

// AddReadMessage queues a message to be returned by ReadMessage
func (m *MockConnection) AddReadMessage(messageType int, data []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadMessages = append(m.ReadMessages, MockMessage{Type: messageType, Data: data, Err: err})
}

// GetWrittenMessages returns the payloads written so far as strings
func (m *MockConnection) GetWrittenMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.WrittenMessages))
	for i, msg := range m.WrittenMessages {
		out[i] = string(msg.Data)
	}
	return out
}

// WaitForWrites blocks until n messages were written or timeout passes
func (m *MockConnection) WaitForWrites(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		m.mu.Lock()
		got := len(m.WrittenMessages)
		m.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-m.written:
		case <-deadline:
			return false
		}
	}
}
