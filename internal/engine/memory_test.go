package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory(map[string]string{"default": "default", "alice": "secret"}, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMemoryAuthenticate(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		login    string
		password string
		want     bool
	}{
		{"valid default user", "default", "default", true},
		{"valid named user", "alice", "secret", true},
		{"wrong password", "alice", "nope", false},
		{"unknown user", "mallory", "secret", false},
		{"empty credentials", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := m.Authenticate(ctx, tt.login, tt.password)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMemoryExecute(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	reply, err := m.Execute(ctx, "default", "SET", "a", "1")
	require.NoError(t, err)
	require.NotNil(t, reply.Value)
	assert.Equal(t, "OK", *reply.Value)

	reply, err = m.Execute(ctx, "default", "get", "a")
	require.NoError(t, err)
	require.NotNil(t, reply.Value)
	assert.Equal(t, "1", *reply.Value)

	_, err = m.Execute(ctx, "default", "GET", "missing")
	assert.ErrorIs(t, err, ErrNil)

	reply, err = m.Execute(ctx, "default", "EXISTS", "a", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reply.Int)

	reply, err = m.Execute(ctx, "default", "DEL", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reply.Int)

	reply, err = m.Execute(ctx, "default", "DEL", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), reply.Int)
	assert.Equal(t, 0, m.Len())

	reply, err = m.Execute(ctx, "default", "PING")
	require.NoError(t, err)
	assert.Equal(t, "PONG", *reply.Value)
}

func TestMemoryExecuteErrors(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Execute(ctx, "default", "SET", "only-key")
	assert.ErrorIs(t, err, ErrWrongArity)

	_, err = m.Execute(ctx, "default", "GET")
	assert.ErrorIs(t, err, ErrWrongArity)

	_, err = m.Execute(ctx, "default", "FLUSHALL")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Execute(cancelled, "default", "GET", "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryListeners(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	unsubscribe, err := m.SubscribeToAllCommands(ctx, func(name string, args []string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, name+" "+args[0])
	})
	require.NoError(t, err)

	_, _ = m.Execute(ctx, "default", "SET", "k", "v")
	_, _ = m.Execute(ctx, "default", "GET", "k")
	_, _ = m.Authenticate(ctx, "alice", "secret")

	unsubscribe()
	unsubscribe()
	_, _ = m.Execute(ctx, "default", "DEL", "k")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"SET k", "GET k", "AUTH alice"}, seen)
}

func TestMemoryAuthIsRedacted(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	var args []string
	_, err := m.SubscribeToAllCommands(ctx, func(name string, a []string) {
		if name == "AUTH" {
			args = a
		}
	})
	require.NoError(t, err)

	_, _ = m.Authenticate(ctx, "alice", "secret")
	assert.Equal(t, []string{"alice", redacted}, args)
	assert.NotContains(t, args, "secret")
}

func TestMemoryClose(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Execute(ctx, "default", "GET", "a")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Authenticate(ctx, "default", "default")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.SubscribeToAllCommands(ctx, func(string, []string) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Ping(ctx), ErrClosed)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = m.Execute(ctx, "default", "SET", "shared", "v")
				_, _ = m.Execute(ctx, "default", "GET", "shared")
				_, _ = m.Execute(ctx, "default", "DEL", "shared")
			}
		}()
	}
	wg.Wait()
}

func TestMemoryListenersSeeExecutionOrder(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	_, err := m.SubscribeToAllCommands(ctx, func(name string, args []string) {
		if name != "SET" {
			return
		}
		if args[1] == "first" {
			close(entered)
			<-release
		}
		mu.Lock()
		order = append(order, args[1])
		mu.Unlock()
	})
	require.NoError(t, err)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = m.Execute(ctx, "default", "SET", "k", "first")
	}()
	<-entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, _ = m.Execute(ctx, "default", "SET", "k", "second")
	}()

	select {
	case <-secondDone:
		t.Fatal("SET second ran while SET first was still being observed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-firstDone
	<-secondDone

	reply, err := m.Execute(ctx, "default", "GET", "k")
	require.NoError(t, err)
	require.NotNil(t, reply.Value)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, order[len(order)-1], *reply.Value, "last observed write is the stored value")
}
