package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/hpatro/valkey-http/internal/engine"
	"github.com/hpatro/valkey-http/internal/infrastructure"
)

// ErrAlreadyInstalled is returned by a second Install
var ErrAlreadyInstalled = errors.New("monitor: hook already installed")

// Hook listens to every command the engine executes and feeds the Registry.
// The engine-side callback only formats the line and hands it to a bounded
// inbox; Run publishes from its own goroutine.
type Hook struct {
	registry *Registry
	inbox    chan string
	logger   *slog.Logger
	metrics  *infrastructure.GatewayMetrics

	mu          sync.Mutex
	installed   bool
	unsubscribe func()
}

// NewHook creates a Hook publishing into registry
func NewHook(registry *Registry, inboxSize int, logger *slog.Logger, metrics *infrastructure.GatewayMetrics) *Hook {
	if inboxSize <= 0 {
		inboxSize = 1
	}
	return &Hook{
		registry: registry,
		inbox:    make(chan string, inboxSize),
		logger:   infrastructure.WithComponent(logger, "monitor.hook"),
		metrics:  metrics,
	}
}

// Install registers the hook with source. It may be called once.
func (h *Hook) Install(ctx context.Context, source engine.CommandSource) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.installed {
		return ErrAlreadyInstalled
	}
	unsubscribe, err := source.SubscribeToAllCommands(ctx, h.listen)
	if err != nil {
		return err
	}
	h.installed = true
	h.unsubscribe = unsubscribe
	h.logger.InfoContext(ctx, "command hook installed")
	return nil
}

// Uninstall unregisters from the engine. Lines already in the inbox are
// still published while Run is active.
func (h *Hook) Uninstall() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
		h.logger.Info("command hook uninstalled")
	}
}

// Run publishes inbox lines in arrival order until ctx is done
func (h *Hook) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-h.inbox:
			h.registry.Publish(line)
		}
	}
}

// listen runs on the engine's execution path and must never block
func (h *Hook) listen(name string, args []string) {
	line := FormatCommand(name, args)
	select {
	case h.inbox <- line:
	default:
		h.metrics.RecordDrop(context.Background(), "inbox_full")
	}
}

// FormatCommand renders a command and its arguments as one space-separated line
func FormatCommand(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
