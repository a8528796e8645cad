// Package monitor fans out every command the engine executes to live
// /monitor subscribers.
//
// The Registry owns the subscriber set. Subscribers that went away are not
// removed when they leave; the next Publish notices and drops them.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hpatro/valkey-http/internal/config"
	"github.com/hpatro/valkey-http/internal/infrastructure"
)

// Subscription is the receiving end of one monitor session
type Subscription struct {
	id       uint64
	ch       chan string
	done     chan struct{}
	doneOnce sync.Once
	dropped  atomic.Uint64
}

// C delivers command lines in execution order
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Done is closed once the subscription is released by either side
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. The registry forgets it on its next publish.
func (s *Subscription) Close() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Dropped returns how many messages this subscriber lost to overflow
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Registry holds the live subscriber set behind one mutex
type Registry struct {
	mu     sync.Mutex
	subs   []*Subscription
	nextID uint64
	closed bool

	queueSize int
	overflow  string

	logger      *slog.Logger
	metrics     *infrastructure.GatewayMetrics
	warnLimiter *rate.Limiter
}

// NewRegistry creates an empty Registry
func NewRegistry(cfg config.MonitorConfig, logger *slog.Logger, metrics *infrastructure.GatewayMetrics) *Registry {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	overflow := cfg.Overflow
	if overflow == "" {
		overflow = config.OverflowDropOldest
	}
	return &Registry{
		queueSize:   queueSize,
		overflow:    overflow,
		logger:      infrastructure.WithComponent(logger, "monitor.registry"),
		metrics:     metrics,
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Subscribe registers a new subscriber. After Close it returns an already
// released subscription.
func (r *Registry) Subscribe() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{
		id:   r.nextID,
		ch:   make(chan string, r.queueSize),
		done: make(chan struct{}),
	}
	if r.closed {
		sub.Close()
		return sub
	}
	r.subs = append(r.subs, sub)
	r.metrics.SubscribersChanged(context.Background(), 1)
	r.logger.Debug("monitor subscriber registered", slog.Uint64("subscriber_id", sub.id))
	return sub
}

// Publish offers msg to every subscriber without blocking and prunes the
// ones that are gone. It returns the number of subscribers that took msg.
func (r *Registry) Publish(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}

	ctx := context.Background()
	delivered := 0
	kept := r.subs[:0]
	for _, sub := range r.subs {
		if sub.closed() {
			r.logger.Debug("pruned monitor subscriber", slog.Uint64("subscriber_id", sub.id))
			continue
		}
		if r.offer(ctx, sub, msg) {
			delivered++
			kept = append(kept, sub)
			continue
		}
		// disconnect policy
		sub.Close()
	}
	for i := len(kept); i < len(r.subs); i++ {
		r.subs[i] = nil
	}
	removed := len(r.subs) - len(kept)
	r.subs = kept

	r.metrics.SubscribersChanged(ctx, -int64(removed))
	r.metrics.RecordPublish(ctx)
	return delivered
}

// offer reports whether sub should stay registered
func (r *Registry) offer(ctx context.Context, sub *Subscription, msg string) bool {
	select {
	case sub.ch <- msg:
		return true
	default:
	}

	sub.dropped.Add(1)
	if r.overflow == config.OverflowDisconnect {
		r.metrics.RecordDrop(ctx, "disconnect")
		r.warn("disconnecting slow monitor subscriber", sub)
		return false
	}

	// drop_oldest: the session may drain concurrently, so both steps stay non-blocking
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- msg:
	default:
	}
	r.metrics.RecordDrop(ctx, "overflow")
	r.warn("monitor subscriber lagging, dropped oldest message", sub)
	return true
}

func (r *Registry) warn(msg string, sub *Subscription) {
	if !r.warnLimiter.Allow() {
		return
	}
	r.logger.Warn(msg,
		slog.Uint64("subscriber_id", sub.id),
		slog.Uint64("dropped", sub.Dropped()),
		slog.Int("queue_size", r.queueSize))
}

// Count returns the registered membership, including subscribers that have
// gone away but were not yet pruned by a publish.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close releases every subscription. Later publishes are no-ops.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, sub := range r.subs {
		sub.Close()
	}
	r.metrics.SubscribersChanged(context.Background(), -int64(len(r.subs)))
	r.subs = nil
	r.logger.Info("monitor registry closed")
}
