package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// ValkeyConfig configures the Valkey engine
type ValkeyConfig struct {
	URL                 string
	DialTimeout         time.Duration
	MonitorReconnectMax time.Duration
}

// Valkey executes gateway commands on a Valkey (or Redis) server
type Valkey struct {
	client *redis.Client
	opts   *redis.Options
	cfg    ValkeyConfig
	logger *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	cancelFn []context.CancelFunc
}

// NewValkey parses cfg.URL and creates the client. No connection is made yet.
func NewValkey(cfg ValkeyConfig, logger *slog.Logger) (*Valkey, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse engine url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.MonitorReconnectMax <= 0 {
		cfg.MonitorReconnectMax = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Valkey{
		client: redis.NewClient(opts),
		opts:   opts,
		cfg:    cfg,
		logger: logger.With("component", "engine.valkey", "addr", opts.Addr),
	}, nil
}

// Authenticate issues AUTH login password on a dedicated connection of a
// throwaway client that carries no credentials of its own, so the pool never
// changes user and an empty password is still checked by the server.
// A server-side rejection is reported as false with a nil error; transport
// failures are returned as errors.
func (v *Valkey) Authenticate(ctx context.Context, login, password string) (bool, error) {
	authOpts := *v.opts
	authOpts.Username = ""
	authOpts.Password = ""
	authOpts.CredentialsProvider = nil
	authOpts.PoolSize = 1
	authOpts.MinIdleConns = 0
	authOpts.MaxRetries = -1

	client := redis.NewClient(&authOpts)
	defer client.Close()
	conn := client.Conn()
	defer conn.Close()

	err := conn.AuthACL(ctx, login, password).Err()
	if err == nil {
		return true, nil
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		v.logger.DebugContext(ctx, "authentication rejected by engine",
			slog.String("login", login),
			slog.String("reply", redisErr.Error()))
		return false, nil
	}
	return false, fmt.Errorf("authenticate: %w", err)
}

// Execute sends one command. identity is carried for logging only.
func (v *Valkey) Execute(ctx context.Context, identity, name string, args ...string) (Reply, error) {
	v.logger.DebugContext(ctx, "executing command",
		slog.String("identity", identity),
		slog.String("verb", name))

	argv := make([]interface{}, 0, len(args)+1)
	argv = append(argv, name)
	for _, arg := range args {
		argv = append(argv, arg)
	}

	val, err := v.client.Do(ctx, argv...).Result()
	if errors.Is(err, redis.Nil) {
		return Reply{}, ErrNil
	}
	if err != nil {
		if redis.HasErrorPrefix(err, "ERR unknown command") {
			return Reply{}, fmt.Errorf("%w '%s'", ErrUnknownCommand, name)
		}
		if redis.HasErrorPrefix(err, "NOPERM") {
			return Reply{}, fmt.Errorf("%w: %v", ErrNotAllowed, err)
		}
		if redis.HasErrorPrefix(err, "ERR wrong number of arguments") {
			return Reply{}, fmt.Errorf("%w for %s", ErrWrongArity, name)
		}
		return Reply{}, fmt.Errorf("%s: %w", name, err)
	}

	switch t := val.(type) {
	case string:
		return StringReply(t), nil
	case int64:
		return IntReply(t), nil
	case bool:
		if t {
			return IntReply(1), nil
		}
		return IntReply(0), nil
	case nil:
		return Reply{}, ErrNil
	default:
		return StringReply(fmt.Sprint(t)), nil
	}
}

// SubscribeToAllCommands streams MONITOR output to listener until the returned
// function is called, ctx is cancelled or the engine is closed. Lost
// connections are re-established with exponential backoff.
func (v *Valkey) SubscribeToAllCommands(ctx context.Context, listener CommandListener) (func(), error) {
	if listener == nil {
		return nil, fmt.Errorf("engine: nil listener")
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrClosed
	}
	streamCtx, cancel := context.WithCancel(ctx)
	v.cancelFn = append(v.cancelFn, cancel)
	v.wg.Add(1)
	v.mu.Unlock()

	go func() {
		defer v.wg.Done()
		v.monitorLoop(streamCtx, listener)
	}()

	return cancel, nil
}

func (v *Valkey) monitorLoop(ctx context.Context, listener CommandListener) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = v.cfg.MonitorReconnectMax
	b.Reset()

	for {
		stream, err := dialMonitor(ctx, v.opts)
		if err == nil {
			v.logger.InfoContext(ctx, "monitor stream connected")
			b.Reset()
			err = stream.run(ctx, func(line string) {
				name, args, perr := ParseMonitorLine(line)
				if perr != nil {
					v.logger.DebugContext(ctx, "skipping unparseable monitor line",
						slog.String("line", line),
						slog.String("error", perr.Error()))
					return
				}
				listener(name, args)
			})
		}

		if ctx.Err() != nil {
			v.logger.InfoContext(ctx, "monitor stream stopped")
			return
		}

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = v.cfg.MonitorReconnectMax
		}
		v.logger.WarnContext(ctx, "monitor stream lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("retry_in", sleep))

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Ping checks the server, retrying with backoff until ctx expires
func (v *Valkey) Ping(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (string, error) {
		res, err := v.client.Ping(ctx).Result()
		var redisErr redis.Error
		if errors.As(err, &redisErr) {
			return "", backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithMaxElapsedTime(v.opts.DialTimeout*3))
	if err != nil {
		return fmt.Errorf("ping %s: %w", v.opts.Addr, err)
	}
	return nil
}

// Close stops every monitor stream and closes the pool
func (v *Valkey) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	for _, cancel := range v.cancelFn {
		cancel()
	}
	v.mu.Unlock()

	v.wg.Wait()
	return v.client.Close()
}

func errString(err error) string {
	if err == nil {
		return "stream closed"
	}
	return err.Error()
}
