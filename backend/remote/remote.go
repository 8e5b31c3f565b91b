// Package remote implements ratelimit.Backend against a shared Redis
// store, running its Script atomically via a compiled Lua script and
// falling back per ratelimit.FallbackMode when the store is unreachable.
package remote

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fastex/ratelimit"
	"github.com/fastex/ratelimit/script"
)

// DefaultTimeout bounds a single CheckLimit call when Config.Timeout is
// left at its zero value.
const DefaultTimeout = 1000 * time.Millisecond

// Config configures a Backend.
type Config struct {
	// URL is a redis:// connection string, parsed with redis.ParseURL.
	URL string
	// FallbackMode decides CheckLimit's behavior when the store errors.
	FallbackMode ratelimit.FallbackMode
	// Timeout bounds each CheckLimit call. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Backend is a ratelimit.Backend backed by Redis.
type Backend struct {
	cfg    Config
	script script.Script

	mu        sync.RWMutex
	client    *redis.Client
	compiled  *redis.Script
	connected bool
}

// New constructs a Backend for cfg. A nil scr defaults to
// script.FixedWindow.
func New(cfg Config, scr script.Script) (*Backend, error) {
	if cfg.URL == "" {
		return nil, ratelimit.NewConfigError("remote backend requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if scr == nil {
		scr = script.FixedWindow
	}
	return &Backend{cfg: cfg, script: scr}, nil
}

// Connect is idempotent: once connected, subsequent calls are no-ops. A
// Backend's configuration is fixed at construction (New), so reconnecting
// with a different configuration means constructing a new Backend.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}

	opts, err := redis.ParseURL(b.cfg.URL)
	if err != nil {
		return ratelimit.NewConfigError("invalid redis URL: " + err.Error())
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return ratelimit.NewBackendUnavailableError("remote", err)
	}

	b.client = client
	b.compiled = redis.NewScript(b.script.Source())
	b.connected = true
	return nil
}

// Disconnect releases the Redis client. CheckLimit must not be called
// afterward.
func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil
	}
	b.connected = false
	client := b.client
	b.client = nil
	b.compiled = nil
	if client == nil {
		return nil
	}
	return client.Close()
}

// IsConnected reports whether the backend currently owns a live client.
func (b *Backend) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// CheckLimit runs the configured Script atomically against Redis within
// Config.Timeout, translating any store error through FallbackMode.
func (b *Backend) CheckLimit(ctx context.Context, key string, times int64, windowMS int64) (ratelimit.Decision, error) {
	b.mu.RLock()
	connected := b.connected
	client := b.client
	compiled := b.compiled
	b.mu.RUnlock()

	if !connected {
		return ratelimit.Decision{}, ratelimit.NewNotConnectedError("remote")
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	keys := b.script.Keys(key)
	argv := b.script.Argv(times, windowMS)

	raw, err := compiled.Run(callCtx, client, keys, argv...).Result()
	if err != nil {
		return b.handleFailure(times, windowMS, err)
	}

	decision, err := b.script.Parse(raw)
	if err != nil {
		return b.handleFailure(times, windowMS, ratelimit.NewScriptError("fixed_window", err))
	}
	return decision, nil
}

// handleFailure translates a store failure through FallbackMode.
func (b *Backend) handleFailure(times, windowMS int64, cause error) (ratelimit.Decision, error) {
	switch b.cfg.FallbackMode {
	case ratelimit.FallbackAllow:
		return ratelimit.Decision{RetryAfterMS: 0, CurrentCount: 0}, nil
	case ratelimit.FallbackDeny:
		return ratelimit.Decision{RetryAfterMS: windowMS, CurrentCount: times + 1}, nil
	default:
		return ratelimit.Decision{}, ratelimit.NewBackendUnavailableError("remote", cause)
	}
}
