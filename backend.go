package ratelimit

import "context"

// Backend is the interface shared by every rate-limit counter store: the
// in-memory backend (ratelimit/backend/local), the shared-store backend
// (ratelimit/backend/remote) and the composite backend
// (ratelimit/backend/composite) that fronts both.
//
// Connect is idempotent: once a backend is connected, calling it again is a
// no-op. CheckLimit must not be called before Connect or after
// Disconnect; implementations return NotConnectedError in that case.
type Backend interface {
	// Connect establishes (or, after Disconnect, re-establishes) the
	// backend's connection to its underlying store. A backend's
	// configuration is fixed when it is constructed; Connect on an already
	// connected backend is a no-op and does not reinitialize anything.
	Connect(ctx context.Context) error

	// Disconnect releases any resources the backend owns (store clients,
	// background goroutines). CheckLimit must not be called afterward.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the backend is ready to serve CheckLimit.
	IsConnected() bool

	// CheckLimit performs the fixed-window increment-and-check for key and
	// returns the resulting Decision. It is a suspension point: remote
	// backends perform I/O here, and callers should pass a context carrying
	// any deadline or cancellation signal they want honored.
	CheckLimit(ctx context.Context, key string, times int64, windowMS int64) (Decision, error)
}
