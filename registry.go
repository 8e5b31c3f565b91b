package ratelimit

import (
	"context"
	"sync"
)

// registry holds the process-wide default Backend. It is a convenience
// shim over the real dependency-injection path: NewEvaluator accepts a
// Backend directly, and code that wants explicit wiring should prefer
// that. ConfigureLimiter/CurrentBackend exist for callers that want a
// single implicit backend shared across a process.
var registry struct {
	mu      sync.RWMutex
	backend Backend
}

// ConfigureLimiter sets the process-wide default backend, disconnecting
// and replacing any previously configured backend. Reconfiguration is
// permitted, but the caller is responsible for ensuring in-flight
// CheckLimit calls against the old backend have drained before calling
// this again; ConfigureLimiter itself does not wait for them.
func ConfigureLimiter(ctx context.Context, backend Backend) error {
	if backend == nil {
		return NewConfigError("backend must not be nil")
	}
	if !backend.IsConnected() {
		return NewNotConnectedError("default")
	}

	registry.mu.Lock()
	old := registry.backend
	registry.backend = backend
	registry.mu.Unlock()

	if old != nil {
		return old.Disconnect(ctx)
	}
	return nil
}

// CurrentBackend returns the process-wide default backend configured via
// ConfigureLimiter, or nil if none has been configured yet.
func CurrentBackend() Backend {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return registry.backend
}
