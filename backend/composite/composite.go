// Package composite implements ratelimit.Backend by fronting a primary and
// a fallback backend with one of three switching strategies: a circuit
// breaker, a background health check, or inline fail-fast retry.
package composite

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fastex/ratelimit"
)

// SwitchingStrategy selects how the composite backend decides which of
// primary/fallback serves a given request.
type SwitchingStrategy int

const (
	// CircuitBreaker is the default strategy: CLOSED/OPEN/HALF_OPEN state
	// machine driven by consecutive primary failures.
	CircuitBreaker SwitchingStrategy = iota
	// HealthCheck routes purely off a background health-check loop.
	HealthCheck
	// FailFast tries primary first (or fallback directly while primary is
	// disconnected) and retries the other backend inline on any failure,
	// keeping no state beyond statistics.
	FailFast
)

func (s SwitchingStrategy) String() string {
	switch s {
	case CircuitBreaker:
		return "circuit_breaker"
	case HealthCheck:
		return "health_check"
	case FailFast:
		return "fail_fast"
	default:
		return "unknown"
	}
}

// CircuitState is the circuit breaker's state.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const (
	// DefaultFailureThreshold is CircuitBreaker's failure_threshold default.
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is CircuitBreaker's recovery_timeout default.
	DefaultRecoveryTimeout = 60 * time.Second
	// DefaultHealthCheckInterval is HealthCheck's polling default.
	DefaultHealthCheckInterval = 30 * time.Second
	// healthProbeKey is the reserved key used for the HealthCheck probe.
	healthProbeKey   = "__fastex_health_probe__"
	probeTimeout     = 2 * time.Second
	probeTimesBudget = math.MaxInt64
)

// Config configures a Backend.
type Config struct {
	Strategy            SwitchingStrategy
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HealthCheckInterval time.Duration
}

// Stats is a snapshot of the composite backend's counters and circuit state.
type Stats struct {
	PrimaryRequests       uint64
	PrimaryFailures       uint64
	FallbackRequests      uint64
	FallbackFailures      uint64
	SwitchesToFallback    uint64
	SwitchesToPrimary     uint64
	ConsecutiveFailures   int
	CircuitState          CircuitState
	LastFailureTS         time.Time
	LastRecoveryAttemptTS time.Time
}

// Backend fronts a primary and fallback ratelimit.Backend.
type Backend struct {
	primary  ratelimit.Backend
	fallback ratelimit.Backend
	cfg      Config
	logger   ratelimit.Logger
	metrics  *Metrics

	// state vector, protected by mu; request traffic itself is never
	// serialized behind this lock.
	mu                    sync.Mutex
	state                 CircuitState
	consecutiveFailures   int
	lastFailureTS         time.Time
	lastRecoveryAttemptTS time.Time
	probeInFlight         bool
	probeID               string

	primaryHealthy  atomic.Bool
	fallbackHealthy atomic.Bool

	primaryRequests    atomic.Uint64
	primaryFailures    atomic.Uint64
	fallbackRequests   atomic.Uint64
	fallbackFailures   atomic.Uint64
	switchesToFallback atomic.Uint64
	switchesToPrimary  atomic.Uint64

	connected  bool
	healthDone chan struct{}
	cancel     context.CancelFunc
}

// New builds a composite Backend. Nesting composite backends is rejected
// at construction.
func New(primary, fallback ratelimit.Backend, cfg Config, logger ratelimit.Logger) (*Backend, error) {
	if primary == nil || fallback == nil {
		return nil, ratelimit.NewConfigError("composite backend requires both a primary and a fallback")
	}
	if _, ok := primary.(*Backend); ok {
		return nil, ratelimit.NewConfigError("nested composite backends are not allowed (primary)")
	}
	if _, ok := fallback.(*Backend); ok {
		return nil, ratelimit.NewConfigError("nested composite backends are not allowed (fallback)")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if logger == nil {
		logger = ratelimit.NoopLogger()
	}

	return &Backend{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger,
		state:    Closed,
	}, nil
}

// WithMetrics attaches a Prometheus Metrics exporter, observed after every
// CheckLimit call.
func (b *Backend) WithMetrics(m *Metrics) *Backend {
	b.metrics = m
	return b
}

// Connect connects both backends. At least one must succeed.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	primaryErr := b.primary.Connect(ctx)
	if primaryErr != nil {
		b.logger.Errorf("composite: primary backend failed to connect: %v", primaryErr)
		b.mu.Lock()
		b.state = Open
		b.lastFailureTS = time.Now()
		b.mu.Unlock()
	} else {
		b.primaryHealthy.Store(true)
	}

	fallbackErr := b.fallback.Connect(ctx)
	if fallbackErr != nil {
		b.logger.Errorf("composite: fallback backend failed to connect: %v", fallbackErr)
	} else {
		b.fallbackHealthy.Store(true)
	}

	if primaryErr != nil && fallbackErr != nil {
		return ratelimit.NewBackendUnavailableError("composite", primaryErr)
	}

	var healthCtx context.Context
	var healthDone chan struct{}
	b.mu.Lock()
	if b.cfg.Strategy == HealthCheck {
		var cancel context.CancelFunc
		healthCtx, cancel = context.WithCancel(context.Background())
		healthDone = make(chan struct{})
		b.cancel = cancel
		b.healthDone = healthDone
	}
	b.connected = true
	b.mu.Unlock()

	if healthCtx != nil {
		go b.runHealthCheck(healthCtx, healthDone)
	}

	b.logger.Debugf("composite: connected, strategy=%s", b.cfg.Strategy)
	return nil
}

// Disconnect stops the health-check loop (if running) and disconnects both
// backends.
func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	cancel := b.cancel
	done := b.healthDone
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	primaryErr := b.primary.Disconnect(ctx)
	fallbackErr := b.fallback.Disconnect(ctx)
	if primaryErr != nil {
		return primaryErr
	}
	return fallbackErr
}

// IsConnected reports whether at least one of primary/fallback is
// connected.
func (b *Backend) IsConnected() bool {
	return b.primary.IsConnected() || b.fallback.IsConnected()
}

// CheckLimit routes to the active backend per the configured strategy,
// retrying the other backend inline on failure, and updates statistics
// atomically after each attempt.
func (b *Backend) CheckLimit(ctx context.Context, key string, times int64, windowMS int64) (ratelimit.Decision, error) {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return ratelimit.Decision{}, ratelimit.NewNotConnectedError("composite")
	}

	backend, name, otherAllowed := b.selectBackend()

	decision, err := backend.CheckLimit(ctx, key, times, windowMS)
	if err == nil {
		b.recordSuccess(backend)
		b.bumpRequests(name)
		b.observeMetrics()
		return decision, nil
	}

	b.logger.Errorf("composite: %s backend failed: %v", name, err)
	b.recordFailure(backend, err)
	b.bumpFailures(name)

	if !otherAllowed {
		b.logger.Errorf("composite: circuit open, not retrying primary after fallback failure")
		b.observeMetrics()
		return ratelimit.Decision{}, ratelimit.NewBackendUnavailableError("composite", err)
	}

	other, otherName := b.other(backend)
	if other.IsConnected() {
		decision, otherErr := other.CheckLimit(ctx, key, times, windowMS)
		if otherErr == nil {
			b.logger.Debugf("composite: %s recovered after %s failure", otherName, name)
			b.bumpRequests(otherName)
			b.observeMetrics()
			return decision, nil
		}
		b.bumpFailures(otherName)
		b.observeMetrics()
		return ratelimit.Decision{}, ratelimit.NewBackendUnavailableError("composite", otherErr)
	}

	b.observeMetrics()
	return ratelimit.Decision{}, ratelimit.NewBackendUnavailableError("composite", err)
}

// selectBackend picks the backend to route this call to, along with
// whether a failure on that backend may be retried against the other
// backend. otherAllowed is false exactly when the circuit breaker routed
// to fallback because the circuit is open (or half-open and already
// probing), so a fallback failure there must not fall through to primary.
func (b *Backend) selectBackend() (backend ratelimit.Backend, name string, otherAllowed bool) {
	switch b.cfg.Strategy {
	case FailFast:
		backend, name = b.selectFailFast()
		return backend, name, true
	case HealthCheck:
		backend, name = b.selectHealthCheck()
		return backend, name, true
	default:
		return b.selectCircuitBreaker()
	}
}

func (b *Backend) selectFailFast() (ratelimit.Backend, string) {
	if b.primary.IsConnected() {
		return b.primary, "primary"
	}
	if b.fallback.IsConnected() {
		return b.fallback, "fallback"
	}
	return b.primary, "primary"
}

func (b *Backend) selectHealthCheck() (ratelimit.Backend, string) {
	if b.primaryHealthy.Load() && b.primary.IsConnected() {
		return b.primary, "primary"
	}
	if b.fallbackHealthy.Load() && b.fallback.IsConnected() {
		return b.fallback, "fallback"
	}
	return b.primary, "primary"
}

func (b *Backend) selectCircuitBreaker() (ratelimit.Backend, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return b.primary, "primary", true
	case Open:
		if !b.lastFailureTS.IsZero() && time.Since(b.lastFailureTS) >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.lastRecoveryAttemptTS = time.Now()
			b.probeInFlight = true
			b.probeID = uuid.NewString()
			b.logger.Debugf("composite: circuit breaker HALF_OPEN, probe=%s", b.probeID)
			return b.primary, "primary", true
		}
		return b.fallback, "fallback", false
	case HalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			b.probeID = uuid.NewString()
			b.logger.Debugf("composite: circuit breaker HALF_OPEN, probe=%s", b.probeID)
			return b.primary, "primary", true
		}
		return b.fallback, "fallback", false
	default:
		return b.primary, "primary", true
	}
}

func (b *Backend) other(backend ratelimit.Backend) (ratelimit.Backend, string) {
	if b.isPrimary(backend) {
		return b.fallback, "fallback"
	}
	return b.primary, "primary"
}

func (b *Backend) isPrimary(backend ratelimit.Backend) bool {
	return backend == b.primary
}

func (b *Backend) recordSuccess(backend ratelimit.Backend) {
	if !b.isPrimary(backend) || b.cfg.Strategy != CircuitBreaker {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.consecutiveFailures = 0
		b.probeInFlight = false
		b.switchesToPrimary.Add(1)
		b.logger.Debugf("composite: circuit breaker CLOSED - primary recovered, probe=%s", b.probeID)
		b.probeID = ""
	case Closed:
		b.consecutiveFailures = 0
	}
}

func (b *Backend) recordFailure(backend ratelimit.Backend, _ error) {
	if !b.isPrimary(backend) || b.cfg.Strategy != CircuitBreaker {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTS = time.Now()
	b.consecutiveFailures++

	switch b.state {
	case Closed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = Open
			b.switchesToFallback.Add(1)
			b.logger.Errorf("composite: circuit breaker OPENED after %d failures", b.consecutiveFailures)
		}
	case HalfOpen:
		b.state = Open
		b.probeInFlight = false
		b.logger.Errorf("composite: circuit breaker back to OPEN after failed probe, probe=%s", b.probeID)
		b.probeID = ""
	}
}

// ForceSwitchToPrimary administratively closes the circuit, for
// maintenance windows.
func (b *Backend) ForceSwitchToPrimary() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.probeID = ""
}

// ForceSwitchToFallback administratively opens the circuit.
func (b *Backend) ForceSwitchToFallback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Open
	b.lastFailureTS = time.Now()
	b.probeInFlight = false
	b.probeID = ""
}

// Stats returns a snapshot of the composite backend's statistics.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	state := b.state
	consecutive := b.consecutiveFailures
	lastFailure := b.lastFailureTS
	lastRecovery := b.lastRecoveryAttemptTS
	b.mu.Unlock()

	return Stats{
		PrimaryRequests:       b.primaryRequests.Load(),
		PrimaryFailures:       b.primaryFailures.Load(),
		FallbackRequests:      b.fallbackRequests.Load(),
		FallbackFailures:      b.fallbackFailures.Load(),
		SwitchesToFallback:    b.switchesToFallback.Load(),
		SwitchesToPrimary:     b.switchesToPrimary.Load(),
		ConsecutiveFailures:   consecutive,
		CircuitState:          state,
		LastFailureTS:         lastFailure,
		LastRecoveryAttemptTS: lastRecovery,
	}
}

func (b *Backend) bumpRequests(name string) {
	if name == "primary" {
		b.primaryRequests.Add(1)
	} else {
		b.fallbackRequests.Add(1)
	}
}

func (b *Backend) bumpFailures(name string) {
	if name == "primary" {
		b.primaryFailures.Add(1)
	} else {
		b.fallbackFailures.Add(1)
	}
}

func (b *Backend) observeMetrics() {
	if b.metrics != nil {
		b.metrics.Observe(b.Stats())
	}
}

// runHealthCheck polls primary/fallback connectivity every
// HealthCheckInterval and flips state on edge transitions only.
func (b *Backend) runHealthCheck(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.performHealthChecks()
			b.observeMetrics()
		}
	}
}

func (b *Backend) performHealthChecks() {
	primaryHealthy := b.probe(b.primary)
	wasPrimaryHealthy := b.primaryHealthy.Swap(primaryHealthy)
	if primaryHealthy && !wasPrimaryHealthy {
		b.switchesToPrimary.Add(1)
		b.logger.Debugf("composite: health check - primary became healthy")
	} else if !primaryHealthy && wasPrimaryHealthy {
		b.switchesToFallback.Add(1)
		b.logger.Debugf("composite: health check - primary became unhealthy")
	}

	fallbackHealthy := b.probe(b.fallback)
	b.fallbackHealthy.Store(fallbackHealthy)

	b.logger.Debugf("composite: health check complete, primary=%t fallback=%t", primaryHealthy, fallbackHealthy)
}

// probe exercises the full CheckLimit path against a reserved key.
func (b *Backend) probe(backend ratelimit.Backend) bool {
	if !backend.IsConnected() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	_, err := backend.CheckLimit(ctx, healthProbeKey, probeTimesBudget, 1000)
	return err == nil
}
