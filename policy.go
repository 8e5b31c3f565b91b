package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RequestInfo is the minimal, framework-agnostic view of an inbound request
// that a LimitPolicy needs: the caller's address and the route it hit.
// Framework adapters (middleware/gin, middleware/nethttp) are responsible
// for building one from their native request type.
type RequestInfo struct {
	ClientIP string
	Path     string
}

// KeyFunc extracts the caller-scoped part of a counter key from a request.
// The default returns "{client-ip}:{route-path}".
type KeyFunc func(RequestInfo) string

// OnRejectFunc handles a rejected request. The default writes HTTP 429 with
// a Retry-After header computed from the Decision.
type OnRejectFunc func(w http.ResponseWriter, info RequestInfo, decision Decision)

// LimitPolicy is an immutable description of one rate-limiting rule: a
// maximum number of events (Times) per fixed window (WindowMS), scoped by
// Identifier and keyed under Prefix. RouteIndex distinguishes multiple
// policies stacked on the same route.
type LimitPolicy struct {
	Times      int64
	WindowMS   int64
	Prefix     string
	RouteIndex int
	Identifier KeyFunc
	OnReject   OnRejectFunc
}

// PolicyOption configures a LimitPolicy at construction time.
type PolicyOption func(*LimitPolicy)

// WithPrefix overrides the default "fastex" key prefix.
func WithPrefix(prefix string) PolicyOption {
	return func(p *LimitPolicy) {
		if prefix != "" {
			p.Prefix = prefix
		}
	}
}

// WithRouteIndex sets the 0-based position of this policy among the
// policies stacked on the same route (see CounterKey).
func WithRouteIndex(i int) PolicyOption {
	return func(p *LimitPolicy) { p.RouteIndex = i }
}

// WithIdentifier overrides the default client-ip:path identifier function.
func WithIdentifier(f KeyFunc) PolicyOption {
	return func(p *LimitPolicy) {
		if f != nil {
			p.Identifier = f
		}
	}
}

// WithOnReject overrides the default 429 + Retry-After rejection handler.
func WithOnReject(f OnRejectFunc) PolicyOption {
	return func(p *LimitPolicy) {
		if f != nil {
			p.OnReject = f
		}
	}
}

// NewLimitPolicy builds a LimitPolicy admitting at most times events per
// window. It fails before any counter is touched if times or window are
// not positive.
func NewLimitPolicy(times int64, window time.Duration, opts ...PolicyOption) (*LimitPolicy, error) {
	if times < 1 {
		return nil, NewConfigError("times must be >= 1")
	}
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		return nil, NewConfigError("window must be >= 1ms")
	}

	p := &LimitPolicy{
		Times:      times,
		WindowMS:   windowMS,
		Prefix:     "fastex",
		RouteIndex: 0,
		Identifier: defaultIdentifier,
		OnReject:   defaultOnReject,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CounterKey computes the "{prefix}:{identifier}:{route_index}" key for a
// request under this policy.
func (p *LimitPolicy) CounterKey(info RequestInfo) string {
	return fmt.Sprintf("%s:%s:%d", p.Prefix, p.Identifier(info), p.RouteIndex)
}

func defaultIdentifier(info RequestInfo) string {
	return info.ClientIP + ":" + info.Path
}

func defaultOnReject(w http.ResponseWriter, info RequestInfo, decision Decision) {
	retryAfterSeconds := int(math.Ceil(float64(decision.RetryAfterMS) / 1000))
	if retryAfterSeconds <= 0 {
		retryAfterSeconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}
