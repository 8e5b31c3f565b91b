package ratelimit

import (
	"context"
	"net/http"
	"strconv"
)

// Evaluator is the glue between framework middleware and a Backend.
// Framework adapters hold one Evaluator per configured Backend and call
// Evaluate for every LimitPolicy guarding a route, in registration order,
// stopping at the first rejection.
type Evaluator struct {
	backend Backend
	logger  Logger
}

// NewEvaluator builds an Evaluator bound to backend. A nil logger is
// replaced with a no-op logger.
func NewEvaluator(backend Backend, logger Logger) *Evaluator {
	if logger == nil {
		logger = NoopLogger()
	}
	return &Evaluator{backend: backend, logger: logger}
}

// Evaluate computes the policy's key, calls the backend, and either invokes
// policy.OnReject (returning ok=false, so the caller's handler must not
// run) or leaves the handler free to proceed (ok=true). It sets the
// X-RateLimit-Limit and X-RateLimit-Remaining headers on every evaluated
// request, before OnReject can write the response out.
func (e *Evaluator) Evaluate(ctx context.Context, policy *LimitPolicy, info RequestInfo, w http.ResponseWriter) (decision Decision, ok bool, err error) {
	key := policy.CounterKey(info)

	decision, err = e.backend.CheckLimit(ctx, key, policy.Times, policy.WindowMS)
	if err != nil {
		e.logger.Errorf("ratelimit: backend check failed for key %q: %v", key, err)
		return Decision{}, false, err
	}

	remaining := policy.Times - decision.CurrentCount
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(policy.Times, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

	if !decision.Admitted() {
		e.logger.Debugf("ratelimit: rejected key %q, retry_after_ms=%d, count=%d",
			key, decision.RetryAfterMS, decision.CurrentCount)
		policy.OnReject(w, info, decision)
		return decision, false, nil
	}

	e.logger.Debugf("ratelimit: admitted key %q, count=%d", key, decision.CurrentCount)
	return decision, true, nil
}
