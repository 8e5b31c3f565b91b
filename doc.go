// Package ratelimit provides a fixed-window rate-limiting core for HTTP
// services.
//
// It defines the policy/evaluator contract that framework middleware calls
// into, the pluggable Script abstraction used by store-backed backends, and
// the Logger and FallbackMode types shared across the in-memory, remote and
// composite backends in the ratelimit/backend/* subpackages.
//
// Users typically construct a backend (ratelimit/backend/local or
// ratelimit/backend/remote, optionally fronted by ratelimit/backend/composite),
// wrap it in one or more LimitPolicy values, and hand those to a framework
// adapter such as middleware/gin or middleware/nethttp.
package ratelimit
