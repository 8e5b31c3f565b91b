// Package script defines the pluggable fixed-window increment procedure
// that ratelimit/backend/remote runs atomically against a shared store.
// A Script is a capability value, not a base class to inherit from: the
// default FixedWindow is itself just a value of the Script interface, and
// callers can supply their own.
package script

import (
	"fmt"
	"strconv"

	"github.com/fastex/ratelimit"
)

// Script describes how to perform a fixed-window increment-and-check
// atomically against a shared store. Keys and Argv build the parameters
// for whatever atomic mechanism the store offers (a Lua script for Redis);
// Parse turns the raw multi-value result back into a ratelimit.Decision.
type Script interface {
	// Source returns the store-side script body (e.g. Lua) implementing
	// the fixed-window procedure.
	Source() string

	// Keys returns the store keys the script touches for counterKey.
	// Scripts that only need a single counter return a one-element slice.
	Keys(counterKey string) []string

	// Argv returns the positional arguments passed to the script,
	// alongside Keys, for the given limit.
	Argv(times, windowMS int64) []interface{}

	// Parse turns the script's raw return value into a Decision.
	Parse(raw interface{}) (ratelimit.Decision, error)
}

// fixedWindow is the default Script: an unconditional INCR, a PEXPIRE set
// only on the first hit in a window (with a PTTL-based repair branch for
// the race where a key exists without an expiry), and a post-hoc
// rejection decided from the resulting count.
type fixedWindow struct{}

// FixedWindow is the default fixed-window Script value.
var FixedWindow Script = fixedWindow{}

// fixedWindowSource is the Lua implementation of the fixed-window
// algorithm. It is the critical-section contract every remote store
// implementation of Script must preserve atomically: the only write is an
// unconditional increment, and rejection is derived afterward.
const fixedWindowSource = `
local key = KEYS[1]
local times = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local current = redis.call('INCR', key)
local ttl

if current == 1 then
	redis.call('PEXPIRE', key, window_ms)
	ttl = window_ms
else
	ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, window_ms)
		ttl = window_ms
	end
end

if current > times then
	return {ttl, current}
else
	return {0, current}
end
`

func (fixedWindow) Source() string { return fixedWindowSource }

func (fixedWindow) Keys(counterKey string) []string {
	return []string{counterKey}
}

func (fixedWindow) Argv(times, windowMS int64) []interface{} {
	return []interface{}{times, windowMS}
}

func (fixedWindow) Parse(raw interface{}) (ratelimit.Decision, error) {
	arr, ok := raw.([]interface{})
	if !ok || len(arr) < 2 {
		return ratelimit.Decision{}, fmt.Errorf("fixed_window: unexpected script result %#v", raw)
	}

	retryAfterMS, err := toInt64(arr[0])
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("fixed_window: parsing retry_after_ms: %w", err)
	}
	currentCount, err := toInt64(arr[1])
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("fixed_window: parsing current_count: %w", err)
	}

	return ratelimit.Decision{RetryAfterMS: retryAfterMS, CurrentCount: currentCount}, nil
}

// toInt64 accepts the two shapes a Redis Lua table-returned integer can
// arrive as through go-redis: int64 directly, or a numeric string.
func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
