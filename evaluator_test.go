package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	decision Decision
	err      error
	lastKey  string
}

func (f *fakeBackend) Connect(context.Context) error    { return nil }
func (f *fakeBackend) Disconnect(context.Context) error { return nil }
func (f *fakeBackend) IsConnected() bool                { return true }
func (f *fakeBackend) CheckLimit(_ context.Context, key string, _ int64, _ int64) (Decision, error) {
	f.lastKey = key
	return f.decision, f.err
}

func TestEvaluator_Admits(t *testing.T) {
	backend := &fakeBackend{decision: Decision{RetryAfterMS: 0, CurrentCount: 1}}
	eval := NewEvaluator(backend, nil)
	policy, err := NewLimitPolicy(10, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	decision, ok, err := eval.Evaluate(context.Background(), policy, RequestInfo{ClientIP: "1.1.1.1", Path: "/x"}, w)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, decision.Admitted())
	assert.Equal(t, "fastex:1.1.1.1:/x:0", backend.lastKey)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}

func TestEvaluator_RejectsAndInvokesOnReject(t *testing.T) {
	backend := &fakeBackend{decision: Decision{RetryAfterMS: 5000, CurrentCount: 11}}
	eval := NewEvaluator(backend, nil)
	policy, err := NewLimitPolicy(10, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	decision, ok, err := eval.Evaluate(context.Background(), policy, RequestInfo{ClientIP: "1.1.1.1", Path: "/x"}, w)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, decision.Admitted())
	assert.Equal(t, 429, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestEvaluator_PropagatesBackendError(t *testing.T) {
	backend := &fakeBackend{err: NewBackendUnavailableError("fake", context.DeadlineExceeded)}
	eval := NewEvaluator(backend, nil)
	policy, err := NewLimitPolicy(10, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	_, ok, err := eval.Evaluate(context.Background(), policy, RequestInfo{}, w)

	require.Error(t, err)
	assert.False(t, ok)
}
