package nethttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastex/ratelimit"
)

type fakeBackend struct {
	admit bool
	err   error
	keys  []string
}

func (f *fakeBackend) Connect(context.Context) error    { return nil }
func (f *fakeBackend) Disconnect(context.Context) error { return nil }
func (f *fakeBackend) IsConnected() bool                { return true }
func (f *fakeBackend) CheckLimit(_ context.Context, key string, _ int64, _ int64) (ratelimit.Decision, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return ratelimit.Decision{}, f.err
	}
	if f.admit {
		return ratelimit.Decision{RetryAfterMS: 0, CurrentCount: 1}, nil
	}
	return ratelimit.Decision{RetryAfterMS: 1000, CurrentCount: 100}, nil
}

func TestMiddleware_AllowsRequest(t *testing.T) {
	backend := &fakeBackend{admit: true}
	eval := ratelimit.NewEvaluator(backend, nil)
	policy, err := ratelimit.NewLimitPolicy(10, time.Minute)
	require.NoError(t, err)

	called := false
	handler := Middleware(eval, policy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_RejectsRequest(t *testing.T) {
	backend := &fakeBackend{admit: false}
	eval := ratelimit.NewEvaluator(backend, nil)
	policy, err := ratelimit.NewLimitPolicy(10, time.Minute)
	require.NoError(t, err)

	called := false
	handler := Middleware(eval, policy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMiddleware_BackendErrorReturnsServiceUnavailable(t *testing.T) {
	backend := &fakeBackend{err: ratelimit.NewBackendUnavailableError("fake", context.DeadlineExceeded)}
	eval := ratelimit.NewEvaluator(backend, nil)
	policy, err := ratelimit.NewLimitPolicy(10, time.Minute)
	require.NoError(t, err)

	handler := Middleware(eval, policy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run when the backend errors")
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMiddleware_StackedPoliciesShortCircuitOnRejection(t *testing.T) {
	backend := &fakeBackend{admit: false}
	eval := ratelimit.NewEvaluator(backend, nil)
	burst, err := ratelimit.NewLimitPolicy(1, time.Second)
	require.NoError(t, err)
	sustained, err := ratelimit.NewLimitPolicy(100, time.Minute, ratelimit.WithRouteIndex(1))
	require.NoError(t, err)

	handler := Middleware(eval, burst, sustained)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run after a rejection")
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Len(t, backend.keys, 1, "later policies must not be evaluated after a rejection")
	assert.Equal(t, "fastex:10.0.0.1:/data:0", backend.keys[0])
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestClientIP_StripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:8080"
	assert.Equal(t, "192.168.1.5", clientIP(req))
}
