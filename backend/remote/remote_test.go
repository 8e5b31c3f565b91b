package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastex/ratelimit"
	"github.com/fastex/ratelimit/script"
)

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
	var cfgErr *ratelimit.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNew_DefaultsTimeoutAndScript(t *testing.T) {
	b, err := New(Config{URL: "redis://localhost:6379/0"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, b.cfg.Timeout)
	assert.Equal(t, script.FixedWindow, b.script)
}

func TestConnect_RejectsMalformedURL(t *testing.T) {
	b, err := New(Config{URL: "not-a-valid-url"}, nil)
	require.NoError(t, err) // URL syntax is validated lazily, at Connect

	err = b.Connect(context.Background())
	require.Error(t, err)
	var cfgErr *ratelimit.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestIsConnected_FalseBeforeConnect(t *testing.T) {
	b, err := New(Config{URL: "redis://localhost:6379/0"}, nil)
	require.NoError(t, err)
	assert.False(t, b.IsConnected())
}

func TestCheckLimit_BeforeConnect(t *testing.T) {
	b, err := New(Config{URL: "redis://localhost:6379/0"}, nil)
	require.NoError(t, err)

	_, err = b.CheckLimit(context.Background(), "k", 1, 1000)
	require.Error(t, err)
	var notConnected *ratelimit.NotConnectedError
	assert.ErrorAs(t, err, &notConnected)
}

func TestHandleFailure_Allow(t *testing.T) {
	b, err := New(Config{URL: "redis://localhost:6379/0", FallbackMode: ratelimit.FallbackAllow}, nil)
	require.NoError(t, err)

	d, err := b.handleFailure(10, 60000, errors.New("connection refused"))
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Decision{RetryAfterMS: 0, CurrentCount: 0}, d)
}

func TestHandleFailure_Deny(t *testing.T) {
	b, err := New(Config{URL: "redis://localhost:6379/0", FallbackMode: ratelimit.FallbackDeny}, nil)
	require.NoError(t, err)

	d, err := b.handleFailure(10, 60000, errors.New("connection refused"))
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Decision{RetryAfterMS: 60000, CurrentCount: 11}, d)
}

func TestHandleFailure_Raise(t *testing.T) {
	b, err := New(Config{URL: "redis://localhost:6379/0", FallbackMode: ratelimit.FallbackRaise}, nil)
	require.NoError(t, err)

	_, err = b.handleFailure(10, 60000, errors.New("connection refused"))
	require.Error(t, err)
	var unavailable *ratelimit.BackendUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}
