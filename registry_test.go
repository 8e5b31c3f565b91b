package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingBackend struct {
	fakeBackend
	disconnected bool
}

func (b *trackingBackend) Disconnect(context.Context) error {
	b.disconnected = true
	return nil
}

func TestConfigureLimiter_RejectsNil(t *testing.T) {
	err := ConfigureLimiter(context.Background(), nil)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestConfigureLimiter_ReplacesAndDisconnectsOld(t *testing.T) {
	first := &trackingBackend{}
	second := &trackingBackend{}

	require.NoError(t, ConfigureLimiter(context.Background(), first))
	assert.Same(t, first, CurrentBackend())

	require.NoError(t, ConfigureLimiter(context.Background(), second))
	assert.True(t, first.disconnected)
	assert.Same(t, second, CurrentBackend())
}
