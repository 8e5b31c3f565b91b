// Package config loads the rate limiter's environment configuration
// surface.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment-driven configuration for a rate limiter
// deployment: a remote (Redis) backend, an optional local fallback, and
// the composite backend's switching strategy.
type Config struct {
	Redis struct {
		URL          string        `envconfig:"REDIS_URL" required:"true"`
		FallbackMode string        `envconfig:"FALLBACK_MODE" default:"allow"`
		Timeout      time.Duration `envconfig:"REDIS_TIMEOUT" default:"1s"`
	}

	Policy struct {
		DefaultTimes         int64         `envconfig:"DEFAULT_TIMES" default:"100"`
		DefaultWindowSeconds time.Duration `envconfig:"DEFAULT_WINDOW_SECONDS" default:"60s"`
	}

	Local struct {
		CleanupIntervalSeconds time.Duration `envconfig:"CLEANUP_INTERVAL_SECONDS" default:"5m"`
		MaxKeys                int           `envconfig:"MAX_KEYS" default:"10000"`
	}

	Composite struct {
		SwitchingStrategy          string        `envconfig:"SWITCHING_STRATEGY" default:"circuit_breaker"`
		FailureThreshold           int           `envconfig:"FAILURE_THRESHOLD" default:"5"`
		RecoveryTimeoutSeconds     time.Duration `envconfig:"RECOVERY_TIMEOUT_SECONDS" default:"60s"`
		HealthCheckIntervalSeconds time.Duration `envconfig:"HEALTH_CHECK_INTERVAL_SECONDS" default:"30s"`
	}

	Server struct {
		Address              string        `default:":8080"`
		ObservabilityAddress string        `split_words:"true" default:":9090"`
		ShutdownTimeout      time.Duration `split_words:"true" default:"10s"`
	}
}

// Load populates a Config from the process environment, using the
// "FASTEX" prefix for every field without an explicit envconfig tag
// (e.g. FASTEX_SERVER_ADDRESS).
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("fastex", &c); err != nil {
		return nil, err
	}
	return &c, nil
}
