// Command fastexample runs a minimal HTTP server protected by the rate
// limiter: a Redis-backed remote backend fronted by an in-memory fallback
// through the composite backend's circuit breaker, plus a separate
// observability listener serving Prometheus metrics.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastex/ratelimit"
	"github.com/fastex/ratelimit/adapters/zerolog"
	"github.com/fastex/ratelimit/backend/composite"
	"github.com/fastex/ratelimit/backend/local"
	"github.com/fastex/ratelimit/backend/remote"
	"github.com/fastex/ratelimit/config"
	ginMiddleware "github.com/fastex/ratelimit/middleware/gin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := zerologadapter.New(nil)

	fallbackMode, err := ratelimit.ParseFallbackMode(cfg.Redis.FallbackMode)
	if err != nil {
		panic("invalid FALLBACK_MODE: " + err.Error())
	}

	remoteBackend, err := remote.New(remote.Config{
		URL:          cfg.Redis.URL,
		FallbackMode: fallbackMode,
		Timeout:      cfg.Redis.Timeout,
	}, nil)
	if err != nil {
		panic("failed to construct remote backend: " + err.Error())
	}

	localBackend := local.New(local.Config{
		CleanupInterval: cfg.Local.CleanupIntervalSeconds,
		MaxKeys:         cfg.Local.MaxKeys,
	})

	if err := remoteBackend.Connect(ctx); err != nil {
		logger.Errorf("remote backend failed initial connect: %v", err)
	}
	if err := localBackend.Connect(ctx); err != nil {
		panic("failed to connect local backend: " + err.Error())
	}

	strategy, err := parseStrategy(cfg.Composite.SwitchingStrategy)
	if err != nil {
		panic(err.Error())
	}

	compositeBackend, err := composite.New(remoteBackend, localBackend, composite.Config{
		Strategy:            strategy,
		FailureThreshold:    cfg.Composite.FailureThreshold,
		RecoveryTimeout:     cfg.Composite.RecoveryTimeoutSeconds,
		HealthCheckInterval: cfg.Composite.HealthCheckIntervalSeconds,
	}, logger)
	if err != nil {
		panic("failed to construct composite backend: " + err.Error())
	}
	compositeBackend.WithMetrics(composite.NewMetrics(prometheus.DefaultRegisterer, "fastex"))

	if err := compositeBackend.Connect(ctx); err != nil {
		panic("failed to connect composite backend: " + err.Error())
	}

	if err := ratelimit.ConfigureLimiter(ctx, compositeBackend); err != nil {
		panic("failed to configure limiter registry: " + err.Error())
	}

	evaluator := ratelimit.NewEvaluator(compositeBackend, logger)

	policy, err := ratelimit.NewLimitPolicy(
		cfg.Policy.DefaultTimes,
		cfg.Policy.DefaultWindowSeconds,
	)
	if err != nil {
		panic("failed to build default policy: " + err.Error())
	}

	router := gin.Default()
	router.Use(ginMiddleware.RateLimiter(evaluator, policy))
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	apiServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	observabilityMux := http.NewServeMux()
	observabilityMux.Handle("/metrics", promhttp.Handler())
	observabilityServer := &http.Server{
		Addr:    cfg.Server.ObservabilityAddress,
		Handler: observabilityMux,
	}

	go func() {
		logger.Debugf("observability server listening on %s", cfg.Server.ObservabilityAddress)
		if err := observabilityServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("observability server failed: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Debugf("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		_ = apiServer.Shutdown(shutdownCtx)
		_ = observabilityServer.Shutdown(shutdownCtx)
		_ = compositeBackend.Disconnect(shutdownCtx)
	}()

	if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic("failed to listen on " + cfg.Server.Address + ": " + err.Error())
	}
}

func parseStrategy(s string) (composite.SwitchingStrategy, error) {
	switch s {
	case "", "circuit_breaker":
		return composite.CircuitBreaker, nil
	case "health_check":
		return composite.HealthCheck, nil
	case "fail_fast":
		return composite.FailFast, nil
	default:
		return 0, ratelimit.NewConfigError("unknown switching strategy: " + s)
	}
}
