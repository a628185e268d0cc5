package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/LaNNy-kz/web-weather-20/internal/cache"
	"github.com/LaNNy-kz/web-weather-20/internal/circuitbreaker"
	"github.com/LaNNy-kz/web-weather-20/internal/config"
	"github.com/LaNNy-kz/web-weather-20/internal/geocode"
	httphandler "github.com/LaNNy-kz/web-weather-20/internal/http"
	"github.com/LaNNy-kz/web-weather-20/internal/lifecycle"
	"github.com/LaNNy-kz/web-weather-20/internal/observability"
	"github.com/LaNNy-kz/web-weather-20/internal/upstream"
	"github.com/LaNNy-kz/web-weather-20/internal/weather"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	client, err := upstream.NewClient(
		cfg.WeatherAPIKey,
		upstream.Endpoints{
			Geocode:  cfg.GeocodeURL,
			Current:  cfg.CurrentURL,
			Forecast: cfg.ForecastURL,
			Air:      cfg.AirQualityURL,
		},
		upstream.Timeouts{
			Geocode:  cfg.GeocodeTimeout,
			Current:  cfg.CurrentTimeout,
			Forecast: cfg.ForecastTimeout,
			Air:      cfg.AirTimeout,
		},
	)
	if err != nil {
		logger.Fatal("upstream client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerThreshold,
			Timeout:          cfg.CircuitBreakerCooldown,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
			},
		})
		client.SetCircuitBreaker(cb)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerThreshold),
			zap.Duration("cooldown", cfg.CircuitBreakerCooldown))
	}

	var store cache.Store
	var pinger interface{ Ping() error }
	var closer interface{ Close() error }
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached store", zap.Error(err))
		}
		store, pinger, closer = mc, mc, mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rc := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		store, pinger, closer = rc, rc, rc
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		store = cache.NewInMemoryStore()
		logger.Info("cache backend: in_memory")
	}

	resolver := geocode.NewResolver(client, store, cfg.GeocodeTTL, logger)
	aggregator := weather.NewAggregator(client, store, cfg.WeatherTTL, logger)

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
	}
	if pinger != nil {
		healthConfig.CachePing = pinger.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(resolver, aggregator, client, healthConfig, logger, cfg.PlaceMaxLength)

	if cfg.WarmCache && len(cfg.TrackedPlaces) > 0 {
		warmer := cache.NewWarmer(resolver, aggregator, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.TrackedPlaces); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), cfg.TrackedPlaces, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	apiRouter := router.NewRoute().Subrouter()
	apiRouter.Use(httphandler.RateLimitMiddleware(limiter))
	apiRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	apiRouter.HandleFunc("/weather", handler.GetWeather).Methods("GET")
	apiRouter.HandleFunc("/geocode/{place}", handler.GetSuggestions).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.DrainInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if closer != nil {
		if err := closer.Close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
