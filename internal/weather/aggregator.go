package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LaNNy-kz/web-weather-20/internal/cache"
	"github.com/LaNNy-kz/web-weather-20/internal/models"
	"github.com/LaNNy-kz/web-weather-20/internal/observability"
	"github.com/LaNNy-kz/web-weather-20/internal/upstream"
)

// ErrWeatherUnavailable wraps a fatal current-conditions failure. The
// underlying taxonomy error (Unauthorized, RateLimited, Timeout, Upstream)
// stays reachable through errors.Is.
var ErrWeatherUnavailable = errors.New("weather unavailable")

// DefaultTTL is how long a weather payload stays cached. Weather moves much
// faster than geocoding.
const DefaultTTL = 3 * time.Minute

// defaultWaitTimeout bounds how long a coalesced caller waits on a shared fetch.
const defaultWaitTimeout = 10 * time.Second

// Aggregator orchestrates the staged weather lookup for a coordinate:
// current conditions first (fatal on failure), forecast awaited but fail-soft,
// air quality merged in the background after the initial payload is out.
// At most one staged fetch runs per rounded coordinate key.
type Aggregator struct {
	api      upstream.API
	store    cache.Store
	ttl      time.Duration
	inflight *inflightGroup
	hub      *updateHub
	logger   *zap.Logger
}

// NewAggregator creates an Aggregator. ttl <= 0 falls back to DefaultTTL.
func NewAggregator(api upstream.API, store cache.Store, ttl time.Duration, logger *zap.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{
		api:      api,
		store:    store,
		ttl:      ttl,
		inflight: newInflightGroup(defaultWaitTimeout),
		hub:      newUpdateHub(),
		logger:   logger,
	}
}

// Subscribe registers fn to receive the merged payload when the air-quality
// leg settles for the given coordinate. Returns a cancel func. Subscribers
// are notified even when the leg degraded and the air section stayed empty,
// so a view can stop showing a loading state.
func (a *Aggregator) Subscribe(lat, lon float64, fn Subscriber) func() {
	return a.hub.subscribe(cache.WeatherKey(lat, lon), fn)
}

// GetWeather returns the weather payload for a coordinate. On a cache hit no
// network calls happen at all, not even for air quality. On a miss the staged
// fetch runs, deduplicated per coordinate key: concurrent callers for the
// same key share one outcome. The returned payload is a snapshot; to see the
// late air-quality section, subscribe or re-read after the merge.
func (a *Aggregator) GetWeather(ctx context.Context, lat, lon float64) (models.WeatherPayload, error) {
	key := cache.WeatherKey(lat, lon)
	start := time.Now()

	raw, ok, err := a.store.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		if a.logger != nil {
			a.logger.Warn("weather cache read failed", zap.String("key", key), zap.Error(err))
		}
	} else if ok {
		var payload models.WeatherPayload
		if err := json.Unmarshal(raw, &payload); err == nil {
			observability.CacheHitsTotal.WithLabelValues("weather").Inc()
			if a.logger != nil {
				a.logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
			}
			return payload, nil
		}
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()

	payload, shared, err := a.inflight.GetOrDo(ctx, key, func() (models.WeatherPayload, error) {
		return a.fetchStaged(ctx, key, lat, lon)
	})
	if shared {
		observability.CoalescedRequestsTotal.Inc()
	}
	if err != nil {
		return models.WeatherPayload{}, err
	}
	if a.logger != nil {
		a.logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", false), zap.Bool("coalesced", shared), zap.Duration("duration", time.Since(start)))
	}
	return payload, nil
}

// fetchStaged runs the three-leg fetch. Current conditions failure is fatal
// and nothing is cached. The air leg starts alongside the forecast leg so its
// network time overlaps the forecast wait, but its result is merged strictly
// after the initial payload exists.
func (a *Aggregator) fetchStaged(ctx context.Context, key string, lat, lon float64) (models.WeatherPayload, error) {
	current, err := a.api.Current(ctx, lat, lon)
	if err != nil {
		return models.WeatherPayload{}, fmt.Errorf("%w: %w", ErrWeatherUnavailable, err)
	}

	// The merge must outlive the caller's request context.
	bgCtx := context.WithoutCancel(ctx)

	airCh := make(chan *models.AirQuality, 1)
	go func() {
		air, err := a.api.AirQuality(bgCtx, lat, lon)
		if err != nil {
			if a.logger != nil {
				a.logger.Debug("air quality degraded", zap.String("key", key), zap.Error(err))
			}
			air = nil
		}
		airCh <- air
	}()

	forecast, err := a.api.Forecast(ctx, lat, lon)
	if err != nil {
		if a.logger != nil {
			a.logger.Debug("forecast degraded", zap.String("key", key), zap.Error(err))
		}
		forecast = nil
	}

	payload := models.WeatherPayload{
		Current:   current,
		Forecast:  forecast,
		Air:       nil,
		FetchedAt: time.Now().UTC(),
	}
	a.writeCache(bgCtx, key, payload)

	go a.mergeAir(bgCtx, key, payload, airCh)

	return payload, nil
}

// mergeAir waits for the air leg, overwrites the cache entry with the merged
// payload, and notifies subscribers. Runs after the initial payload has been
// cached; the original caller never waits on it.
func (a *Aggregator) mergeAir(ctx context.Context, key string, payload models.WeatherPayload, airCh <-chan *models.AirQuality) {
	air := <-airCh

	merged := payload
	merged.Air = air
	a.writeCache(ctx, key, merged)

	outcome := "merged"
	if air == nil {
		outcome = "degraded"
	}
	observability.AirMergesTotal.WithLabelValues(outcome).Inc()

	a.hub.notify(key, merged)
}

// writeCache stores a payload under key. A lost cache write is non-fatal: the
// payload is already in the caller's hands.
func (a *Aggregator) writeCache(ctx context.Context, key string, payload models.WeatherPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := a.store.Set(ctx, key, raw, a.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		if a.logger != nil {
			a.logger.Warn("weather cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}
