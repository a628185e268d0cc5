package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LaNNy-kz/web-weather-20/internal/models"
)

// PlaceResolver is implemented by the geocode resolver. Declared here to
// avoid a circular dependency on the geocode package.
type PlaceResolver interface {
	Resolve(ctx context.Context, place string) ([]models.GeoCandidate, error)
}

// WeatherFetcher is implemented by the weather aggregator.
type WeatherFetcher interface {
	GetWeather(ctx context.Context, lat, lon float64) (models.WeatherPayload, error)
}

// Warmer prefetches weather for a list of place names so the first dashboard
// load after startup is served hot. Each place is resolved to its best
// candidate, then fetched through the aggregator (which populates the cache).
type Warmer struct {
	resolver PlaceResolver
	fetcher  WeatherFetcher
	logger   *zap.Logger
}

// NewWarmer creates a Warmer using the given resolver, fetcher and logger.
func NewWarmer(resolver PlaceResolver, fetcher WeatherFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{resolver: resolver, fetcher: fetcher, logger: logger}
}

// Warm prefetches each place concurrently. A place with no geocode candidates
// counts as a failure. Returns an aggregated error if any place failed.
func (w *Warmer) Warm(ctx context.Context, places []string) error {
	start := time.Now()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("places", len(places)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(places))
	for _, place := range places {
		place := place
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidates, err := w.resolver.Resolve(ctx, place)
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", place, err)
				return
			}
			if len(candidates) == 0 {
				errCh <- fmt.Errorf("warm %s: no geocode candidates", place)
				return
			}
			first := candidates[0]
			if _, err := w.fetcher.GetWeather(ctx, first.Lat, first.Lon); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", place, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("places", len(places)),
			zap.Int("errors", len(errs)),
			zap.Duration("duration", time.Since(start)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval
// until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, places []string, interval time.Duration) error {
	if err := w.Warm(ctx, places); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, places); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
