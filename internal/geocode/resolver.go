package geocode

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

// ErrGeocode wraps any upstream failure while resolving a place name.
var ErrGeocode = errors.New("geocode failed")

// DefaultTTL is how long resolved candidates stay cached. Place geocoding is
// stable, so entries live a full day.
const DefaultTTL = 24 * time.Hour

// Resolver resolves free-text place names to candidate locations, cached
// under geocode:<place>. Candidate ordering is upstream-defined; sorting for
// display is the suggestion ranker's job.
type Resolver struct {
	api    upstream.API
	store  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver creates a Resolver. ttl <= 0 falls back to DefaultTTL.
func NewResolver(api upstream.API, store cache.Store, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{api: api, store: store, ttl: ttl, logger: logger}
}

// Resolve returns up to five candidate locations for a place name, in
// upstream order. The cache key is the raw query string, case-sensitive.
// Cache read failures degrade to a miss; cache write failures are dropped
// since the candidates are still in hand. Upstream failures surface as
// ErrGeocode wrapping the taxonomy error; there are no retries.
func (r *Resolver) Resolve(ctx context.Context, place string) ([]models.GeoCandidate, error) {
	key := cache.GeocodeKey(place)

	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		if r.logger != nil {
			r.logger.Warn("geocode cache read failed", zap.String("place", place), zap.Error(err))
		}
	} else if ok {
		var cached []models.GeoCandidate
		if err := json.Unmarshal(raw, &cached); err == nil {
			observability.CacheHitsTotal.WithLabelValues("geocode").Inc()
			if r.logger != nil {
				r.logger.Debug("geocode cache hit", zap.String("place", place))
			}
			return cached, nil
		}
		// corrupted entry: fall through to a fresh fetch, the Set below overwrites it
	}
	observability.CacheMissesTotal.WithLabelValues("geocode").Inc()

	candidates, err := r.api.Geocode(ctx, place)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeocode, err)
	}

	if raw, err := json.Marshal(candidates); err == nil {
		if setErr := r.store.Set(ctx, key, raw, r.ttl); setErr != nil {
			observability.CacheErrorsTotal.WithLabelValues("set").Inc()
			if r.logger != nil {
				r.logger.Warn("geocode cache write failed", zap.String("place", place), zap.Error(setErr))
			}
		}
	}
	return candidates, nil
}
