package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/LaNNy-kz/web-weather-20/internal/lifecycle"
	"github.com/LaNNy-kz/web-weather-20/internal/models"
	"github.com/LaNNy-kz/web-weather-20/internal/suggest"
	"github.com/LaNNy-kz/web-weather-20/internal/traffic"
	"github.com/LaNNy-kz/web-weather-20/internal/upstream"
	"github.com/LaNNy-kz/web-weather-20/internal/validation"
)

const defaultPlaceMaxLen = 100

// PlaceResolver resolves a place query to geocode candidates.
type PlaceResolver interface {
	Resolve(ctx context.Context, place string) ([]models.GeoCandidate, error)
}

// WeatherProvider returns the weather payload for a coordinate.
type WeatherProvider interface {
	GetWeather(ctx context.Context, lat, lon float64) (models.WeatherPayload, error)
}

// CredentialValidator probes the upstream credential. Used by /health.
type CredentialValidator interface {
	ValidateCredential(ctx context.Context) error
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
	// CachePing, when set, is called to check cache reachability. Used when
	// the backend is memcached or redis.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	resolver         PlaceResolver
	provider         WeatherProvider
	validator        CredentialValidator
	healthConfig     *HealthConfig
	logger           *zap.Logger
	placeMaxLen      int
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	resolver PlaceResolver,
	provider WeatherProvider,
	validator CredentialValidator,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	placeMaxLen int,
) *Handler {
	if placeMaxLen <= 0 {
		placeMaxLen = defaultPlaceMaxLen
	}
	return &Handler{
		resolver:     resolver,
		provider:     provider,
		validator:    validator,
		healthConfig: healthConfig,
		logger:       logger,
		placeMaxLen:  placeMaxLen,
	}
}

// GetSuggestions handles GET /geocode/{place}?lang=en&order=asc. Resolves the
// place and returns ranked suggestions for interactive display.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	place, err := validation.ValidatePlace(mux.Vars(r)["place"], h.placeMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PLACE", err.Error())
		return
	}

	candidates, err := h.resolver.Resolve(r.Context(), place)
	if err != nil {
		traffic.RecordError()
		writeUpstreamError(w, r, err)
		return
	}
	traffic.RecordSuccess()

	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = "en"
	}
	ranked := suggest.Rank(candidates, lang, suggest.ParseDirection(r.URL.Query().Get("order")))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"place":       place,
		"suggestions": ranked,
	})
}

// GetWeather handles GET /weather?lat=51.5074&lon=-0.1278.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "lat and lon are required numbers")
		return
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}

	payload, err := h.provider.GetWeather(r.Context(), lat, lon)
	if err != nil {
		traffic.RecordError()
		writeUpstreamError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, payload)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherProvider"] = "unhealthy"
	} else {
		checks["weatherProvider"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "web-weather",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status in priority
// order: shutting-down > credential invalid > error-rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.validator.ValidateCredential(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "credential_invalid"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeUpstreamError maps a resolver or aggregator failure to the error
// envelope. The error kind picks the code so the UI can distinguish a bad
// credential (needs user action) from a transient upstream failure.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	code := "UPSTREAM_UNAVAILABLE"
	message := "Unable to fetch weather data"
	switch {
	case errors.Is(err, upstream.ErrMissingCredential), errors.Is(err, upstream.ErrUnauthorized):
		code = "UPSTREAM_AUTH"
		message = "Weather provider rejected the API credential"
	case errors.Is(err, upstream.ErrRateLimited):
		code = "UPSTREAM_RATE_LIMITED"
		message = "Weather provider rate limit exceeded"
	case errors.Is(err, upstream.ErrTimeout):
		code = "UPSTREAM_TIMEOUT"
		message = "Weather provider timed out"
	}
	writeError(w, r, http.StatusServiceUnavailable, code, message)
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
