package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/LaNNy-kz/web-weather-20/internal/lifecycle"
	"github.com/LaNNy-kz/web-weather-20/internal/models"
	"github.com/LaNNy-kz/web-weather-20/internal/traffic"
	"github.com/LaNNy-kz/web-weather-20/internal/upstream"
)

type mockResolver struct {
	candidates []models.GeoCandidate
	err        error
	calls      int
}

func (m *mockResolver) Resolve(ctx context.Context, place string) ([]models.GeoCandidate, error) {
	m.calls++
	return m.candidates, m.err
}

type mockProvider struct {
	payload models.WeatherPayload
	err     error
	lastLat float64
	lastLon float64
}

func (m *mockProvider) GetWeather(ctx context.Context, lat, lon float64) (models.WeatherPayload, error) {
	m.lastLat, m.lastLon = lat, lon
	return m.payload, m.err
}

type mockValidator struct {
	err error
}

func (m *mockValidator) ValidateCredential(ctx context.Context) error {
	return m.err
}

func newTestHandler(resolver *mockResolver, provider *mockProvider, validator *mockValidator) *Handler {
	if resolver == nil {
		resolver = &mockResolver{}
	}
	if provider == nil {
		provider = &mockProvider{}
	}
	if validator == nil {
		validator = &mockValidator{}
	}
	hc := &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
		StartTime:        time.Now(),
	}
	return NewHandler(resolver, provider, validator, hc, zap.NewNop(), 100)
}

func newRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/geocode/{place}", h.GetSuggestions).Methods("GET")
	r.HandleFunc("/weather", h.GetWeather).Methods("GET")
	r.HandleFunc("/health", h.GetHealth).Methods("GET")
	return r
}

// TestGetSuggestionsSuccess verifies that a valid place query returns ranked
// suggestions with display names.
func TestGetSuggestionsSuccess(t *testing.T) {
	traffic.Reset()
	resolver := &mockResolver{candidates: []models.GeoCandidate{
		{Name: "London", Country: "GB", Lat: 51.5074, Lon: -0.1278},
		{Name: "London", Country: "CA", State: "Ontario", Lat: 42.9834, Lon: -81.233},
	}}
	h := newTestHandler(resolver, nil, nil)

	req := httptest.NewRequest("GET", "/geocode/London", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Place       string `json:"place"`
		Suggestions []struct {
			DisplayName string `json:"displayName"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Place != "London" {
		t.Errorf("expected place London, got %q", resp.Place)
	}
	if len(resp.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(resp.Suggestions))
	}
	if resp.Suggestions[0].DisplayName == "" {
		t.Error("expected non-empty display name")
	}
}

// TestGetSuggestionsInvalidPlace verifies that a place with disallowed
// characters is rejected with 400 before any upstream call.
func TestGetSuggestionsInvalidPlace(t *testing.T) {
	traffic.Reset()
	resolver := &mockResolver{}
	h := newTestHandler(resolver, nil, nil)

	req := httptest.NewRequest("GET", "/geocode/%3Cscript%3E", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resolver.calls != 0 {
		t.Errorf("expected no resolver calls, got %d", resolver.calls)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != "INVALID_PLACE" {
		t.Errorf("expected INVALID_PLACE, got %q", resp.Error.Code)
	}
}

// TestGetWeatherSuccess verifies that valid coordinates are parsed and passed
// through to the payload provider.
func TestGetWeatherSuccess(t *testing.T) {
	traffic.Reset()
	provider := &mockProvider{payload: models.WeatherPayload{
		Current:   models.CurrentConditions{Temperature: 18.5, Conditions: "clear sky"},
		FetchedAt: time.Now().UTC(),
	}}
	h := newTestHandler(nil, provider, nil)

	req := httptest.NewRequest("GET", "/weather?lat=51.5074&lon=-0.1278", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if provider.lastLat != 51.5074 || provider.lastLon != -0.1278 {
		t.Errorf("coordinates not forwarded: got %f,%f", provider.lastLat, provider.lastLon)
	}
	var payload models.WeatherPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Current.Conditions != "clear sky" {
		t.Errorf("unexpected description %q", payload.Current.Conditions)
	}
}

// TestGetWeatherInvalidCoordinates verifies the 400 responses for missing and
// out-of-range coordinate parameters.
func TestGetWeatherInvalidCoordinates(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing lat", "/weather?lon=-0.1278"},
		{"non-numeric lat", "/weather?lat=abc&lon=-0.1278"},
		{"lat out of range", "/weather?lat=91&lon=0"},
		{"lon out of range", "/weather?lat=0&lon=181"},
	}
	h := newTestHandler(nil, nil, nil)
	router := newRouter(h)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.query, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

// TestGetWeatherErrorMapping verifies that upstream error kinds map to the
// documented error codes in the response envelope.
func TestGetWeatherErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"unauthorized", upstream.ErrUnauthorized, "UPSTREAM_AUTH"},
		{"missing credential", upstream.ErrMissingCredential, "UPSTREAM_AUTH"},
		{"rate limited", upstream.ErrRateLimited, "UPSTREAM_RATE_LIMITED"},
		{"timeout", upstream.ErrTimeout, "UPSTREAM_TIMEOUT"},
		{"generic upstream", upstream.ErrUpstream, "UPSTREAM_UNAVAILABLE"},
		{"unknown", errors.New("boom"), "UPSTREAM_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traffic.Reset()
			provider := &mockProvider{err: tt.err}
			h := newTestHandler(nil, provider, nil)
			req := httptest.NewRequest("GET", "/weather?lat=51.5&lon=-0.1", nil)
			rec := httptest.NewRecorder()
			newRouter(h).ServeHTTP(rec, req)

			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", rec.Code)
			}
			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, resp.Error.Code)
			}
		})
	}
}

// TestGetHealthHealthy verifies the healthy response when the credential
// validates and the error rate is clean.
func TestGetHealthHealthy(t *testing.T) {
	traffic.Reset()
	h := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
}

// TestGetHealthCredentialInvalid verifies that a failing credential probe
// degrades the service.
func TestGetHealthCredentialInvalid(t *testing.T) {
	traffic.Reset()
	validator := &mockValidator{err: upstream.ErrUnauthorized}
	h := newTestHandler(nil, nil, validator)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("expected degraded, got %q", resp.Status)
	}
}

// TestGetHealthErrorRateBreach verifies that a high error rate within the
// window degrades the service even with a valid credential.
func TestGetHealthErrorRateBreach(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	for i := 0; i < 6; i++ {
		traffic.RecordError()
	}
	for i := 0; i < 4; i++ {
		traffic.RecordSuccess()
	}
	h := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

// TestGetHealthShuttingDown verifies that the shutting-down state takes
// priority over every other check.
func TestGetHealthShuttingDown(t *testing.T) {
	traffic.Reset()
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)

	h := newTestHandler(nil, nil, &mockValidator{err: upstream.ErrUnauthorized})
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "shutting-down" {
		t.Errorf("expected shutting-down, got %q", resp.Status)
	}
}

// TestGetHealthCacheCheck verifies that the cache ping result is reported in
// the checks map without affecting the overall status.
func TestGetHealthCacheCheck(t *testing.T) {
	traffic.Reset()
	h := newTestHandler(nil, nil, nil)
	h.healthConfig.CachePing = func() error { return errors.New("connection refused") }

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Checks["cache"] != "unhealthy" {
		t.Errorf("expected cache unhealthy, got %q", resp.Checks["cache"])
	}
	if resp.Status != "healthy" {
		t.Errorf("expected overall healthy, got %q", resp.Status)
	}
}
