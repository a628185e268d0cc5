package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/LaNNy-kz/web-weather-20/internal/circuitbreaker"
	"github.com/LaNNy-kz/web-weather-20/internal/models"
	"github.com/LaNNy-kz/web-weather-20/internal/observability"
)

// API is the provider surface consumed by the geocode resolver and the
// weather aggregator.
type API interface {
	Geocode(ctx context.Context, place string) ([]models.GeoCandidate, error)
	Current(ctx context.Context, lat, lon float64) (models.CurrentConditions, error)
	Forecast(ctx context.Context, lat, lon float64) (*models.ForecastData, error)
	AirQuality(ctx context.Context, lat, lon float64) (*models.AirQuality, error)
	ValidateCredential(ctx context.Context) error
}

var (
	ErrMissingCredential = errors.New("missing API credential")
	ErrUnauthorized      = errors.New("credential rejected by upstream")
	ErrRateLimited       = errors.New("rate limited by upstream")
	ErrTimeout           = errors.New("upstream request timed out")
	ErrInvalidResponse   = errors.New("malformed upstream response")
	ErrUpstream          = errors.New("upstream failure")
)

// Endpoints holds the provider URLs. Zero values fall back to the
// OpenWeatherMap defaults.
type Endpoints struct {
	Geocode  string
	Current  string
	Forecast string
	Air      string
}

// Timeouts holds the per-leg deadline budgets. The current-conditions leg is
// shortest-but-one since it blocks the caller; forecast gets the longest
// budget; air quality gets the shortest because it never blocks anything.
type Timeouts struct {
	Geocode  time.Duration
	Current  time.Duration
	Forecast time.Duration
	Air      time.Duration
}

const geocodeLimit = 5

// Client calls the weather provider's REST endpoints. Every call is bounded
// by its leg's timeout; there are no automatic retries, a failed fetch
// surfaces immediately and the caller decides whether to degrade.
type Client struct {
	apiKey    string
	endpoints Endpoints
	timeouts  Timeouts
	client    *http.Client
	breaker   *circuitbreaker.CircuitBreaker
}

// NewClient creates a provider client. Returns ErrMissingCredential when
// apiKey is empty, since every endpoint requires it.
func NewClient(apiKey string, endpoints Endpoints, timeouts Timeouts) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set WEATHER_API_KEY", ErrMissingCredential)
	}
	if endpoints.Geocode == "" {
		endpoints.Geocode = "https://api.openweathermap.org/geo/1.0/direct"
	}
	if endpoints.Current == "" {
		endpoints.Current = "https://api.openweathermap.org/data/2.5/weather"
	}
	if endpoints.Forecast == "" {
		endpoints.Forecast = "https://api.openweathermap.org/data/2.5/forecast"
	}
	if endpoints.Air == "" {
		endpoints.Air = "https://api.openweathermap.org/data/2.5/air_pollution"
	}
	if timeouts.Geocode <= 0 {
		timeouts.Geocode = 3 * time.Second
	}
	if timeouts.Current <= 0 {
		timeouts.Current = 2 * time.Second
	}
	if timeouts.Forecast <= 0 {
		timeouts.Forecast = 4 * time.Second
	}
	if timeouts.Air <= 0 {
		timeouts.Air = 1 * time.Second
	}
	return &Client{
		apiKey:    apiKey,
		endpoints: endpoints,
		timeouts:  timeouts,
		client:    &http.Client{},
	}, nil
}

// SetCircuitBreaker installs a breaker around the current-conditions leg.
// Only that leg is protected: it is the one that fails a whole lookup.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// fetchJSON issues one GET bounded by timeout and returns the response body.
// The API key is appended to params. errors are mapped to the package
// taxonomy: deadline -> ErrTimeout, 401 -> ErrUnauthorized, 429 ->
// ErrRateLimited, other non-2xx -> ErrUpstream with the status code.
func (c *Client) fetchJSON(ctx context.Context, endpoint, rawURL string, params url.Values, timeout time.Duration) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s URL: %w", endpoint, err)
	}
	params.Set("appid", c.apiKey)
	base.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base.String(), nil)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, endpoint, timeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := observability.StatusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := mapStatus(resp.StatusCode, endpoint); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return body, nil
}

// mapStatus converts a non-2xx HTTP status into a taxonomy error.
func mapStatus(statusCode int, endpoint string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, endpoint)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, endpoint)
	default:
		return fmt.Errorf("%w: %s HTTP %d", ErrUpstream, endpoint, statusCode)
	}
}

func coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	return params
}

type geoEntry struct {
	Name       string            `json:"name"`
	LocalNames map[string]string `json:"local_names"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	Country    string            `json:"country"`
	State      string            `json:"state"`
}

// Geocode resolves a free-text place name to up to five candidate locations,
// in upstream order. A response that is not a JSON sequence is rejected as
// ErrInvalidResponse.
func (c *Client) Geocode(ctx context.Context, place string) ([]models.GeoCandidate, error) {
	params := url.Values{}
	params.Set("q", place)
	params.Set("limit", strconv.Itoa(geocodeLimit))

	body, err := c.fetchJSON(ctx, "geocode", c.endpoints.Geocode, params, c.timeouts.Geocode)
	if err != nil {
		return nil, err
	}

	var entries []geoEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: geocode response is not a sequence: %v", ErrInvalidResponse, err)
	}

	candidates := make([]models.GeoCandidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, models.GeoCandidate{
			Name:       e.Name,
			LocalNames: e.LocalNames,
			Country:    e.Country,
			State:      e.State,
			Lat:        e.Lat,
			Lon:        e.Lon,
		})
	}
	return candidates, nil
}

type currentResponse struct {
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
	Dt   int64  `json:"dt"`
}

// Current fetches current conditions for a coordinate. This is the only leg
// whose failure is fatal to a weather lookup, so it is the one the optional
// circuit breaker protects.
func (c *Client) Current(ctx context.Context, lat, lon float64) (models.CurrentConditions, error) {
	var out models.CurrentConditions
	fetch := func() error {
		params := coordParams(lat, lon)
		params.Set("units", "metric")

		body, err := c.fetchJSON(ctx, "current", c.endpoints.Current, params, c.timeouts.Current)
		if err != nil {
			return err
		}

		var apiResp currentResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return fmt.Errorf("%w: parse current conditions: %v", ErrInvalidResponse, err)
		}
		if apiResp.Main == nil {
			return fmt.Errorf("%w: current conditions missing main metrics", ErrInvalidResponse)
		}

		conditions := ""
		icon := ""
		if len(apiResp.Weather) > 0 {
			conditions = apiResp.Weather[0].Main
			if apiResp.Weather[0].Description != "" {
				conditions = apiResp.Weather[0].Description
			}
			icon = apiResp.Weather[0].Icon
		}

		out = models.CurrentConditions{
			Place:       apiResp.Name,
			Temperature: apiResp.Main.Temp,
			FeelsLike:   apiResp.Main.FeelsLike,
			Humidity:    apiResp.Main.Humidity,
			Pressure:    apiResp.Main.Pressure,
			WindSpeed:   apiResp.Wind.Speed,
			Conditions:  conditions,
			Icon:        icon,
			ObservedAt:  time.Unix(apiResp.Dt, 0).UTC(),
		}
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Call(fetch); err != nil {
			return models.CurrentConditions{}, err
		}
		return out, nil
	}
	if err := fetch(); err != nil {
		return models.CurrentConditions{}, err
	}
	return out, nil
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
	} `json:"list"`
	City struct {
		Timezone int `json:"timezone"` // UTC offset in seconds
	} `json:"city"`
}

// Forecast fetches the hourly forecast and derives per-day min/max summaries.
// The aggregator treats any error here as a soft failure.
func (c *Client) Forecast(ctx context.Context, lat, lon float64) (*models.ForecastData, error) {
	params := coordParams(lat, lon)
	params.Set("units", "metric")

	body, err := c.fetchJSON(ctx, "forecast", c.endpoints.Forecast, params, c.timeouts.Forecast)
	if err != nil {
		return nil, err
	}

	var apiResp forecastResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: parse forecast: %v", ErrInvalidResponse, err)
	}
	if len(apiResp.List) == 0 {
		return nil, fmt.Errorf("%w: forecast has no entries", ErrInvalidResponse)
	}

	loc := time.FixedZone("local", apiResp.City.Timezone)
	data := &models.ForecastData{}
	daily := make(map[string]*models.DailySummary)
	var dayOrder []string

	for _, item := range apiResp.List {
		conditions := ""
		icon := ""
		if len(item.Weather) > 0 {
			conditions = item.Weather[0].Description
			if conditions == "" {
				conditions = item.Weather[0].Main
			}
			icon = item.Weather[0].Icon
		}
		ts := time.Unix(item.Dt, 0).In(loc)
		data.Hourly = append(data.Hourly, models.ForecastPoint{
			Time:        ts.UTC(),
			Temperature: item.Main.Temp,
			Conditions:  conditions,
			Icon:        icon,
		})

		day := ts.Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			daily[day] = &models.DailySummary{
				Date:       day,
				TempMin:    item.Main.Temp,
				TempMax:    item.Main.Temp,
				Conditions: conditions,
				Icon:       icon,
			}
			dayOrder = append(dayOrder, day)
			continue
		}
		if item.Main.Temp < d.TempMin {
			d.TempMin = item.Main.Temp
		}
		if item.Main.Temp > d.TempMax {
			d.TempMax = item.Main.Temp
		}
	}

	for _, day := range dayOrder {
		data.Daily = append(data.Daily, *daily[day])
	}
	return data, nil
}

type airResponse struct {
	List []struct {
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components struct {
			CO   float64 `json:"co"`
			NO2  float64 `json:"no2"`
			O3   float64 `json:"o3"`
			PM25 float64 `json:"pm2_5"`
			PM10 float64 `json:"pm10"`
		} `json:"components"`
	} `json:"list"`
}

// AirQuality fetches the air pollution index for a coordinate. The aggregator
// treats any error here as a soft failure; the leg also carries the shortest
// timeout budget since nothing waits on it.
func (c *Client) AirQuality(ctx context.Context, lat, lon float64) (*models.AirQuality, error) {
	body, err := c.fetchJSON(ctx, "air", c.endpoints.Air, coordParams(lat, lon), c.timeouts.Air)
	if err != nil {
		return nil, err
	}

	var apiResp airResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: parse air quality: %v", ErrInvalidResponse, err)
	}
	if len(apiResp.List) == 0 {
		return nil, fmt.Errorf("%w: air quality has no entries", ErrInvalidResponse)
	}

	first := apiResp.List[0]
	return &models.AirQuality{
		AQI:  first.Main.AQI,
		CO:   first.Components.CO,
		NO2:  first.Components.NO2,
		O3:   first.Components.O3,
		PM25: first.Components.PM25,
		PM10: first.Components.PM10,
	}, nil
}

// ValidateCredential probes the geocode endpoint to check that the API key is
// accepted. Used by the health endpoint.
func (c *Client) ValidateCredential(ctx context.Context) error {
	params := url.Values{}
	params.Set("q", "London")
	params.Set("limit", "1")
	_, err := c.fetchJSON(ctx, "geocode", c.endpoints.Geocode, params, c.timeouts.Geocode)
	return err
}

// extractCorrelationID pulls the request correlation ID from context when the
// HTTP layer put one there.
func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}
