package models

import "time"

// GeoCandidate is one location match for a free-text place query.
// LocalNames maps language codes to localized spellings; it may be empty.
// Candidates are immutable once produced by the geocode resolver.
type GeoCandidate struct {
	Name       string            `json:"name"`
	LocalNames map[string]string `json:"localNames,omitempty"`
	Country    string            `json:"country"`
	State      string            `json:"state,omitempty"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
}

// LocalName returns the spelling for the given language code, or the base
// name when no localized spelling exists.
func (c GeoCandidate) LocalName(lang string) string {
	if n, ok := c.LocalNames[lang]; ok && n != "" {
		return n
	}
	return c.Name
}

// CurrentConditions holds the primary metrics shown immediately on the dashboard.
type CurrentConditions struct {
	Place       string    `json:"place"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feelsLike"`
	Humidity    int       `json:"humidity"`
	Pressure    int       `json:"pressure"`
	WindSpeed   float64   `json:"windSpeed"`
	Conditions  string    `json:"conditions"`
	Icon        string    `json:"icon,omitempty"`
	ObservedAt  time.Time `json:"observedAt"`
}

// ForecastPoint is one hourly forecast entry.
type ForecastPoint struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
	Conditions  string    `json:"conditions"`
	Icon        string    `json:"icon,omitempty"`
}

// DailySummary aggregates forecast points into a per-day min/max band.
type DailySummary struct {
	Date       string  `json:"date"` // YYYY-MM-DD in the query's timezone offset
	TempMin    float64 `json:"tempMin"`
	TempMax    float64 `json:"tempMax"`
	Conditions string  `json:"conditions"`
	Icon       string  `json:"icon,omitempty"`
}

// ForecastData holds the hourly and daily panels. Nil when the forecast leg
// degraded (timeout or upstream error).
type ForecastData struct {
	Hourly []ForecastPoint `json:"hourly"`
	Daily  []DailySummary  `json:"daily"`
}

// AirQuality holds the air pollution index and component concentrations.
type AirQuality struct {
	AQI  int     `json:"aqi"` // 1 (good) .. 5 (very poor)
	CO   float64 `json:"co"`
	NO2  float64 `json:"no2"`
	O3   float64 `json:"o3"`
	PM25 float64 `json:"pm25"`
	PM10 float64 `json:"pm10"`
}

// WeatherPayload is the unit cached and returned to callers. Forecast and Air
// may be nil when their legs degraded; Current is always populated in a cached
// payload. Payloads are value snapshots: the late air-quality merge produces a
// new payload rather than mutating one already handed out.
type WeatherPayload struct {
	Current   CurrentConditions `json:"current"`
	Forecast  *ForecastData     `json:"forecast"`
	Air       *AirQuality       `json:"air"`
	FetchedAt time.Time         `json:"fetchedAt"`
}
