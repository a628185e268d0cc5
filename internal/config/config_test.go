package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
`

// writeEnvFile writes a config/dev.yaml under dir with the given content.
func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "dev.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// writeSecretsFile writes a config/secrets.yaml under dir with the given content.
func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "secrets.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// chdir switches the working directory for the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Unsetenv("WEATHER_API_KEY")
	defer func() {
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Unsetenv("WEATHER_API_KEY")
	defer func() {
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
}

func TestLoad_EnvOverridesSecretsFile(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "key-from-env")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-env" {
		t.Errorf("WeatherAPIKey = %q, want key from env", cfg.WeatherAPIKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.WeatherTTL != 3*time.Minute {
		t.Errorf("WeatherTTL = %v, want 3m", cfg.WeatherTTL)
	}
	if cfg.GeocodeTTL != 24*time.Hour {
		t.Errorf("GeocodeTTL = %v, want 24h", cfg.GeocodeTTL)
	}
	if cfg.GeocodeTimeout != 3*time.Second {
		t.Errorf("GeocodeTimeout = %v, want 3s", cfg.GeocodeTimeout)
	}
	if cfg.CurrentTimeout != 2*time.Second {
		t.Errorf("CurrentTimeout = %v, want 2s", cfg.CurrentTimeout)
	}
	if cfg.ForecastTimeout != 4*time.Second {
		t.Errorf("ForecastTimeout = %v, want 4s", cfg.ForecastTimeout)
	}
	if cfg.AirTimeout != time.Second {
		t.Errorf("AirTimeout = %v, want 1s", cfg.AirTimeout)
	}
	if cfg.RateLimitRPS != 100 || cfg.RateLimitBurst != 250 {
		t.Errorf("rate limit = %d/%d, want 100/250", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.PlaceMaxLength != 100 {
		t.Errorf("PlaceMaxLength = %d, want 100", cfg.PlaceMaxLength)
	}
	if !cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = false, want true by default")
	}
	if cfg.WarmCache {
		t.Error("WarmCache = true, want false by default")
	}
}

func TestLoad_InvalidCacheBackend(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, `
cache:
  backend: "dynamo"
`)
	chdir(t, dir)

	cfg, err := Load()
	if err == nil {
		t.Fatalf("Load() expected error for invalid backend, got config %+v", cfg)
	}
	if !strings.Contains(err.Error(), "cache.backend") {
		t.Errorf("Load() error = %v, want message about cache.backend", err)
	}
}

func TestLoad_RequestTimeoutCoversSlowestLeg(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  forecast_timeout: "8s"
request:
  timeout: "4s"
`)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout <= cfg.ForecastTimeout {
		t.Errorf("RequestTimeout = %v, want > ForecastTimeout %v", cfg.RequestTimeout, cfg.ForecastTimeout)
	}
}

func TestLoad_WarmingConfig(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	dir := t.TempDir()
	writeEnvFile(t, dir, `
warming:
  enabled: true
  interval: "10m"
  tracked_places:
    - "London"
    - "Tokyo"
`)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.WarmCache {
		t.Error("WarmCache = false, want true")
	}
	if cfg.WarmInterval != 10*time.Minute {
		t.Errorf("WarmInterval = %v, want 10m", cfg.WarmInterval)
	}
	if len(cfg.TrackedPlaces) != 2 || cfg.TrackedPlaces[0] != "London" {
		t.Errorf("TrackedPlaces = %v, want [London Tokyo]", cfg.TrackedPlaces)
	}
}
