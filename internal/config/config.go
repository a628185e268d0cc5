package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey string

	GeocodeURL    string
	CurrentURL    string
	ForecastURL   string
	AirQualityURL string

	GeocodeTimeout  time.Duration
	CurrentTimeout  time.Duration
	ForecastTimeout time.Duration
	AirTimeout      time.Duration

	RequestTimeout time.Duration

	WeatherTTL   time.Duration
	GeocodeTTL   time.Duration
	CacheBackend string // "in_memory", "memcached" or "redis"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled   bool
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration

	ShutdownTimeout time.Duration
	DrainInterval   time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	WarmCache     bool
	WarmInterval  time.Duration
	TrackedPlaces []string

	PlaceMaxLength int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		GeocodeURL      string `yaml:"geocode_url"`
		CurrentURL      string `yaml:"current_url"`
		ForecastURL     string `yaml:"forecast_url"`
		AirQualityURL   string `yaml:"air_quality_url"`
		GeocodeTimeout  string `yaml:"geocode_timeout"`
		CurrentTimeout  string `yaml:"current_timeout"`
		ForecastTimeout string `yaml:"forecast_timeout"`
		AirTimeout      string `yaml:"air_timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout        string `yaml:"timeout"`
		PlaceMaxLength int    `yaml:"place_max_length"`
	} `yaml:"request"`

	Cache struct {
		Backend    string `yaml:"backend"`
		WeatherTTL string `yaml:"weather_ttl"`
		GeocodeTTL string `yaml:"geocode_ttl"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		CircuitBreakerEnabled   *bool  `yaml:"circuit_breaker_enabled"`
		CircuitBreakerThreshold int    `yaml:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `yaml:"circuit_breaker_cooldown"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout       string `yaml:"timeout"`
		DrainInterval string `yaml:"drain_interval"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Warming struct {
		Enabled       *bool    `yaml:"enabled"`
		Interval      string   `yaml:"interval"`
		TrackedPlaces []string `yaml:"tracked_places"`
	} `yaml:"warming"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	RedisPassword string `yaml:"redis_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file, if present, is loaded first so local overrides work without exporting.
// API key comes from WEATHER_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	var sec secretsFile
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	if secretsData, err := os.ReadFile(secretsPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		cfg.WeatherAPIKey = sec.WeatherAPIKey
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.GeocodeURL = fc.WeatherAPI.GeocodeURL
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = "https://api.openweathermap.org/geo/1.0/direct"
	}
	cfg.CurrentURL = fc.WeatherAPI.CurrentURL
	if cfg.CurrentURL == "" {
		cfg.CurrentURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.ForecastURL = fc.WeatherAPI.ForecastURL
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = "https://api.openweathermap.org/data/2.5/forecast"
	}
	cfg.AirQualityURL = fc.WeatherAPI.AirQualityURL
	if cfg.AirQualityURL == "" {
		cfg.AirQualityURL = "https://api.openweathermap.org/data/2.5/air_pollution"
	}

	cfg.GeocodeTimeout = parseDuration(fc.WeatherAPI.GeocodeTimeout, 3*time.Second)
	cfg.CurrentTimeout = parseDurationOrZero(fc.WeatherAPI.CurrentTimeout, 2*time.Second)
	cfg.ForecastTimeout = parseDuration(fc.WeatherAPI.ForecastTimeout, 4*time.Second)
	cfg.AirTimeout = parseDuration(fc.WeatherAPI.AirTimeout, time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)
	cfg.PlaceMaxLength = fc.Request.PlaceMaxLength
	if cfg.PlaceMaxLength <= 0 {
		cfg.PlaceMaxLength = 100
	}

	cfg.WeatherTTL = parseDuration(fc.Cache.WeatherTTL, 3*time.Minute)
	cfg.GeocodeTTL = parseDuration(fc.Cache.GeocodeTTL, 24*time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = strings.TrimSpace(fc.Cache.Redis.Addr)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = sec.RedisPassword
	}
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = fc.Cache.Redis.Password
	}
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreakerEnabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreakerEnabled
	}
	cfg.CircuitBreakerThreshold = fc.Reliability.CircuitBreakerThreshold
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	cfg.CircuitBreakerCooldown = parseDuration(fc.Reliability.CircuitBreakerCooldown, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.DrainInterval = parseDuration(fc.Shutdown.DrainInterval, 100*time.Millisecond)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.WarmCache = false
	if fc.Warming.Enabled != nil {
		cfg.WarmCache = *fc.Warming.Enabled
	}
	cfg.WarmInterval = parseDuration(fc.Warming.Interval, 5*time.Minute)
	cfg.TrackedPlaces = fc.Warming.TrackedPlaces

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures CurrentTimeout is positive, RequestTimeout covers the slowest
// awaited leg, and CacheBackend is a valid value. Auto-adjusts
// RequestTimeout if needed.
func validate(cfg *Config) error {
	if cfg.CurrentTimeout <= 0 {
		return fmt.Errorf("weather_api.current_timeout must be positive")
	}
	slowest := cfg.CurrentTimeout
	if cfg.ForecastTimeout > slowest {
		slowest = cfg.ForecastTimeout
	}
	if cfg.GeocodeTimeout > slowest {
		slowest = cfg.GeocodeTimeout
	}
	if cfg.RequestTimeout <= slowest {
		cfg.RequestTimeout = slowest + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	return nil
}
