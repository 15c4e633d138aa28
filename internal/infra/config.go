package infra

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"market_cache/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent identifies this service to upstream APIs
	DefaultUserAgent = "market-cache/1.0 (+https://github.com/market-cache)"

	// MaxTimerDelayMS is the largest delay a 32-bit signed millisecond timer can hold.
	MaxTimerDelayMS = math.MaxInt32
)

// Config holds every setting of the service.
// Secrets from the environment override values loaded from the file.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Price struct {
			URL string `yaml:"url"`
			Key string `yaml:"key"`
		} `yaml:"price"`
		Pools struct {
			URL     string `yaml:"url"`
			Key     string `yaml:"key"`
			Network string `yaml:"network"`
		} `yaml:"pools"`
		Collections struct {
			ListingURL string `yaml:"listing_url"`
			DetailURL  string `yaml:"detail_url"`
		} `yaml:"collections"`
		TimeoutSec int `yaml:"timeout_sec"`
	} `yaml:"api"`

	Currencies struct {
		From []string `yaml:"from"`
		To   []string `yaml:"to"`
		Base string   `yaml:"base"`
	} `yaml:"currencies"`

	Refresh struct {
		BackoffCapMS       int64   `yaml:"backoff_cap_ms"`
		PriceIntervalMS    int64   `yaml:"price_interval_ms"`
		DailyIntervalMS    int64   `yaml:"daily_interval_ms"`
		HourlyIntervalMS   int64   `yaml:"hourly_interval_ms"`
		PoolsIntervalMS    int64   `yaml:"pools_interval_ms"`
		ListingIntervalMS  int64   `yaml:"listing_interval_ms"`
		EnrichIntervalMS   int64   `yaml:"enrich_interval_ms"`
		EnrichWindow       int     `yaml:"enrich_window"`
		EnrichPerSecond    float64 `yaml:"enrich_per_second"`
		DailyLimit         int     `yaml:"daily_limit"`
		HourlyLimit        int     `yaml:"hourly_limit"`
		RealignGraceSec    int     `yaml:"realign_grace_sec"`
		OnDemandTimeoutSec int     `yaml:"on_demand_timeout_sec"`
	} `yaml:"refresh"`

	Server struct {
		Addr            string  `yaml:"addr"`
		RequestsPerSec  float64 `yaml:"requests_per_sec"`
		Burst           int     `yaml:"burst"`
		LogoDir         string  `yaml:"logo_dir"`
		LogoSize        int     `yaml:"logo_size"`
		LogoWarmCount   int     `yaml:"logo_warm_count"`
		StreamBufferLen int     `yaml:"stream_buffer_len"`
	} `yaml:"server"`

	Storage struct {
		// DSN of the refresh run log. An in-memory database keeps the cache volatile.
		DSN string `yaml:"dsn"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings the service runs with when no file overrides them.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "market-cache"
	cfg.App.Version = "1.0.0"

	cfg.API.Price.URL = "https://min-api.cryptocompare.com"
	cfg.API.Pools.URL = "https://js.adapools.org"
	cfg.API.Pools.Network = "mainnet"
	cfg.API.Collections.ListingURL = "https://cnft-predator.herokuapp.com/collections"
	cfg.API.Collections.DetailURL = "https://api.opencnft.io/1/policy"
	cfg.API.TimeoutSec = 10

	cfg.Currencies.From = []string{"ADA", "SOL", "ETH"}
	cfg.Currencies.To = []string{"USD", "JPY", "EUR"}
	cfg.Currencies.Base = "USD"

	cfg.Refresh.BackoffCapMS = int64(time.Hour / time.Millisecond)
	cfg.Refresh.PriceIntervalMS = 60_000
	cfg.Refresh.DailyIntervalMS = int64(6 * time.Hour / time.Millisecond)
	cfg.Refresh.HourlyIntervalMS = int64(15 * time.Minute / time.Millisecond)
	cfg.Refresh.PoolsIntervalMS = int64(10 * time.Minute / time.Millisecond)
	cfg.Refresh.ListingIntervalMS = int64(6 * time.Hour / time.Millisecond)
	cfg.Refresh.EnrichIntervalMS = 60_000
	cfg.Refresh.EnrichWindow = 20
	cfg.Refresh.EnrichPerSecond = 2
	cfg.Refresh.DailyLimit = domain.MaxDailyPoints
	cfg.Refresh.HourlyLimit = domain.MaxHourlyPoints
	cfg.Refresh.RealignGraceSec = 60
	cfg.Refresh.OnDemandTimeoutSec = 5

	cfg.Server.Addr = ":8082"
	cfg.Server.RequestsPerSec = 20
	cfg.Server.Burst = 40
	cfg.Server.LogoDir = "assets/logos"
	cfg.Server.LogoSize = 64
	cfg.Server.LogoWarmCount = 50
	cfg.Server.StreamBufferLen = 4

	cfg.Storage.DSN = "file::memory:?cache=shared"

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads path on top of DefaultConfig, applies .env and
// environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// Missing file: defaults plus environment only
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: path, Err: err}
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()
	overrideWithEnv(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) normalize() {
	for i, s := range c.Currencies.From {
		c.Currencies.From[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i, s := range c.Currencies.To {
		c.Currencies.To[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	c.Currencies.Base = strings.ToUpper(strings.TrimSpace(c.Currencies.Base))
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Currencies
	if len(c.Currencies.From) == 0 {
		return &domain.ConfigError{Field: "currencies.from", Err: errors.New("at least one currency is required")}
	}
	if len(c.Currencies.To) == 0 {
		return &domain.ConfigError{Field: "currencies.to", Err: errors.New("at least one currency is required")}
	}
	if !domain.Contains(c.Currencies.To, c.Currencies.Base) {
		return &domain.ConfigError{Field: "currencies.base", Err: fmt.Errorf("%q is not in currencies.to", c.Currencies.Base)}
	}

	// Upstreams
	for field, u := range map[string]string{
		"api.price.url":               c.API.Price.URL,
		"api.pools.url":               c.API.Pools.URL,
		"api.collections.listing_url": c.API.Collections.ListingURL,
		"api.collections.detail_url":  c.API.Collections.DetailURL,
	} {
		if !isHTTPURL(u) {
			return &domain.ConfigError{Field: field, Err: fmt.Errorf("invalid URL: %q", u)}
		}
	}

	// Refresh
	intervals := map[string]int64{
		"refresh.backoff_cap_ms":      c.Refresh.BackoffCapMS,
		"refresh.price_interval_ms":   c.Refresh.PriceIntervalMS,
		"refresh.daily_interval_ms":   c.Refresh.DailyIntervalMS,
		"refresh.hourly_interval_ms":  c.Refresh.HourlyIntervalMS,
		"refresh.pools_interval_ms":   c.Refresh.PoolsIntervalMS,
		"refresh.listing_interval_ms": c.Refresh.ListingIntervalMS,
		"refresh.enrich_interval_ms":  c.Refresh.EnrichIntervalMS,
	}
	for field, v := range intervals {
		if v <= 0 {
			return &domain.ConfigError{Field: field, Err: errors.New("must be positive")}
		}
	}
	if c.Refresh.EnrichWindow < 1 {
		return &domain.ConfigError{Field: "refresh.enrich_window", Err: errors.New("must be at least 1")}
	}
	if c.Refresh.EnrichPerSecond <= 0 {
		return &domain.ConfigError{Field: "refresh.enrich_per_second", Err: errors.New("must be positive")}
	}
	if c.Refresh.DailyLimit < 1 || c.Refresh.DailyLimit > domain.MaxDailyPoints {
		return &domain.ConfigError{Field: "refresh.daily_limit", Err: fmt.Errorf("must be within 1..%d", domain.MaxDailyPoints)}
	}
	if c.Refresh.HourlyLimit < 1 || c.Refresh.HourlyLimit > domain.MaxHourlyPoints {
		return &domain.ConfigError{Field: "refresh.hourly_limit", Err: fmt.Errorf("must be within 1..%d", domain.MaxHourlyPoints)}
	}
	if c.Refresh.RealignGraceSec < 0 || c.Refresh.RealignGraceSec >= 3600 {
		return &domain.ConfigError{Field: "refresh.realign_grace_sec", Err: errors.New("must be within 0..3599")}
	}

	// Server
	if c.Server.Addr == "" {
		return &domain.ConfigError{Field: "server.addr", Err: errors.New("required")}
	}

	return nil
}

// BackoffCap returns the configured cap clamped to the 32-bit timer limit.
func (c *Config) BackoffCap() time.Duration {
	capMS := c.Refresh.BackoffCapMS
	if capMS > MaxTimerDelayMS {
		capMS = MaxTimerDelayMS
	}
	return time.Duration(capMS) * time.Millisecond
}

// Interval converts a millisecond setting to a duration.
func Interval(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// overrideWithEnv replaces settings with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("MARKET_PRICE_API_KEY"); key != "" {
		cfg.API.Price.Key = key
	}
	if key := os.Getenv("MARKET_POOLS_API_KEY"); key != "" {
		cfg.API.Pools.Key = key
	}
	if addr := os.Getenv("MARKET_HTTP_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("MARKET_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
