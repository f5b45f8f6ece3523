// Package config loads the gateway configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/marketgate/pkg/cache"
	"github.com/Sternrassler/marketgate/pkg/logging"
	"github.com/Sternrassler/marketgate/pkg/ratelimit"
)

// Counter stores accepted by RATE_LIMIT_STORE.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all gateway configuration.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	RedisURL string `env:"REDIS_URL" envDefault:"localhost:6379"`

	Upstream    UpstreamConfig    `envPrefix:"UPSTREAM_"`
	Cache       CacheConfig       `envPrefix:"CACHE_"`
	RateLimit   RateLimitConfig   `envPrefix:"RATE_LIMIT_"`
	FailedLogin FailedLoginConfig `envPrefix:"FAILED_LOGIN_"`
	Log         LogConfig         `envPrefix:"LOG_"`

	// RoleHeader carries the authenticated user's role, set by the
	// application's auth layer in front of the gateway.
	RoleHeader   string `env:"ROLE_HEADER" envDefault:"X-User-Role"`
	ElevatedRole string `env:"ELEVATED_ROLE" envDefault:"admin"`

	// AdminToken authorises the cache admin endpoint; empty leaves the
	// endpoint unmounted.
	AdminToken string `env:"ADMIN_TOKEN"`
}

// UpstreamConfig holds the proxied application settings.
type UpstreamConfig struct {
	URL         string        `env:"URL,required"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
}

// CacheConfig holds read-through cache settings.
type CacheConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"250ms"`
	MaxBodyBytes int           `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	TTL          TTLConfig     `envPrefix:"TTL_"`
}

// TTLConfig holds the TTL of each data category.
type TTLConfig struct {
	Default time.Duration `env:"DEFAULT" envDefault:"5m"`
	Listing time.Duration `env:"LISTING" envDefault:"5m"`
	Search  time.Duration `env:"SEARCH" envDefault:"2m"`
	Detail  time.Duration `env:"DETAIL" envDefault:"1h"`
	Daily   time.Duration `env:"DAILY" envDefault:"24h"`
	Static  time.Duration `env:"STATIC" envDefault:"1h"`
}

// RateLimitConfig holds limiter settings.
type RateLimitConfig struct {
	// Disabled bypasses every limiter. Load tests only.
	Disabled bool   `env:"DISABLED" envDefault:"false"`
	Store    string `env:"STORE" envDefault:"memory"`

	Auth         PolicyConfig `envPrefix:"AUTH_"`
	Registration PolicyConfig `envPrefix:"REGISTRATION_"`
	API          PolicyConfig `envPrefix:"API_"`
	Bulk         PolicyConfig `envPrefix:"BULK_"`
}

// PolicyConfig overrides a preset policy; zero values keep the preset.
type PolicyConfig struct {
	Window time.Duration `env:"WINDOW"`
	Max    int           `env:"MAX"`
}

// FailedLoginConfig holds failed-login tracker settings.
type FailedLoginConfig struct {
	Window        time.Duration `env:"WINDOW" envDefault:"24h"`
	Threshold     int           `env:"THRESHOLD" envDefault:"50"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Pretty bool   `env:"PRETTY" envDefault:"false"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads configuration from the given variables instead of the
// process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Upstream.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("UPSTREAM_URL must be an absolute http(s) URL, got %q", c.Upstream.URL))
	}
	if c.Upstream.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("UPSTREAM_MAX_ATTEMPTS must be at least 1, got %d", c.Upstream.MaxAttempts))
	}
	if c.Cache.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TIMEOUT must be positive, got %v", c.Cache.Timeout))
	}
	if c.Cache.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_MAX_BODY_BYTES must be positive, got %d", c.Cache.MaxBodyBytes))
	}

	switch c.RateLimit.Store {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.RateLimit.Store))
	}
	if c.UsesRedis() && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required when the cache or the redis rate limit store is enabled"))
	}

	for name, p := range map[string]PolicyConfig{
		"AUTH":         c.RateLimit.Auth,
		"REGISTRATION": c.RateLimit.Registration,
		"API":          c.RateLimit.API,
		"BULK":         c.RateLimit.Bulk,
	} {
		if p.Window < 0 || p.Max < 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_%s_WINDOW and _MAX must not be negative", name))
		}
	}

	if c.FailedLogin.Window <= 0 || c.FailedLogin.Threshold <= 0 || c.FailedLogin.SweepInterval <= 0 {
		errs = append(errs, errors.New("FAILED_LOGIN_WINDOW, _THRESHOLD and _SWEEP_INTERVAL must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// UsesRedis reports whether any component needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Cache.Enabled || c.RateLimit.Store == StoreRedis
}

// RedisOptions converts REDIS_URL, either a redis:// URL or a bare
// host:port, into client options. Context deadlines are honoured so
// CACHE_TIMEOUT bounds every store call instead of the client's socket
// timeouts.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts := &redis.Options{Addr: c.RedisURL}
	if strings.Contains(c.RedisURL, "://") {
		parsed, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	}
	opts.ContextTimeoutEnabled = true
	return opts, nil
}

// TTLs returns the cache TTL table.
func (c CacheConfig) TTLs() cache.TTLTable {
	return cache.TTLTable{
		cache.CategoryDefault: c.TTL.Default,
		cache.CategoryListing: c.TTL.Listing,
		cache.CategorySearch:  c.TTL.Search,
		cache.CategoryDetail:  c.TTL.Detail,
		cache.CategoryDaily:   c.TTL.Daily,
		cache.CategoryStatic:  c.TTL.Static,
	}
}

// Apply overrides the preset's window and max where configured.
func (p PolicyConfig) Apply(preset ratelimit.Policy) ratelimit.Policy {
	if p.Window > 0 {
		preset.Window = p.Window
	}
	if p.Max > 0 {
		preset.Max = p.Max
	}
	return preset
}

// Logging returns the logger configuration.
func (c LogConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Level)
	cfg.Pretty = c.Pretty
	cfg.Service = "marketgate"
	return cfg
}
