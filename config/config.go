// Package config loads the coordination layer's tunables from the
// environment. A .env file, when present, is read first; variables already
// set in the environment win.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/IvanBrykalov/coord/errs"
)

// Config holds every externally tunable knob.
type Config struct {
	MaxConcurrentOperations int  `env:"COORD_MAX_CONCURRENT_OPERATIONS" envDefault:"10"`
	EnableCaching           bool `env:"COORD_ENABLE_CACHING" envDefault:"true"`

	CacheMaxSize int           `env:"COORD_CACHE_MAX_SIZE" envDefault:"128"`
	CacheTTL     time.Duration `env:"COORD_CACHE_TTL" envDefault:"5m"`
	CacheShards  int           `env:"COORD_CACHE_SHARDS" envDefault:"1"`

	RetryMaxAttempts int           `env:"COORD_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"COORD_RETRY_BASE_DELAY" envDefault:"1s"`

	RateLimitRPS   float64 `env:"COORD_RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"COORD_RATE_LIMIT_BURST" envDefault:"20"`

	PoolMaxResources   int     `env:"COORD_POOL_MAX_RESOURCES" envDefault:"10"`
	MemoryThreshold    float64 `env:"COORD_MEMORY_THRESHOLD" envDefault:"0.85"`
	MaxConcurrentRaces int     `env:"COORD_MAX_CONCURRENT_RACES" envDefault:"4"`

	Repositories []string `env:"COORD_TEMPLATE_REPOSITORIES" envSeparator:","`
	CatalogPath  string   `env:"COORD_CATALOG_PATH"`
}

// Load reads files (default ".env", skipped when missing) into the process
// environment and parses Config from it.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return parse(env.Options{})
}

// MustLoad is Load that panics on error.
func MustLoad(files ...string) Config {
	cfg, err := Load(files...)
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromMap parses Config from vars alone, ignoring the process environment.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var problems []error
	positive := func(name string, v int) {
		if v <= 0 {
			problems = append(problems, errs.Invalid("%s must be > 0, got %d", name, v))
		}
	}
	positive("COORD_MAX_CONCURRENT_OPERATIONS", c.MaxConcurrentOperations)
	positive("COORD_CACHE_MAX_SIZE", c.CacheMaxSize)
	positive("COORD_CACHE_SHARDS", c.CacheShards)
	positive("COORD_RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts)
	positive("COORD_RATE_LIMIT_BURST", c.RateLimitBurst)
	positive("COORD_POOL_MAX_RESOURCES", c.PoolMaxResources)
	positive("COORD_MAX_CONCURRENT_RACES", c.MaxConcurrentRaces)

	if c.CacheTTL <= 0 {
		problems = append(problems, errs.Invalid("COORD_CACHE_TTL must be > 0, got %s", c.CacheTTL))
	}
	if c.RetryBaseDelay < 0 {
		problems = append(problems, errs.Invalid("COORD_RETRY_BASE_DELAY must be >= 0, got %s", c.RetryBaseDelay))
	}
	if c.RateLimitRPS <= 0 {
		problems = append(problems, errs.Invalid("COORD_RATE_LIMIT_RPS must be > 0, got %v", c.RateLimitRPS))
	}
	if c.MemoryThreshold <= 0 || c.MemoryThreshold > 1 {
		problems = append(problems, errs.Invalid("COORD_MEMORY_THRESHOLD must be in (0, 1], got %v", c.MemoryThreshold))
	}
	return errors.Join(problems...)
}

// LogValue implements slog.LogValuer.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("max_concurrent_operations", c.MaxConcurrentOperations),
		slog.Bool("enable_caching", c.EnableCaching),
		slog.Int("cache_max_size", c.CacheMaxSize),
		slog.Duration("cache_ttl", c.CacheTTL),
		slog.Int("retry_max_attempts", c.RetryMaxAttempts),
		slog.Float64("rate_limit_rps", c.RateLimitRPS),
		slog.Int("pool_max_resources", c.PoolMaxResources),
		slog.Int("max_concurrent_races", c.MaxConcurrentRaces),
	)
}
