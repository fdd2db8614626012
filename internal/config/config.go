// Package config loads the settings of the zgraph command line tool.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/rezakhademix/zgraph"
)

const (
	// DefaultFile is read when no config file is given and it exists.
	DefaultFile = "zgraph.yaml"

	// EnvPrefix prefixes environment overrides: ZGRAPH_DSN, ZGRAPH_POOL_MAX_OPEN.
	EnvPrefix = "ZGRAPH_"
)

// Config holds the connection, schema and engine settings.
type Config struct {
	Driver           string `koanf:"driver"`
	DSN              string `koanf:"dsn"`
	Dialect          string `koanf:"dialect"`
	Schema           string `koanf:"schema"`
	LogLevel         string `koanf:"log_level"`
	StmtCacheSize    int    `koanf:"stmt_cache_size"`
	FetchConcurrency int    `koanf:"fetch_concurrency"`
	Pool             Pool   `koanf:"pool"`

	// File is the config file that was read, empty when none was.
	File string `koanf:"-"`
}

// Pool holds connection pool limits. Zero values keep the driver defaults.
type Pool struct {
	MaxOpen     int           `koanf:"max_open"`
	MaxIdle     int           `koanf:"max_idle"`
	MaxLifetime time.Duration `koanf:"max_lifetime"`
	MaxIdleTime time.Duration `koanf:"max_idle_time"`
}

func defaults() map[string]any {
	return map[string]any{
		"driver":            "sqlite3",
		"dsn":               "",
		"dialect":           "",
		"schema":            "schema.yaml",
		"log_level":         "info",
		"stmt_cache_size":   0,
		"fetch_concurrency": 0,
	}
}

// Load reads the configuration. Precedence, highest first: flags that were
// explicitly set, ZGRAPH_ environment variables, the config file, defaults.
// An empty path falls back to DefaultFile when it exists.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := path
	if used == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			used = DefaultFile
		}
	}
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps ZGRAPH_POOL_MAX_OPEN to pool.max_open.
func envKey(s string) string {
	return nestPool(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)))
}

// flagKey maps --pool-max-open to pool.max_open.
func flagKey(name string) string {
	return nestPool(strings.ReplaceAll(name, "-", "_"))
}

func nestPool(key string) string {
	if rest, ok := strings.CutPrefix(key, "pool_"); ok {
		return "pool." + rest
	}
	return key
}

// Validate checks values that cannot be decoded into a working client.
func (c *Config) Validate() error {
	var errs []error
	if c.Driver == "" {
		errs = append(errs, errors.New("driver is required"))
	}
	if _, err := c.ResolveDialect(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.StmtCacheSize < 0 {
		errs = append(errs, fmt.Errorf("stmt_cache_size must not be negative, got %d", c.StmtCacheSize))
	}
	if c.FetchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("fetch_concurrency must not be negative, got %d", c.FetchConcurrency))
	}
	if c.Pool.MaxOpen < 0 || c.Pool.MaxIdle < 0 {
		errs = append(errs, errors.New("pool sizes must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ResolveDialect returns the configured dialect, or the one matching the
// driver when none is set.
func (c *Config) ResolveDialect() (*zgraph.Dialect, error) {
	if c.Dialect != "" {
		return zgraph.LookupDialect(c.Dialect)
	}
	if d, err := zgraph.LookupDialect(c.Driver); err == nil {
		return d, nil
	}
	return zgraph.Dialects.Default, nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// PoolConfig converts the pool section for zgraph.Open.
func (c *Config) PoolConfig() *zgraph.PoolConfig {
	return &zgraph.PoolConfig{
		MaxOpenConns:    c.Pool.MaxOpen,
		MaxIdleConns:    c.Pool.MaxIdle,
		ConnMaxLifetime: c.Pool.MaxLifetime,
		ConnMaxIdleTime: c.Pool.MaxIdleTime,
	}
}

// ClientOptions returns the client options implied by the configuration.
// The statement cache is only created when stmt_cache_size is positive.
func (c *Config) ClientOptions(logger *slog.Logger) ([]zgraph.Option, *zgraph.StmtCache, error) {
	d, err := c.ResolveDialect()
	if err != nil {
		return nil, nil, err
	}
	opts := []zgraph.Option{zgraph.WithDialect(d), zgraph.WithFetchConcurrency(c.FetchConcurrency)}
	if logger != nil {
		opts = append(opts, zgraph.WithLogger(logger))
	}
	var cache *zgraph.StmtCache
	if c.StmtCacheSize > 0 {
		cache = zgraph.NewStmtCache(c.StmtCacheSize)
		opts = append(opts, zgraph.WithStmtCache(cache))
	}
	return opts, cache, nil
}
