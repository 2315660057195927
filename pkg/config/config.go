// Package config loads the manuals-proxy configuration.
//
// Settings come from three layers, later layers winning: built-in
// defaults, an optional YAML file, and MANUALS_* environment variables
// (e.g. MANUALS_API_URL for api.url). Durations are Go duration strings
// such as "5m" or "1500ms".
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/manuals-client/pkg/cache"
	"github.com/Sternrassler/manuals-client/pkg/logging"
	"github.com/Sternrassler/manuals-client/pkg/retry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MANUALS_"

var (
	// ErrInvalidConfig indicates a configuration that failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ServerConfig configures the proxy listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// APIConfig configures the upstream Manuals API.
type APIConfig struct {
	URL       string        `yaml:"url"`
	Key       string        `yaml:"key"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RedisConfig configures the shared key-value store. An empty Addr keeps
// state in memory.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HistoryConfig configures the search history.
type HistoryConfig struct {
	MaxItems int `yaml:"max_items"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  logging.LogLevel `yaml:"level"`
	Pretty bool             `yaml:"pretty"`
}

// Config is the complete proxy configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Cache   cache.Config  `yaml:"cache"`
	Retry   retry.Config  `yaml:"retry"`
	Redis   RedisConfig   `yaml:"redis"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
		},
		API: APIConfig{
			URL:       "http://localhost:8080",
			UserAgent: "manuals-client/0.1.0",
			Timeout:   30 * time.Second,
		},
		Cache: cache.DefaultConfig(),
		Retry: retry.DefaultConfig(),
		Redis: RedisConfig{
			KeyPrefix: "manuals:",
		},
		History: HistoryConfig{
			MaxItems: 10,
		},
		Log: LogConfig{
			Level: logging.LevelInfo,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LookupFunc returns an environment value. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with MANUALS_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_HOST", &cfg.Server.Host)
	integer("SERVER_PORT", &cfg.Server.Port)
	duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	str("API_URL", &cfg.API.URL)
	str("API_KEY", &cfg.API.Key)
	str("API_USER_AGENT", &cfg.API.UserAgent)
	duration("API_TIMEOUT", &cfg.API.Timeout)

	boolean("CACHE_ENABLED", &cfg.Cache.Enabled)
	duration("CACHE_DEFAULT_TTL", &cfg.Cache.DefaultTTL)
	integer("CACHE_MAX_SIZE", &cfg.Cache.MaxSize)

	integer("RETRY_MAX_RETRIES", &cfg.Retry.MaxRetries)
	duration("RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)
	duration("RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	integer("REDIS_DB", &cfg.Redis.DB)
	str("REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)

	integer("HISTORY_MAX_ITEMS", &cfg.History.MaxItems)

	level := string(cfg.Log.Level)
	str("LOG_LEVEL", &level)
	cfg.Log.Level = logging.LogLevel(level)
	boolean("LOG_PRETTY", &cfg.Log.Pretty)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration for values the proxy cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	if c.API.URL == "" {
		errs = append(errs, errors.New("api.url is required"))
	} else if u, err := url.Parse(c.API.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.url %q must be an absolute URL", c.API.URL))
	}
	if c.API.UserAgent == "" {
		errs = append(errs, errors.New("api.user_agent is required"))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, errors.New("api.timeout must not be negative"))
	}

	if c.Cache.MaxSize < 0 {
		errs = append(errs, errors.New("cache.max_size must not be negative"))
	}
	if c.Cache.DefaultTTL < 0 {
		errs = append(errs, errors.New("cache.default_ttl must not be negative"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.History.MaxItems < 0 {
		errs = append(errs, errors.New("history.max_items must not be negative"))
	}

	if !c.Log.Level.Valid() {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
