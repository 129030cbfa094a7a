// Package config loads cadbridge settings from defaults, an optional YAML
// file and CADBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "cadbridge/internal/errors"
	"cadbridge/internal/observability"
	"cadbridge/internal/onshape"
	"cadbridge/internal/tokenstore"
)

const (
	EnvPrefix         = "CADBRIDGE"
	DefaultBaseURL    = "https://cad.onshape.com"
	DefaultDirName    = ".cadbridge"
	DefaultConfigFile = "config.yaml"
	DefaultTokenFile  = "token.json"
)

// Config is the full set of cadbridge settings.
type Config struct {
	API        APIConfig                   `yaml:"api" mapstructure:"api"`
	Log        LogConfig                   `yaml:"log" mapstructure:"log"`
	Tracing    observability.TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Export     onshape.ExportOptions       `yaml:"export" mapstructure:"export"`
	Token      TokenConfig                 `yaml:"token" mapstructure:"token"`
	Thumbnails ThumbnailConfig             `yaml:"thumbnails" mapstructure:"thumbnails"`
	Bridge     BridgeConfig                `yaml:"bridge" mapstructure:"bridge"`
}

type APIConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	CookieDomain      string        `yaml:"cookie_domain" mapstructure:"cookie_domain"`
	CookieSecure      bool          `yaml:"cookie_secure" mapstructure:"cookie_secure"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRedirects      int           `yaml:"max_redirects" mapstructure:"max_redirects"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	CircuitBreaker    BreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Breaker returns the breaker settings, or nil when the breaker is disabled.
func (b BreakerConfig) Breaker() *apperrors.CircuitBreakerConfig {
	if !b.Enabled {
		return nil
	}
	cfg := apperrors.DefaultCircuitBreakerConfig()
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.Timeout > 0 {
		cfg.Timeout = b.Timeout
	}
	return &cfg
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type TokenConfig struct {
	Backend       string `yaml:"backend" mapstructure:"backend"`
	File          string `yaml:"file" mapstructure:"file"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	RedisKey      string `yaml:"redis_key" mapstructure:"redis_key"`
}

// StoreConfig converts the settings for tokenstore.Open.
func (t TokenConfig) StoreConfig() tokenstore.Config {
	return tokenstore.Config{
		Backend:       t.Backend,
		File:          t.File,
		RedisAddr:     t.RedisAddr,
		RedisPassword: t.RedisPassword,
		RedisDB:       t.RedisDB,
		RedisKey:      t.RedisKey,
	}
}

type ThumbnailConfig struct {
	CacheSize           int           `yaml:"cache_size" mapstructure:"cache_size"`
	TTL                 time.Duration `yaml:"ttl" mapstructure:"ttl"`
	PrefetchConcurrency int           `yaml:"prefetch_concurrency" mapstructure:"prefetch_concurrency"`
}

type BridgeConfig struct {
	Addr string   `yaml:"addr" mapstructure:"addr"`
	CORS []string `yaml:"cors" mapstructure:"cors"`
}

// Loaded is a Config plus where it came from.
type Loaded struct {
	Config
	// Path is the config file in effect, whether or not it exists yet.
	Path string
	// FromFile reports whether Path was read.
	FromFile bool
}

type loadOptions struct {
	configPath string
	homeDir    func() (string, error)
}

// Option customises Load.
type Option func(*loadOptions)

// WithConfigPath reads path instead of $HOME/.cadbridge/config.yaml.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = strings.TrimSpace(path)
	}
}

// WithHomeDir overrides home directory resolution.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		if resolver != nil {
			o.homeDir = resolver
		}
	}
}

func setDefaults(v *viper.Viper, home string) {
	dir := filepath.Join(home, DefaultDirName)
	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.cookie_domain", ".onshape.com")
	v.SetDefault("api.cookie_secure", true)
	v.SetDefault("api.timeout", 60*time.Second)
	v.SetDefault("api.max_redirects", 5)
	v.SetDefault("api.max_body_bytes", int64(512<<20))
	v.SetDefault("api.requests_per_second", 0.0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("api.circuit_breaker.enabled", false)
	v.SetDefault("api.circuit_breaker.failure_threshold", 5)
	v.SetDefault("api.circuit_breaker.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.zipkin_endpoint", "http://localhost:9411/api/v2/spans")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "cadbridge")
	v.SetDefault("tracing.service_version", "dev")

	v.SetDefault("export.scale", "1")
	v.SetDefault("export.units", onshape.DefaultUnits)
	v.SetDefault("export.angle", "")
	v.SetDefault("export.chord", "")
	v.SetDefault("export.max_facet", "")
	v.SetDefault("export.min_facet", "")

	v.SetDefault("token.backend", tokenstore.BackendFile)
	v.SetDefault("token.file", filepath.Join(dir, DefaultTokenFile))
	v.SetDefault("token.redis_addr", "localhost:6379")
	v.SetDefault("token.redis_password", "")
	v.SetDefault("token.redis_db", 0)
	v.SetDefault("token.redis_key", tokenstore.DefaultRedisKey)

	v.SetDefault("thumbnails.cache_size", 512)
	v.SetDefault("thumbnails.ttl", 10*time.Minute)
	v.SetDefault("thumbnails.prefetch_concurrency", 4)

	v.SetDefault("bridge.addr", "127.0.0.1:8765")
	v.SetDefault("bridge.cors", []string{"http://localhost:5173"})
}

// Load resolves defaults, the YAML file and environment overrides, in that
// order of increasing precedence, and validates the result.
func Load(opts ...Option) (Loaded, error) {
	options := loadOptions{homeDir: os.UserHomeDir}
	for _, opt := range opts {
		opt(&options)
	}

	home, err := options.homeDir()
	if err != nil {
		return Loaded{}, fmt.Errorf("resolve home directory: %w", err)
	}
	path := options.configPath
	if path == "" {
		path = filepath.Join(home, DefaultDirName, DefaultConfigFile)
	}

	v := viper.New()
	setDefaults(v, home)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	loaded := Loaded{Path: path}
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) && !isConfigNotFound(err) {
			return Loaded{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		loaded.FromFile = true
	}

	if err := v.Unmarshal(&loaded.Config); err != nil {
		return Loaded{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&loaded.Config)
	if err := loaded.Config.Validate(); err != nil {
		return Loaded{}, err
	}
	return loaded, nil
}

func isConfigNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}

func normalize(cfg *Config) {
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	cfg.API.CookieDomain = strings.TrimSpace(cfg.API.CookieDomain)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Token.Backend = strings.ToLower(strings.TrimSpace(cfg.Token.Backend))
	cfg.Token.File = expandHome(strings.TrimSpace(cfg.Token.File))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.MaxRedirects < 0 {
		return fmt.Errorf("api.max_redirects must not be negative, got %d", c.API.MaxRedirects)
	}
	if c.API.MaxBodyBytes < 0 {
		return fmt.Errorf("api.max_body_bytes must not be negative, got %d", c.API.MaxBodyBytes)
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must not be negative, got %v", c.API.RequestsPerSecond)
	}
	switch c.Token.Backend {
	case tokenstore.BackendFile:
		if c.Token.File == "" {
			return fmt.Errorf("token.file is required for the file backend")
		}
	case tokenstore.BackendMemory:
	case tokenstore.BackendRedis:
		if c.Token.RedisAddr == "" {
			return fmt.Errorf("token.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown token.backend %q (want file, memory or redis)", c.Token.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	return nil
}

// Logging converts the log settings for observability.NewLogger.
func (l LogConfig) Logging() observability.LogConfig {
	return observability.LogConfig{Level: l.Level, Format: l.Format}
}
