package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all the configuration for the proxy.
// The structure tags (mapstructure) tell Viper which key maps to which Go struct field.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Static    StaticConfig    `mapstructure:"static"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`

	// TrustProxy honours X-Forwarded-For / X-Real-IP. Only enable behind a
	// proxy that overwrites them.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

type UpstreamConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"` // 0 = transport default
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Failures    uint32        `mapstructure:"failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type MetricsConfig struct {
	Secret     string `mapstructure:"secret"`
	File       string `mapstructure:"file"`
	Capacity   int    `mapstructure:"capacity"`
	QueueSize  int    `mapstructure:"queue_size"`
	Prometheus bool   `mapstructure:"prometheus"`
}

type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	HistoryKey string `mapstructure:"history_key"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"requests_per_second"`
	Burst   int     `mapstructure:"burst"`
}

type StaticConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type TokensConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// IsProduction reports whether the service runs in production mode.
// Production gates the metrics endpoints and hides error details.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Server.Env)) {
	case "production", "prod":
		return true
	}
	return false
}

// Addr returns the listen address derived from the port setting.
func (c *Config) Addr() string {
	if strings.Contains(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}

// envBindings maps config keys to the environment variables that feed them.
// Multiple names are tried in order.
var envBindings = map[string][]string{
	"server.port":                   {"PORT"},
	"server.env":                    {"ENV", "NODE_ENV"},
	"server.trust_proxy":            {"TRUST_PROXY"},
	"upstream.api_key":              {"GEMINI_API_KEY"},
	"upstream.base_url":             {"GEMINI_BASE_URL"},
	"upstream.model":                {"GEMINI_MODEL"},
	"upstream.timeout":              {"UPSTREAM_TIMEOUT"},
	"upstream.breaker.enabled":      {"UPSTREAM_BREAKER_ENABLED"},
	"upstream.breaker.failures":     {"UPSTREAM_BREAKER_FAILURES"},
	"upstream.breaker.open_timeout": {"UPSTREAM_BREAKER_OPEN_TIMEOUT"},
	"metrics.secret":                {"METRICS_SECRET"},
	"metrics.file":                  {"METRICS_FILE"},
	"metrics.capacity":              {"METRICS_CAPACITY"},
	"metrics.queue_size":            {"METRICS_QUEUE_SIZE"},
	"metrics.prometheus":            {"METRICS_PROMETHEUS"},
	"redis.enabled":                 {"REDIS_ENABLED"},
	"redis.address":                 {"REDIS_ADDRESS"},
	"redis.password":                {"REDIS_PASSWORD"},
	"redis.db":                      {"REDIS_DB"},
	"redis.history_key":             {"REDIS_HISTORY_KEY"},
	"ratelimit.enabled":             {"RATELIMIT_ENABLED"},
	"ratelimit.requests_per_second": {"RATELIMIT_RPS"},
	"ratelimit.burst":               {"RATELIMIT_BURST"},
	"static.dir":                    {"STATIC_DIR"},
	"logging.level":                 {"LOG_LEVEL"},
	"logging.file":                  {"LOG_FILE"},
	"tokens.enabled":                {"TOKENS_ENABLED"},
	"tokens.model":                  {"TOKENS_MODEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3001")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("upstream.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("upstream.model", "gemini-2.5-flash-preview-09-2025")
	v.SetDefault("upstream.timeout", time.Duration(0))
	v.SetDefault("upstream.breaker.enabled", false)
	v.SetDefault("upstream.breaker.failures", 5)
	v.SetDefault("upstream.breaker.open_timeout", 30*time.Second)
	v.SetDefault("metrics.file", "metrics.jsonl")
	v.SetDefault("metrics.capacity", 200)
	v.SetDefault("metrics.queue_size", 1024)
	v.SetDefault("metrics.prometheus", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.history_key", "pricedash:metrics")
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.requests_per_second", 5.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("static.dir", "dist")
	v.SetDefault("logging.level", "info")
	v.SetDefault("tokens.enabled", false)
	v.SetDefault("tokens.model", "gpt-4")
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps a fixed configuration. Used by tests and one-shot tools.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.set(cfg)
	return s
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// newViper builds a viper instance reading ./configs/config.yaml (optional)
// and the bound environment variables. A .env file is loaded first if present.
func newViper() (*viper.Viper, bool, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath("./configs")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, false, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, false, nil
		}
		return nil, false, fmt.Errorf("read config: %w", err)
	}
	return v, true, nil
}

// LoadAndWatch loads the config and, when a config file exists, watches it for changes.
// Environment variables always take precedence over the file.
func LoadAndWatch(logger *zap.Logger) (*Store, error) {
	v, fromFile, err := newViper()
	if err != nil {
		return nil, err
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	if fromFile {
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := refresh(v, store); err != nil {
				logger.Warn("config reload failed", zap.Error(err))
			} else {
				logger.Info("config reloaded", zap.String("file", e.Name))
			}
		})
		v.WatchConfig()
	}

	return store, nil
}

// Load reads the configuration once without watching.
func Load() (*Config, error) {
	v, _, err := newViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func refresh(v *viper.Viper, store *Store) error {
	cfg, err := decode(v)
	if err != nil {
		return err
	}
	store.set(cfg)
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Metrics.Capacity <= 0 {
		return fmt.Errorf("metrics.capacity must be positive, got %d", c.Metrics.Capacity)
	}
	if c.Metrics.QueueSize <= 0 {
		return fmt.Errorf("metrics.queue_size must be positive, got %d", c.Metrics.QueueSize)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("ratelimit.requests_per_second and ratelimit.burst must be positive when enabled")
	}
	return nil
}
