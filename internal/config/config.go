// Package config loads client configuration from a YAML file overlaid with
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/ilyakaznacheev/cleanenv"
)

// PathEnv names the variable consulted when no explicit path is given.
const PathEnv = "DRF_CONFIG_PATH"

// Token storage kinds.
const (
	StorageMemory  = "memory"
	StorageSession = "session"
	StorageFile    = "file"
	StorageRedis   = "redis"
)

// Config is the root configuration. Values come from, in decreasing
// priority: environment variables, the YAML file, env-default tags.
type Config struct {
	BaseURL   string      `yaml:"base_url"   env:"DRF_BASE_URL"`
	APIPrefix string      `yaml:"api_prefix" env:"DRF_API_PREFIX" env-default:"/api/"`
	Auth      AuthConfig  `yaml:"auth"`
	HTTP      HTTPConfig  `yaml:"http"`
	Cache     CacheConfig `yaml:"cache"`
	Log       LogConfig   `yaml:"log"`
	Metrics   bool        `yaml:"metrics"    env:"DRF_METRICS" env-default:"false"`
}

// AuthConfig covers token endpoints and persistence.
type AuthConfig struct {
	LoginEndpoint   string        `yaml:"login_endpoint"   env:"DRF_LOGIN_ENDPOINT"   env-default:"/api/token/"`
	RefreshEndpoint string        `yaml:"refresh_endpoint" env:"DRF_REFRESH_ENDPOINT" env-default:"/api/token/refresh/"`
	TokensKey       string        `yaml:"tokens_key"       env:"DRF_TOKENS_KEY"       env-default:"drf-crud-client.tokens"`
	Storage         string        `yaml:"storage"          env:"DRF_TOKEN_STORAGE"    env-default:"memory"`
	StorageDir      string        `yaml:"storage_dir"      env:"DRF_TOKEN_DIR"`
	RedisURL        string        `yaml:"redis_url"        env:"DRF_REDIS_URL"`
	RedisPrefix     string        `yaml:"redis_prefix"     env:"DRF_REDIS_PREFIX"     env-default:"drf:"`
	ExpiryGrace     time.Duration `yaml:"expiry_grace"     env:"DRF_EXPIRY_GRACE"     env-default:"0s"`
}

// HTTPConfig tunes the transport.
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout"        env:"DRF_HTTP_TIMEOUT"    env-default:"30s"`
	RetryMax     int           `yaml:"retry_max"      env:"DRF_RETRY_MAX"       env-default:"3"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min" env:"DRF_RETRY_WAIT_MIN"  env-default:"1s"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" env:"DRF_RETRY_WAIT_MAX"  env-default:"10s"`
	RateLimit    float64       `yaml:"rate_limit"     env:"DRF_RATE_LIMIT"      env-default:"0"`
	RateBurst    int           `yaml:"rate_burst"     env:"DRF_RATE_BURST"      env-default:"1"`
	UserAgent    string        `yaml:"user_agent"     env:"DRF_USER_AGENT"`
	Debug        bool          `yaml:"debug"          env:"DRF_HTTP_DEBUG"      env-default:"false"`
}

// CacheConfig selects the second-level cache backend.
type CacheConfig struct {
	Type            string        `yaml:"type"             env:"DRF_CACHE_TYPE"        env-default:"memory"`
	MaxSize         int           `yaml:"max_size"         env:"DRF_CACHE_MAX_SIZE"    env-default:"1000"`
	TTL             time.Duration `yaml:"ttl"              env:"DRF_CACHE_TTL"         env-default:"5m"`
	StaleTime       time.Duration `yaml:"stale_time"       env:"DRF_CACHE_STALE_TIME"  env-default:"0s"`
	CleanupInterval string        `yaml:"cleanup_interval" env:"DRF_CACHE_CLEANUP"     env-default:"1m"`
	NATSURL         string        `yaml:"nats_url"         env:"DRF_NATS_URL"`
	NATSBucket      string        `yaml:"nats_bucket"      env:"DRF_NATS_BUCKET"       env-default:"drf_query_cache"`
}

// LogConfig configures log/slog output.
type LogConfig struct {
	Level  string `yaml:"level"  env:"DRF_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"DRF_LOG_FORMAT" env-default:"text"`
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads configuration by priority: explicit path, DRF_CONFIG_PATH,
// environment only. Environment variables always overlay file values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(PathEnv)
	}

	var cfg Config

	if path != "" {
		_, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}

		err = cleanenv.ReadConfig(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	err := cleanenv.ReadEnv(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to overlay env: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, constants.ErrBaseURLRequired)
	}

	switch strings.ToLower(c.Auth.Storage) {
	case StorageMemory, StorageSession:
	case StorageFile:
		if c.Auth.StorageDir == "" {
			errs = append(errs, constants.ErrStorageDirRequired)
		}
	case StorageRedis:
		if c.Auth.RedisURL == "" {
			errs = append(errs, constants.ErrRedisURLRequired)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", constants.ErrUnsupportedStorage, c.Auth.Storage))
	}

	return errors.Join(errs...)
}

// Usage describes every environment variable.
func Usage() string {
	var cfg Config

	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}

	return text
}
