package drfclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dose3d/drf-crud-client/internal/config"
	"github.com/dose3d/drf-crud-client/internal/logx"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/prometheus/client_golang/prometheus"
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired   = errors.New("config is required")
	ErrSkipTLSOnlyInDev = errors.New("skip TLS verification is only allowed in development environments")
)

// Token storage kinds accepted by Config.Storage.
const (
	StorageMemory  = config.StorageMemory
	StorageSession = config.StorageSession
	StorageFile    = config.StorageFile
	StorageRedis   = config.StorageRedis
)

// TokenStore persists the serialized token pair under a key. Get must
// return an error for a missing key; the session treats any error as
// logged out.
type TokenStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Config holds everything New needs. Only BaseURL is required.
type Config struct {
	// BaseURL of the backend. A missing scheme defaults to https.
	BaseURL string

	// APIPrefix is prepended to resource names, default "/api/".
	APIPrefix string

	// Token endpoints and the key/value slot holding the token pair.
	LoginEndpoint   string
	RefreshEndpoint string
	TokensKey       string

	// Storage selects where tokens are kept: memory/session (process
	// lifetime), file (StorageDir) or redis (RedisURL).
	Storage     string
	StorageDir  string
	RedisURL    string
	RedisPrefix string

	// TokenStore overrides Storage with a caller supplied durable store.
	TokenStore TokenStore

	// ExpiryGrace refreshes tokens this long before they expire.
	ExpiryGrace time.Duration

	// HTTP transport.
	HTTPClient     *http.Client
	Timeout        time.Duration
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	DisableRetries bool
	RateLimit      float64
	RateBurst      int
	UserAgent      string
	SkipTLSVerify  bool
	Debug          bool

	Logger drf.Logger

	// Cache configures the second-level backend behind the query cache.
	Cache *drf.CacheConfig

	// Metrics registers collectors on prometheus.DefaultRegisterer unless
	// MetricsRegisterer is set.
	Metrics           bool
	MetricsRegisterer prometheus.Registerer

	OnLogin  func(*drf.TokenPair)
	OnLogout func()
}

// LoadConfig reads a YAML file and environment overlay into a Config. An
// empty path falls back to DRF_CONFIG_PATH, then to the environment alone.
func LoadConfig(path string) (*Config, error) {
	fileConfig, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return FromFileConfig(fileConfig)
}

// FromFileConfig converts a loaded file configuration.
func FromFileConfig(fc *config.Config) (*Config, error) {
	if fc == nil {
		return nil, ErrConfigRequired
	}

	logger, err := logx.New(logx.Config{Level: fc.Log.Level, Format: fc.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	cacheConfig := &drf.CacheConfig{
		Type: drf.CacheType(strings.ToLower(fc.Cache.Type)),
		Memory: &drf.MemoryCacheConfig{
			MaxSize:         fc.Cache.MaxSize,
			CleanupInterval: fc.Cache.CleanupInterval,
		},
		Options: &drf.CacheOptions{
			TTL:       fc.Cache.TTL,
			StaleTime: fc.Cache.StaleTime,
		},
	}

	if cacheConfig.Type == drf.CacheTypeNATS {
		cacheConfig.NATS = &drf.NATSKVConfig{
			URL:    fc.Cache.NATSURL,
			Bucket: fc.Cache.NATSBucket,
			TTL:    fc.Cache.TTL,
		}
	}

	return &Config{
		BaseURL:         fc.BaseURL,
		APIPrefix:       fc.APIPrefix,
		LoginEndpoint:   fc.Auth.LoginEndpoint,
		RefreshEndpoint: fc.Auth.RefreshEndpoint,
		TokensKey:       fc.Auth.TokensKey,
		Storage:         strings.ToLower(fc.Auth.Storage),
		StorageDir:      fc.Auth.StorageDir,
		RedisURL:        fc.Auth.RedisURL,
		RedisPrefix:     fc.Auth.RedisPrefix,
		ExpiryGrace:     fc.Auth.ExpiryGrace,
		Timeout:         fc.HTTP.Timeout,
		RetryMax:        fc.HTTP.RetryMax,
		RetryWaitMin:    fc.HTTP.RetryWaitMin,
		RetryWaitMax:    fc.HTTP.RetryWaitMax,
		DisableRetries:  fc.HTTP.RetryMax == 0,
		RateLimit:       fc.HTTP.RateLimit,
		RateBurst:       fc.HTTP.RateBurst,
		UserAgent:       fc.HTTP.UserAgent,
		Debug:           fc.HTTP.Debug,
		Logger:          logx.NewAdapter(logger),
		Cache:           cacheConfig,
		Metrics:         fc.Metrics,
	}, nil
}
