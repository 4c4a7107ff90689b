package drf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dose3d/drf-crud-client/internal/constants"
)

// CacheType selects the second-level backend behind a QueryCache.
type CacheType string

const (
	CacheTypeMemory CacheType = "memory"
	CacheTypeNATS   CacheType = "nats"
	CacheTypeNone   CacheType = "none"
)

var (
	ErrNATSConfigRequired    = errors.New("NATS configuration required for NATS cache")
	ErrUnsupportedCacheType  = errors.New("unsupported cache type")
	ErrCacheDisabled         = errors.New("cache disabled")
	ErrKeyNotFoundInAnyCache = errors.New("key not found in any cache")
)

// CacheConfig configures the second-level cache backend.
//
// With Type nats and a non-nil Memory section the result is a two-tier
// chain: a bounded local memory tier in front of the shared KV bucket.
type CacheConfig struct {
	Type    CacheType
	Memory  *MemoryCacheConfig
	NATS    *NATSKVConfig
	Options *CacheOptions
}

// MemoryCacheConfig bounds the in-process tier.
type MemoryCacheConfig struct {
	MaxSize int

	// CleanupInterval is a duration string such as "1m".
	CleanupInterval string
}

// Interval parses CleanupInterval, falling back to the default.
func (c *MemoryCacheConfig) Interval() time.Duration {
	if c == nil || c.CleanupInterval == "" {
		return constants.DefaultCleanupInterval
	}

	d, err := time.ParseDuration(c.CleanupInterval)
	if err != nil || d <= 0 {
		return constants.DefaultCleanupInterval
	}

	return d
}

func (c *MemoryCacheConfig) validate() error {
	if c == nil || c.CleanupInterval == "" {
		return nil
	}

	_, err := time.ParseDuration(c.CleanupInterval)
	if err != nil {
		return fmt.Errorf("invalid cleanup interval %q: %w", c.CleanupInterval, err)
	}

	return nil
}

// DefaultCacheConfig keeps query results in process memory only.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Type: CacheTypeMemory,
		Memory: &MemoryCacheConfig{
			MaxSize:         constants.DefaultCacheSize,
			CleanupInterval: "1m",
		},
		Options: DefaultCacheOptions(),
	}
}

// NewCacheFromConfig creates the backend described by config. A nil config
// yields DefaultCacheConfig.
func NewCacheFromConfig(config *CacheConfig) (Cache, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	switch config.Type {
	case CacheTypeMemory:
		return NewMemoryCacheFromConfig(config.Memory)
	case CacheTypeNATS:
		return newNATSBackend(config)
	case CacheTypeNone:
		return NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCacheType, config.Type)
	}
}

func newNATSBackend(config *CacheConfig) (Cache, error) {
	if config.NATS == nil {
		return nil, ErrNATSConfigRequired
	}

	err := config.Memory.validate()
	if err != nil {
		return nil, err
	}

	kvConfig := *config.NATS
	if kvConfig.TTL == 0 && config.Options != nil {
		kvConfig.TTL = config.Options.TTL
	}

	shared, err := NewNATSKVCache(&kvConfig)
	if err != nil {
		return nil, err
	}

	if config.Memory == nil {
		return shared, nil
	}

	return NewCacheChain(NewMemoryCache(config.Memory.MaxSize), shared), nil
}

// NewMemoryCacheFromConfig creates a memory cache. The caller owns the
// cleanup loop, see MemoryCache.Run.
func NewMemoryCacheFromConfig(config *MemoryCacheConfig) (Cache, error) {
	if config == nil {
		return NewMemoryCache(constants.DefaultCacheSize), nil
	}

	err := config.validate()
	if err != nil {
		return nil, err
	}

	return NewMemoryCache(config.MaxSize), nil
}

// NoOpCache stores nothing. QueryCache uses it when no backend is configured,
// keeping its own in-process slots as the only copy.
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (c *NoOpCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	return nil, ErrCacheDisabled
}

func (c *NoOpCache) Set(ctx context.Context, key string, entry *CacheEntry) error { return nil }

func (c *NoOpCache) Delete(ctx context.Context, key string) error { return nil }

func (c *NoOpCache) Clear(ctx context.Context) error { return nil }

func (c *NoOpCache) Has(ctx context.Context, key string) bool { return false }

// CacheChain reads through tiers in order and writes to all of them. A hit in
// a later tier is copied into the earlier ones.
type CacheChain struct {
	tiers []Cache
}

func NewCacheChain(tiers ...Cache) *CacheChain {
	return &CacheChain{tiers: tiers}
}

// Tiers returns the backends in lookup order.
func (c *CacheChain) Tiers() []Cache {
	return append([]Cache(nil), c.tiers...)
}

func (c *CacheChain) Get(ctx context.Context, key string) (*CacheEntry, error) {
	for i, tier := range c.tiers {
		entry, err := tier.Get(ctx, key)
		if err != nil {
			continue
		}

		for _, earlier := range c.tiers[:i] {
			_ = earlier.Set(ctx, key, entry)
		}

		return entry, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotFoundInAnyCache, key)
}

func (c *CacheChain) Set(ctx context.Context, key string, entry *CacheEntry) error {
	return c.each(func(tier Cache) error { return tier.Set(ctx, key, entry) })
}

func (c *CacheChain) Delete(ctx context.Context, key string) error {
	return c.each(func(tier Cache) error { return tier.Delete(ctx, key) })
}

func (c *CacheChain) Clear(ctx context.Context) error {
	return c.each(func(tier Cache) error { return tier.Clear(ctx) })
}

func (c *CacheChain) Has(ctx context.Context, key string) bool {
	for _, tier := range c.tiers {
		if tier.Has(ctx, key) {
			return true
		}
	}

	return false
}

// each applies fn to every tier and joins the failures.
func (c *CacheChain) each(fn func(Cache) error) error {
	var errs []error

	for _, tier := range c.tiers {
		err := fn(tier)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
