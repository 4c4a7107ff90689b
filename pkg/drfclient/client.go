package drfclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/dose3d/drf-crud-client/internal/auth"
	"github.com/dose3d/drf-crud-client/internal/constants"
	drfhttp "github.com/dose3d/drf-crud-client/internal/http"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/prometheus/client_golang/prometheus"
)

// Client wires one authentication session to an HTTP client, a query cache
// and a mutation engine.
type Client struct {
	config        *Config
	logger        drf.Logger
	metrics       *drf.Metrics
	session       *auth.Session
	authenticator *auth.Authenticator
	tokens        *auth.TokenManager
	http          *drfhttp.Client
	backend       drf.Cache
	cache         *drf.QueryCache
	mutations     *drf.MutationEngine

	cancel    context.CancelFunc
	closers   []func() error
	closeOnce sync.Once
}

// New builds a client and restores any persisted session. Background work
// started here lives until Close.
func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}

	cfg := *config

	err := normalize(&cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:  &cfg,
		logger:  cfg.Logger,
		metrics: newMetrics(&cfg),
	}

	durable, err := c.durableStore(&cfg)
	if err != nil {
		return nil, err
	}

	httpClient, err := createHTTPClient(&cfg)
	if err != nil {
		return nil, err
	}

	c.session = auth.NewSession(
		auth.WithDurableStore(durable),
		auth.WithTokensKey(cfg.TokensKey),
		auth.WithSessionLogger(c.logger),
		auth.WithOnLogin(cfg.OnLogin),
		auth.WithOnLogout(cfg.OnLogout),
	)

	// Token endpoints go through a client without a token manager.
	c.authenticator = auth.NewAuthenticator(
		drfhttp.NewClient(cfg.BaseURL, nil, c.transportOptions(&cfg, httpClient)...),
		c.session,
		auth.WithLoginEndpoint(cfg.LoginEndpoint),
		auth.WithRefreshEndpoint(cfg.RefreshEndpoint),
		auth.WithAuthLogger(c.logger),
		auth.WithAuthMetrics(c.metrics),
	)

	c.tokens = auth.NewTokenManager(c.authenticator,
		auth.WithExpiryGrace(cfg.ExpiryGrace),
		auth.WithTokenLogger(c.logger),
	)

	c.http = drfhttp.NewClient(cfg.BaseURL, c.tokens, c.transportOptions(&cfg, httpClient)...)

	err = c.buildCache(ctx, &cfg)
	if err != nil {
		_ = c.Close()

		return nil, err
	}

	c.mutations = drf.NewMutationEngine(c.http, c.cache,
		drf.WithAPIPrefix(cfg.APIPrefix),
		drf.WithMutationLogger(c.logger),
		drf.WithMutationMetrics(c.metrics),
	)

	// Cached reads belong to the user who made them.
	unsubscribe := c.session.Subscribe(func(tokens *drf.TokenPair) {
		if tokens != nil {
			return
		}

		clearErr := c.cache.Clear(context.WithoutCancel(ctx))
		if clearErr != nil {
			c.logger.Warn("Failed to clear cache after logout", map[string]interface{}{"error": clearErr.Error()})
		}
	})
	c.closers = append(c.closers, func() error {
		unsubscribe()

		return nil
	})

	c.session.Load(ctx)

	return c, nil
}

// NewWithEndpoint creates a client with default settings.
func NewWithEndpoint(ctx context.Context, baseURL string) (*Client, error) {
	return New(ctx, &Config{BaseURL: baseURL})
}

// NewWithPassword creates a client and logs in.
func NewWithPassword(ctx context.Context, baseURL, username, password string) (*Client, error) {
	c, err := NewWithEndpoint(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	err = c.Login(ctx, username, password)
	if err != nil {
		_ = c.Close()

		return nil, err
	}

	return c, nil
}

func normalize(cfg *Config) error {
	if cfg.BaseURL == "" {
		return constants.ErrBaseURLRequired
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	cfg.BaseURL = baseURL

	if cfg.APIPrefix == "" {
		cfg.APIPrefix = constants.DefaultAPIPrefix
	}

	if cfg.Logger == nil {
		cfg.Logger = drf.NopLogger{}
	}

	if cfg.Storage == "" {
		cfg.Storage = StorageMemory
	}

	return nil
}

func newMetrics(cfg *Config) *drf.Metrics {
	reg := cfg.MetricsRegisterer
	if reg == nil && cfg.Metrics {
		reg = prometheus.DefaultRegisterer
	}

	return drf.NewMetrics(reg)
}

func (c *Client) durableStore(cfg *Config) (auth.Store, error) {
	if cfg.TokenStore != nil {
		return cfg.TokenStore, nil
	}

	switch cfg.Storage {
	case StorageMemory, StorageSession:
		return nil, nil
	case StorageFile:
		return auth.NewFileStore(cfg.StorageDir)
	case StorageRedis:
		store, err := auth.NewRedisStoreFromURL(cfg.RedisURL, cfg.RedisPrefix, 0)
		if err != nil {
			return nil, err
		}

		c.closers = append(c.closers, store.Close)

		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrUnsupportedStorage, cfg.Storage)
	}
}

// isDevelopmentEnvironment checks if we're in a development environment.
func isDevelopmentEnvironment() bool {
	devMode := os.Getenv("DRF_DEV_MODE")

	return devMode == "true" || devMode == "1"
}

// createHTTPClient returns nil when the transport defaults are fine.
func createHTTPClient(cfg *Config) (*http.Client, error) {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient, nil
	}

	if !cfg.SkipTLSVerify {
		return nil, nil
	}

	// Only allow insecure TLS in explicit development environments
	if !isDevelopmentEnvironment() {
		return nil, fmt.Errorf("%w (set DRF_DEV_MODE=true)", ErrSkipTLSOnlyInDev)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- Protected by development environment check above
		},
	}, nil
}

func (c *Client) transportOptions(cfg *Config, httpClient *http.Client) []drfhttp.Option {
	chain := drf.NewInterceptorChain()
	chain.AddRequestInterceptor(drf.RequestIDInterceptor())

	if _, nop := cfg.Logger.(drf.NopLogger); cfg.Debug || !nop {
		chain.AddRequestInterceptor(drf.LoggingInterceptor(c.logger))
		chain.AddResponseInterceptor(drf.LoggingResponseInterceptor(c.logger))
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}

		chain.AddRequestInterceptor(drf.RateLimitInterceptor(cfg.RateLimit, burst))
	}

	chain.AddResponseInterceptor(drf.MetricsInterceptor(c.metrics))

	opts := []drfhttp.Option{
		drfhttp.WithLogger(c.logger),
		drfhttp.WithDebug(cfg.Debug),
		drfhttp.WithInterceptors(chain),
	}

	if httpClient != nil {
		opts = append(opts, drfhttp.WithHTTPClient(httpClient))
	} else if cfg.Timeout > 0 {
		opts = append(opts, drfhttp.WithTimeout(cfg.Timeout))
	}

	if cfg.UserAgent != "" {
		opts = append(opts, drfhttp.WithUserAgent(cfg.UserAgent))
	}

	switch {
	case cfg.DisableRetries:
		opts = append(opts, drfhttp.WithRetryConfig(0, 0, 0))
	case cfg.RetryMax > 0 || cfg.RetryWaitMin > 0 || cfg.RetryWaitMax > 0:
		retryMax, waitMin, waitMax := cfg.RetryMax, cfg.RetryWaitMin, cfg.RetryWaitMax
		if retryMax <= 0 {
			retryMax = constants.DefaultRetryMax
		}

		if waitMin <= 0 {
			waitMin = constants.DefaultRetryWaitMin
		}

		if waitMax <= 0 {
			waitMax = constants.DefaultRetryWaitMax
		}

		opts = append(opts, drfhttp.WithRetryConfig(retryMax, waitMin, waitMax))
	}

	return opts
}

func (c *Client) buildCache(ctx context.Context, cfg *Config) error {
	cacheConfig := cfg.Cache
	if cacheConfig == nil {
		cacheConfig = drf.DefaultCacheConfig()
	}

	backend, err := drf.NewCacheFromConfig(cacheConfig)
	if err != nil {
		return fmt.Errorf("failed to create cache backend: %w", err)
	}

	c.backend = backend

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	tiers := []drf.Cache{backend}
	if chain, ok := backend.(*drf.CacheChain); ok {
		tiers = chain.Tiers()
	}

	for _, tier := range tiers {
		switch b := tier.(type) {
		case *drf.MemoryCache:
			go b.Run(runCtx, cacheConfig.Memory.Interval())
		case *drf.NATSKVCache:
			c.closers = append(c.closers, func() error {
				b.Close()

				return nil
			})
		}
	}

	options := cacheConfig.Options
	if options == nil {
		options = drf.DefaultCacheOptions()
	}

	c.cache = drf.NewQueryCache(
		drf.WithBackend(backend),
		drf.WithCacheOptions(options),
		drf.WithCacheLogger(c.logger),
		drf.WithCacheMetrics(c.metrics),
	)

	return nil
}

// Login exchanges credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	_, err := c.authenticator.Login(ctx, username, password)

	return err
}

// Logout drops the token pair and every cached read.
func (c *Client) Logout(ctx context.Context) error {
	return c.authenticator.Logout(ctx)
}

// RefreshToken forces a token refresh.
func (c *Client) RefreshToken(ctx context.Context) error {
	_, err := c.tokens.Refresh(ctx)

	return err
}

// Authenticated reports whether a token pair is held.
func (c *Client) Authenticated() bool {
	return c.session.Authenticated()
}

// User decodes the current access token, nil when logged out.
func (c *Client) User() *drf.User {
	return c.session.User()
}

// Tokens returns a copy of the current token pair.
func (c *Client) Tokens() *drf.TokenPair {
	return c.session.Tokens()
}

// SubscribeSession registers fn for every token change. The returned func
// unsubscribes.
func (c *Client) SubscribeSession(fn func(*drf.TokenPair)) func() {
	return c.session.Subscribe(fn)
}

// Session exposes the authentication session.
func (c *Client) Session() *auth.Session {
	return c.session
}

// HTTP returns the authenticated requester.
func (c *Client) HTTP() drf.Requester {
	return c.http
}

// Cache returns the query cache.
func (c *Client) Cache() *drf.QueryCache {
	return c.cache
}

// Mutations returns the mutation engine.
func (c *Client) Mutations() *drf.MutationEngine {
	return c.mutations
}

// Metrics returns the metric collectors, disabled unless configured.
func (c *Client) Metrics() *drf.Metrics {
	return c.metrics
}

// Config returns the normalized configuration.
func (c *Client) Config() Config {
	return *c.config
}

// Endpoint builds the URL path of a resource, item or action.
func (c *Client) Endpoint(resource string, pk interface{}, action string) string {
	return drf.Endpoint(c.config.APIPrefix, resource, pk, action)
}

// Pagination creates a page controller for one list view.
func (c *Client) Pagination(pageSize int, opts ...drf.PaginationOption) *drf.PaginationController {
	return drf.NewPaginationController(pageSize, opts...)
}

// FormBridge wraps mutation for form submission.
func (c *Client) FormBridge(mutation *drf.Mutation, form drf.Form, opts ...drf.FormBridgeOption) *drf.FormBridge {
	return drf.NewFormBridge(mutation, form, opts...)
}

// Close stops background work and releases backend connections.
func (c *Client) Close() error {
	var errs []error

	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		for i := len(c.closers) - 1; i >= 0; i-- {
			err := c.closers[i]()
			if err != nil {
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}
