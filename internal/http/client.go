package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/hashicorp/go-retryablehttp"
)

// TokenManager supplies the bearer token for outgoing requests. An empty
// token sends the request unauthenticated.
type TokenManager interface {
	GetToken(ctx context.Context) (string, error)
}

// Client is the backend HTTP client. It implements drf.Requester.
type Client struct {
	baseURL      string
	tokenManager TokenManager
	httpClient   *retryablehttp.Client
	writeClient  *retryablehttp.Client
	interceptors *drf.InterceptorChain
	logger       drf.Logger
	userAgent    string
	debug        bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger drf.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request and response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithRetryConfig sets the retry policy used for reads.
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = maxRetries
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient.HTTPClient = httpClient
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient.Timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithInterceptors sets the interceptor chain run around every request.
func WithInterceptors(chain *drf.InterceptorChain) Option {
	return func(c *Client) {
		if chain != nil {
			c.interceptors = chain
		}
	}
}

// NewClient creates a client for baseURL. tokenManager may be nil.
func NewClient(baseURL string, tokenManager TokenManager, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = constants.DefaultRetryMax
	retryClient.RetryWaitMin = constants.DefaultRetryWaitMin
	retryClient.RetryWaitMax = constants.DefaultRetryWaitMax
	retryClient.HTTPClient.Timeout = constants.DefaultHTTPTimeout
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	client := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		tokenManager: tokenManager,
		httpClient:   retryClient,
		interceptors: drf.NewInterceptorChain(),
		logger:       drf.NopLogger{},
		userAgent:    "drf-crud-client/go",
	}

	for _, opt := range opts {
		opt(client)
	}

	client.writeClient = &retryablehttp.Client{
		HTTPClient:   client.httpClient.HTTPClient,
		RetryMax:     0,
		CheckRetry:   noRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	return client
}

func noRetryPolicy(ctx context.Context, _ *http.Response, _ error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	return false, nil
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs req. Every failure is returned as a *drf.Error; when the
// backend answered, the returned response is non-nil as well.
func (c *Client) Do(ctx context.Context, req *drf.Request) (*drf.Response, error) {
	if req.Metadata == nil {
		req.Metadata = make(map[string]interface{})
	}

	if req.Headers == nil {
		req.Headers = make(http.Header)
	}

	err := c.interceptors.ExecuteRequestInterceptors(ctx, req)
	if err != nil {
		return nil, c.fail(ctx, req, err)
	}

	if c.tokenManager != nil {
		token, err := c.tokenManager.GetToken(ctx)
		if err != nil {
			return nil, c.fail(ctx, req, fmt.Errorf("failed to get token: %w", err))
		}

		if token != "" {
			req.Headers.Set(constants.HeaderAuthorization, "Bearer "+token)
		}
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, c.fail(ctx, req, err)
	}

	if c.debug {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": req.Method,
			"url":    httpReq.URL.String(),
		})
	}

	req.Metadata[drf.MetadataStartedAt] = time.Now()

	httpResp, err := c.send(httpReq, req.NoRetry)
	if err != nil {
		var drfErr *drf.Error
		if ctx.Err() != nil {
			drfErr = drf.NewCancelledError(ctx.Err())
		} else {
			drfErr = drf.NewConnectivityError(err)
		}

		c.respond(ctx, req, &drf.Response{Error: drfErr})

		return nil, drfErr
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		drfErr := drf.NewConnectivityError(fmt.Errorf("failed to read response body: %w", err))
		c.respond(ctx, req, &drf.Response{StatusCode: httpResp.StatusCode, Error: drfErr})

		return nil, drfErr
	}

	resp := &drf.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	if c.debug {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"status": httpResp.StatusCode,
			"size":   len(body),
		})
	}

	if httpResp.StatusCode >= http.StatusMultipleChoices {
		resp.Error = ClassifyResponse(httpResp.StatusCode, httpResp.Header.Get(constants.HeaderContentType), body)
	}

	c.respond(ctx, req, resp)

	if resp.Error != nil {
		return resp, resp.Error
	}

	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*drf.Response, error) {
	return c.Do(ctx, &drf.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
	})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*drf.Response, error) {
	return c.Do(ctx, &drf.Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    body,
		NoRetry: true,
	})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*drf.Response, error) {
	return c.Do(ctx, &drf.Request{
		Method:  http.MethodPut,
		Path:    path,
		Body:    body,
		NoRetry: true,
	})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*drf.Response, error) {
	return c.Do(ctx, &drf.Request{
		Method:  http.MethodPatch,
		Path:    path,
		Body:    body,
		NoRetry: true,
	})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*drf.Response, error) {
	return c.Do(ctx, &drf.Request{
		Method:  http.MethodDelete,
		Path:    path,
		NoRetry: true,
	})
}

// PostRaw performs a POST request with a pre-encoded body.
func (c *Client) PostRaw(ctx context.Context, path string, body []byte, contentType string) (*drf.Response, error) {
	return c.Do(ctx, &drf.Request{
		Method:      http.MethodPost,
		Path:        path,
		RawBody:     body,
		ContentType: contentType,
		NoRetry:     true,
	})
}

func (c *Client) buildRequest(ctx context.Context, req *drf.Request) (*retryablehttp.Request, error) {
	var (
		body        []byte
		contentType string
	)

	switch {
	case req.RawBody != nil:
		body = req.RawBody
		contentType = req.ContentType
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}

		body = data
		contentType = constants.ContentTypeJSON
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	httpReq.Header.Set(constants.HeaderUserAgent, c.userAgent)

	if contentType != "" {
		httpReq.Header.Set(constants.HeaderContentType, contentType)
	}

	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	return httpReq, nil
}

// send issues the request; writes go out exactly once.
func (c *Client) send(httpReq *retryablehttp.Request, noRetry bool) (*http.Response, error) {
	client := c.httpClient
	if noRetry {
		client = c.writeClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}

		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// fail converts a pre-flight failure into a client or cancellation error.
func (c *Client) fail(ctx context.Context, req *drf.Request, err error) *drf.Error {
	drfErr, ok := drf.AsError(err)
	if !ok {
		if ctx.Err() != nil {
			drfErr = drf.NewCancelledError(err)
		} else {
			drfErr = drf.NewClientError(err)
		}
	}

	c.respond(ctx, req, &drf.Response{Error: drfErr})

	return drfErr
}

func (c *Client) respond(ctx context.Context, req *drf.Request, resp *drf.Response) {
	err := c.interceptors.ExecuteResponseInterceptors(ctx, req, resp)
	if err != nil {
		c.logger.Warn("response interceptor failed", map[string]interface{}{
			"path":  req.Path,
			"error": err.Error(),
		})
	}
}
