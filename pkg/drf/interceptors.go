package drf

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

// RequestInterceptor is called before a request is sent.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor is called after a response is received.
type ResponseInterceptor func(ctx context.Context, req *Request, resp *Response) error

// InterceptorChain runs request interceptors in registration order before a
// send and response interceptors after it. The first failure stops the chain.
type InterceptorChain struct {
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// AddRequestInterceptor adds a request interceptor to the chain.
func (c *InterceptorChain) AddRequestInterceptor(interceptor RequestInterceptor) {
	c.requestInterceptors = append(c.requestInterceptors, interceptor)
}

// AddResponseInterceptor adds a response interceptor to the chain.
func (c *InterceptorChain) AddResponseInterceptor(interceptor ResponseInterceptor) {
	c.responseInterceptors = append(c.responseInterceptors, interceptor)
}

// ExecuteRequestInterceptors runs all request interceptors.
func (c *InterceptorChain) ExecuteRequestInterceptors(ctx context.Context, req *Request) error {
	for _, interceptor := range c.requestInterceptors {
		err := interceptor(ctx, req)
		if err != nil {
			return fmt.Errorf("request interceptor failed: %w", err)
		}
	}

	return nil
}

// ExecuteResponseInterceptors runs all response interceptors.
func (c *InterceptorChain) ExecuteResponseInterceptors(ctx context.Context, req *Request, resp *Response) error {
	for _, interceptor := range c.responseInterceptors {
		err := interceptor(ctx, req, resp)
		if err != nil {
			return fmt.Errorf("response interceptor failed: %w", err)
		}
	}

	return nil
}

// LoggingInterceptor logs outgoing requests at debug level.
func LoggingInterceptor(logger Logger) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		logger.Debug("drf request", map[string]interface{}{
			"method":     req.Method,
			"path":       req.Path,
			"request_id": req.Headers.Get(constants.HeaderRequestID),
		})

		return nil
	}
}

// LoggingResponseInterceptor logs completed requests. Rejections the caller is
// expected to handle (validation, not found, cancellation) go to warn, server
// and transport failures to error.
func LoggingResponseInterceptor(logger Logger) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response) error {
		fields := map[string]interface{}{
			"method":      req.Method,
			"path":        req.Path,
			"status_code": resp.StatusCode,
			"request_id":  req.Headers.Get(constants.HeaderRequestID),
		}

		if started, ok := req.Metadata[MetadataStartedAt].(time.Time); ok {
			fields["elapsed"] = time.Since(started).String()
		}

		kind, failed := KindOf(resp.Error)
		if !failed {
			logger.Debug("drf response", fields)

			return nil
		}

		fields["kind"] = kind.String()
		fields["error"] = resp.Error.Error()

		switch kind {
		case KindServer, KindConnectivity:
			logger.Error("drf request failed", fields)
		default:
			logger.Warn("drf request rejected", fields)
		}

		return nil
	}
}

// RateLimitInterceptor implements client-side rate limiting with a token
// bucket refilled at requestsPerSecond.
func RateLimitInterceptor(requestsPerSecond float64, burst int) RequestInterceptor {
	if burst < 1 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)

	return func(ctx context.Context, req *Request) error {
		err := limiter.Wait(ctx)
		if err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		return nil
	}
}

// AuthenticationInterceptor adds a bearer header when the provider returns
// a non-empty token.
func AuthenticationInterceptor(tokenProvider func(context.Context) (string, error)) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		token, err := tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("failed to get authentication token: %w", err)
		}

		if token == "" {
			return nil
		}

		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		req.Headers.Set("Authorization", "Bearer "+token)

		return nil
	}
}

// HeaderInterceptor adds custom headers to requests.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		for key, value := range headers {
			req.Headers.Set(key, value)
		}

		return nil
	}
}

// RequestIDInterceptor tags every request with a ULID unless one is set.
func RequestIDInterceptor() RequestInterceptor {
	var mu sync.Mutex

	entropy := ulid.Monotonic(rand.Reader, 0)

	return func(ctx context.Context, req *Request) error {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		if req.Headers.Get(constants.HeaderRequestID) != "" {
			return nil
		}

		mu.Lock()
		id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
		mu.Unlock()

		if err != nil {
			return fmt.Errorf("failed to generate request id: %w", err)
		}

		req.Headers.Set(constants.HeaderRequestID, id.String())

		return nil
	}
}

// MetricsInterceptor records request outcomes.
func MetricsInterceptor(metrics *Metrics) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response) error {
		var started time.Time
		if v, ok := req.Metadata[MetadataStartedAt].(time.Time); ok {
			started = v
		}

		kind := ""
		if k, ok := KindOf(resp.Error); ok {
			kind = k.String()
		}

		metrics.RecordRequest(req.Method, resp.StatusCode, kind, started)

		return nil
	}
}

// MetadataStartedAt is the Request.Metadata key holding the send time.
const MetadataStartedAt = "started_at"
