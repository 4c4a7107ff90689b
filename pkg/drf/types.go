package drf

import (
	"context"
	"net/http"
	"net/url"
)

// Request represents an HTTP request issued against the backend.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header

	// Body is JSON-encoded unless RawBody is set.
	Body interface{}

	// RawBody is sent verbatim with ContentType.
	RawBody     []byte
	ContentType string

	// NoRetry disables transport retries for this request.
	NoRetry bool

	Metadata map[string]interface{}
}

// Response represents an HTTP response received from the backend.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Error      error
}

// Requester executes requests. Non-2xx responses and transport failures are
// reported as *Error.
type Requester interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Params are filter parameters sent as query string values and folded into
// cache keys.
type Params map[string]interface{}

// Values converts params into query string values. Nil values are skipped.
func (p Params) Values() url.Values {
	values := url.Values{}

	for k, v := range p {
		if v == nil {
			continue
		}

		values.Set(k, stringify(v))
	}

	return values
}

// PageResponse is the paginated list envelope returned by the backend.
type PageResponse[T any] struct {
	Count      int    `json:"count"                 yaml:"count"`
	Next       string `json:"next"                  yaml:"next"`
	Previous   string `json:"previous"              yaml:"previous"`
	PagesCount int    `json:"pages_count,omitempty" yaml:"pages_count,omitempty"`
	Results    []T    `json:"results"               yaml:"results"`
}

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]interface{}) {}
func (NopLogger) Info(string, map[string]interface{})  {}
func (NopLogger) Warn(string, map[string]interface{})  {}
func (NopLogger) Error(string, map[string]interface{}) {}
