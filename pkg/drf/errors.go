package drf

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind is the closed set of failure categories a call can end with.
type Kind int

const (
	// KindConnectivity: the request was sent but no response arrived.
	KindConnectivity Kind = iota + 1
	// KindValidation: a 4xx response carrying a field to messages map.
	KindValidation
	// KindServer: a non-2xx response without a field map.
	KindServer
	// KindClient: the request could not be built or encoded.
	KindClient
	// KindAuthExpired: the refresh endpoint rejected the refresh token.
	KindAuthExpired
	// KindCancelled: the caller went away before completion.
	KindCancelled
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindAuthExpired:
		return "auth_expired"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the failure returned by every backend call.
type Error struct {
	Kind        Kind
	StatusCode  int
	Fields      map[string][]string
	Detail      string
	ContentType string
	Body        []byte
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindValidation:
		return fmt.Sprintf("validation failed (status %d): %s", e.StatusCode, e.fieldSummary())
	case KindServer, KindAuthExpired:
		if e.Detail != "" {
			return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, e.Detail)
		}

		return fmt.Sprintf("%s error (status %d)", e.Kind, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
		}

		return e.Kind.String() + " error"
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HasResponse reports whether the failure carries a server response.
func (e *Error) HasResponse() bool {
	return e.StatusCode != 0
}

// IsJSON reports whether the response body was declared as JSON.
func (e *Error) IsJSON() bool {
	return strings.HasPrefix(e.ContentType, "application/json")
}

func (e *Error) fieldSummary() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	for _, name := range names {
		parts = append(parts, name+": "+strings.Join(e.Fields[name], " "))
	}

	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}

	return strings.Join(parts, "; ")
}

// NewConnectivityError wraps a transport failure.
func NewConnectivityError(err error) *Error {
	return &Error{Kind: KindConnectivity, Err: err}
}

// NewClientError wraps a request construction failure.
func NewClientError(err error) *Error {
	return &Error{Kind: KindClient, Err: err}
}

// NewCancelledError wraps a context cancellation.
func NewCancelledError(err error) *Error {
	return &Error{Kind: KindCancelled, Err: err}
}

// KindOf returns the kind of err when it is, or wraps, an *Error.
func KindOf(err error) (Kind, bool) {
	drfErr := &Error{}
	if errors.As(err, &drfErr) {
		return drfErr.Kind, true
	}

	return 0, false
}

// AsError unwraps err into an *Error.
func AsError(err error) (*Error, bool) {
	drfErr := &Error{}
	if errors.As(err, &drfErr) {
		return drfErr, true
	}

	return nil, false
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	kind, ok := KindOf(err)

	return ok && kind == KindValidation
}

// IsConnectivity checks if the error is a connectivity error.
func IsConnectivity(err error) bool {
	kind, ok := KindOf(err)

	return ok && kind == KindConnectivity
}

// IsServer checks if the error is a server error.
func IsServer(err error) bool {
	kind, ok := KindOf(err)

	return ok && kind == KindServer
}

// IsCancelled checks if the error is a cancellation.
func IsCancelled(err error) bool {
	kind, ok := KindOf(err)

	return ok && kind == KindCancelled
}

// IsAuthExpired checks if the error is a rejected refresh.
func IsAuthExpired(err error) bool {
	kind, ok := KindOf(err)

	return ok && kind == KindAuthExpired
}

// IsUnauthorized checks if the backend answered 401.
func IsUnauthorized(err error) bool {
	drfErr, ok := AsError(err)

	return ok && drfErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound checks if the backend answered 404.
func IsNotFound(err error) bool {
	drfErr, ok := AsError(err)

	return ok && drfErr.StatusCode == http.StatusNotFound
}
