package drf_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// signToken returns an HS256 access token expiring at exp.
func signToken(t *testing.T, exp time.Time, userID interface{}) string {
	t.Helper()

	claims := drf.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "subject",
			IssuedAt:  jwt.NewNumericDate(exp.Add(-5 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TokenType: "access",
		UserID:    userID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return token
}

// fakeRequester records requests and answers through a handler.
type fakeRequester struct {
	mu       sync.Mutex
	requests []*drf.Request
	handler  func(req *drf.Request) (*drf.Response, error)
}

func (f *fakeRequester) Do(ctx context.Context, req *drf.Request) (*drf.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.handler == nil {
		return &drf.Response{StatusCode: http.StatusOK}, nil
	}

	return f.handler(req)
}

func (f *fakeRequester) calls() []*drf.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*drf.Request(nil), f.requests...)
}

func jsonResponse(status int, body interface{}) *drf.Response {
	data, _ := json.Marshal(body)

	return &drf.Response{StatusCode: status, Body: data}
}

// staticFetcher counts calls and returns value.
type staticFetcher struct {
	mu    sync.Mutex
	calls int
	value string
	err   error
	gate  chan struct{}
}

func (f *staticFetcher) fetch(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	value, err, gate := f.value, f.err, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if err != nil {
		return nil, err
	}

	return json.RawMessage(value), nil
}

func (f *staticFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *staticFetcher) set(value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.value = value
}
