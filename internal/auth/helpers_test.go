package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dose3d/drf-crud-client/internal/auth"
	drfhttp "github.com/dose3d/drf-crud-client/internal/http"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

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

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// plainClient returns a client without a token manager, as used for the
// token endpoints.
func plainClient(server *httptest.Server) *drfhttp.Client {
	return drfhttp.NewClient(server.URL, nil, drfhttp.WithRetryConfig(0, time.Millisecond, time.Millisecond))
}

// MockStore is a Store that can be told to fail.
type MockStore struct {
	*auth.MemoryStore

	mu       sync.Mutex
	getErr   error
	setErr   error
	setCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{MemoryStore: auth.NewMemoryStore()}
}

func (s *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return s.MemoryStore.Get(ctx, key)
}

func (s *MockStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.setCalls++
	err := s.setErr
	s.mu.Unlock()

	if err != nil {
		return err
	}

	return s.MemoryStore.Set(ctx, key, value)
}

func (s *MockStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setCalls
}

func newRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// refreshCount returns the token refresh counter for result.
func refreshCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != "drf_client_token_refreshes_total" {
			continue
		}

		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}

	return 0
}
