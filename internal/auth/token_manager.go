package auth

import (
	"context"
	"time"

	"github.com/dose3d/drf-crud-client/pkg/drf"
	"golang.org/x/sync/singleflight"
)

const refreshFlight = "refresh"

// TokenManager hands out bearer tokens for outgoing requests, refreshing an
// expired access token first. Concurrent requests that find the token
// expired share one refresh call.
type TokenManager struct {
	auth    *Authenticator
	grace   time.Duration
	now     func() time.Time
	logger  drf.Logger
	flights singleflight.Group
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithExpiryGrace treats tokens expiring within grace as already expired.
func WithExpiryGrace(grace time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if grace > 0 {
			m.grace = grace
		}
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger drf.Logger) TokenManagerOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewTokenManager creates a token manager for the authenticator's session.
func NewTokenManager(auth *Authenticator, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		auth:   auth,
		now:    time.Now,
		logger: drf.NopLogger{},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetToken returns the access token to send, or "" to send the request
// unauthenticated. Only cancellation of ctx is reported as an error: a
// rejected refresh logs the session out and yields "", any other refresh
// failure yields the stale token and lets the backend decide.
func (m *TokenManager) GetToken(ctx context.Context) (string, error) {
	tokens := m.auth.Session().Tokens()
	if tokens == nil {
		return "", nil
	}

	if !tokens.Expired(m.now(), m.grace) {
		return tokens.Access, nil
	}

	fresh, err := m.refresh(ctx, tokens)

	switch {
	case err == nil:
		return fresh.Access, nil
	case drf.IsAuthExpired(err):
		return "", nil
	case ctx.Err() != nil:
		return "", drf.NewCancelledError(ctx.Err())
	default:
		m.logger.Warn("Token refresh failed, sending stale token", map[string]interface{}{"error": err.Error()})

		return tokens.Access, nil
	}
}

// Refresh forces a refresh of the current pair.
func (m *TokenManager) Refresh(ctx context.Context) (*drf.TokenPair, error) {
	tokens := m.auth.Session().Tokens()
	if tokens == nil {
		return nil, &drf.Error{Kind: drf.KindAuthExpired}
	}

	return m.refresh(ctx, tokens)
}

// Interceptor adapts GetToken to an interceptor chain.
func (m *TokenManager) Interceptor() drf.RequestInterceptor {
	return drf.AuthenticationInterceptor(m.GetToken)
}

func (m *TokenManager) refresh(ctx context.Context, stale *drf.TokenPair) (*drf.TokenPair, error) {
	session := m.auth.Session()

	// The flight outlives any single caller so a cancelled request does not
	// abort a refresh others are waiting on.
	flightCtx := context.WithoutCancel(ctx)

	ch := m.flights.DoChan(refreshFlight, func() (interface{}, error) {
		current := session.Tokens()
		if current == nil {
			return nil, &drf.Error{Kind: drf.KindAuthExpired}
		}

		// Another flight may have finished between our expiry check and now.
		if current.Access != stale.Access && !current.Expired(m.now(), m.grace) {
			return current, nil
		}

		fresh, err := m.auth.Refresh(flightCtx, current.Refresh)
		if err != nil {
			if drf.IsAuthExpired(err) && session.expire(flightCtx, current.Refresh) {
				m.logger.Info("Refresh token rejected, session cleared", nil)
			}

			return nil, err
		}

		swapped, err := session.UpdateIf(flightCtx, current.Refresh, fresh)
		if err != nil {
			m.logger.Warn("Refreshed tokens were not persisted", map[string]interface{}{"error": err.Error()})
		}

		if !swapped {
			m.logger.Debug("Session changed during refresh, discarding refreshed tokens", nil)

			latest := session.Tokens()
			if latest == nil {
				return nil, &drf.Error{Kind: drf.KindAuthExpired}
			}

			return latest, nil
		}

		m.logger.Debug("Access token refreshed", nil)

		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return nil, drf.NewCancelledError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		tokens, _ := res.Val.(*drf.TokenPair)

		return tokens, nil
	}
}
