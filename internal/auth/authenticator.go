package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/pkg/drf"
)

// Authenticator talks to the token endpoints. Its requester must not carry
// a token manager, otherwise refreshing would recurse into itself.
type Authenticator struct {
	requester       drf.Requester
	session         *Session
	loginEndpoint   string
	refreshEndpoint string
	logger          drf.Logger
	metrics         *drf.Metrics
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLoginEndpoint overrides the token obtain path.
func WithLoginEndpoint(path string) AuthenticatorOption {
	return func(a *Authenticator) {
		if path != "" {
			a.loginEndpoint = path
		}
	}
}

// WithRefreshEndpoint overrides the token refresh path.
func WithRefreshEndpoint(path string) AuthenticatorOption {
	return func(a *Authenticator) {
		if path != "" {
			a.refreshEndpoint = path
		}
	}
}

// WithAuthLogger sets the logger.
func WithAuthLogger(logger drf.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAuthMetrics records refresh outcomes.
func WithAuthMetrics(metrics *drf.Metrics) AuthenticatorOption {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// NewAuthenticator creates an authenticator feeding session.
func NewAuthenticator(requester drf.Requester, session *Session, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		requester:       requester,
		session:         session,
		loginEndpoint:   constants.DefaultLoginEndpoint,
		refreshEndpoint: constants.DefaultRefreshEndpoint,
		logger:          drf.NopLogger{},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Session returns the session fed by this authenticator.
func (a *Authenticator) Session() *Session {
	return a.session
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// Login exchanges credentials for a token pair and logs the session in.
// Wrong credentials come back as the backend's validation or server error.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*drf.TokenPair, error) {
	resp, err := a.requester.Do(ctx, &drf.Request{
		Method:  http.MethodPost,
		Path:    a.loginEndpoint,
		Body:    credentials{Username: username, Password: password},
		NoRetry: true,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := decodeTokenResponse(resp.Body)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Logged in", map[string]interface{}{"username": username})

	err = a.session.Login(ctx, tokens)
	if err != nil {
		return tokens, err
	}

	return tokens, nil
}

// Logout clears the session.
func (a *Authenticator) Logout(ctx context.Context) error {
	return a.session.Logout(ctx)
}

// Refresh exchanges refresh for a new pair without touching the session.
// A rejected refresh token is reported as drf.KindAuthExpired. When the
// backend does not rotate refresh tokens the old one is carried over.
func (a *Authenticator) Refresh(ctx context.Context, refresh string) (*drf.TokenPair, error) {
	if refresh == "" {
		return nil, &drf.Error{Kind: drf.KindAuthExpired, Err: constants.ErrNoRefreshToken}
	}

	tokens, err := a.refresh(ctx, refresh)
	a.metrics.RecordRefresh(err)

	return tokens, err
}

func (a *Authenticator) refresh(ctx context.Context, refresh string) (*drf.TokenPair, error) {
	resp, err := a.requester.Do(ctx, &drf.Request{
		Method:  http.MethodPost,
		Path:    a.refreshEndpoint,
		Body:    refreshRequest{Refresh: refresh},
		NoRetry: true,
	})
	if err != nil {
		drfErr, ok := drf.AsError(err)
		if ok && rejected(drfErr.StatusCode) {
			expired := *drfErr
			expired.Kind = drf.KindAuthExpired

			return nil, &expired
		}

		return nil, err
	}

	tokens, err := decodeTokenResponse(resp.Body)
	if err != nil {
		return nil, err
	}

	if tokens.Refresh == "" {
		tokens.Refresh = refresh
	}

	return tokens, nil
}

func rejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func decodeTokenResponse(body []byte) (*drf.TokenPair, error) {
	tokens := &drf.TokenPair{}

	err := json.Unmarshal(body, tokens)
	if err != nil {
		return nil, drf.NewClientError(fmt.Errorf("failed to decode token response: %w", err))
	}

	if tokens.Access == "" {
		return nil, drf.NewClientError(constants.ErrMalformedTokens)
	}

	return tokens, nil
}
