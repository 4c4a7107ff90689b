package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dose3d/drf-crud-client/internal/auth"
	"github.com/dose3d/drf-crud-client/internal/constants"
	drfhttp "github.com/dose3d/drf-crud-client/internal/http"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoRoute = errors.New("no route to host")

type requesterFunc func(ctx context.Context, req *drf.Request) (*drf.Response, error)

func (f requesterFunc) Do(ctx context.Context, req *drf.Request) (*drf.Response, error) {
	return f(ctx, req)
}

// backend serves the refresh endpoint and one protected resource that
// requires the currently issued access token.
type backend struct {
	server    *httptest.Server
	refreshes atomic.Int32
	status    int
	delay     time.Duration
	mu        sync.Mutex
	issued    string
	seen      []string
}

func newBackend(t *testing.T, status int) *backend {
	t.Helper()

	b := &backend{status: status, issued: signToken(t, base.Add(time.Hour), 1)}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case constants.DefaultRefreshEndpoint:
			b.refreshes.Add(1)
			time.Sleep(b.delay)

			if b.status != http.StatusOK {
				writeJSON(w, b.status, map[string]string{"detail": "Token is invalid or expired"})

				return
			}

			writeJSON(w, http.StatusOK, map[string]string{"access": b.issued})
		case "/api/jobs/":
			header := r.Header.Get("Authorization")

			b.mu.Lock()
			b.seen = append(b.seen, header)
			b.mu.Unlock()

			if header != "Bearer "+b.issued {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})

				return
			}

			writeJSON(w, http.StatusOK, []string{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(b.server.Close)

	return b
}

func (b *backend) headers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.seen...)
}

// expiredSession returns a session holding a token that expired at 10:00:00
// and a manager whose clock reads 10:00:01.
func expiredSession(t *testing.T, b *backend) (*auth.Session, *auth.TokenManager) {
	t.Helper()

	session := auth.NewSession()
	require.NoError(t, session.Login(context.Background(), &drf.TokenPair{
		Access:  signToken(t, base, 1),
		Refresh: "refresh-1",
	}))

	manager := auth.NewTokenManager(
		auth.NewAuthenticator(plainClient(b.server), session),
		auth.WithClock(func() time.Time { return base.Add(time.Second) }),
	)

	return session, manager
}

//nolint:funlen
func TestTokenManager_GetToken(t *testing.T) {
	t.Parallel()

	t.Run("logged out sends nothing", func(t *testing.T) {
		t.Parallel()

		manager := auth.NewTokenManager(auth.NewAuthenticator(nil, auth.NewSession()))

		token, err := manager.GetToken(context.Background())
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("valid token is used as is", func(t *testing.T) {
		t.Parallel()

		b := newBackend(t, http.StatusOK)
		session, manager := expiredSession(t, b)
		access := signToken(t, base.Add(time.Hour), 1)
		require.NoError(t, session.Update(context.Background(), &drf.TokenPair{Access: access, Refresh: "r"}))

		token, err := manager.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, access, token)
		assert.Zero(t, b.refreshes.Load())
	})

	t.Run("grace window refreshes early", func(t *testing.T) {
		t.Parallel()

		b := newBackend(t, http.StatusOK)
		session := auth.NewSession()
		require.NoError(t, session.Login(context.Background(), &drf.TokenPair{
			Access:  signToken(t, base.Add(30*time.Second), 1),
			Refresh: "refresh-1",
		}))

		manager := auth.NewTokenManager(
			auth.NewAuthenticator(plainClient(b.server), session),
			auth.WithClock(func() time.Time { return base }),
			auth.WithExpiryGrace(time.Minute),
		)

		token, err := manager.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, b.issued, token)
		assert.Equal(t, int32(1), b.refreshes.Load())
	})

	t.Run("expired token is refreshed before the request", func(t *testing.T) {
		t.Parallel()

		b := newBackend(t, http.StatusOK)
		session, manager := expiredSession(t, b)

		client := drfhttp.NewClient(b.server.URL, manager)

		_, err := client.Get(context.Background(), "/api/jobs/", nil)
		require.NoError(t, err)

		assert.Equal(t, int32(1), b.refreshes.Load())
		assert.Equal(t, []string{"Bearer " + b.issued}, b.headers())
		assert.Equal(t, b.issued, session.Tokens().Access)
		assert.Equal(t, "refresh-1", session.Tokens().Refresh)
	})

	t.Run("rejected refresh forces logout", func(t *testing.T) {
		t.Parallel()

		b := newBackend(t, http.StatusUnauthorized)

		loggedOut := make(chan struct{}, 1)
		session := auth.NewSession(auth.WithOnLogout(func() { loggedOut <- struct{}{} }))
		require.NoError(t, session.Login(context.Background(), &drf.TokenPair{
			Access:  signToken(t, base, 1),
			Refresh: "refresh-1",
		}))

		manager := auth.NewTokenManager(
			auth.NewAuthenticator(plainClient(b.server), session),
			auth.WithClock(func() time.Time { return base.Add(time.Second) }),
		)

		client := drfhttp.NewClient(b.server.URL, manager)

		_, err := client.Get(context.Background(), "/api/jobs/", nil)
		require.Error(t, err)
		assert.True(t, drf.IsUnauthorized(err))
		assert.False(t, drf.IsAuthExpired(err))

		assert.Nil(t, session.Tokens())
		assert.Equal(t, []string{""}, b.headers())

		select {
		case <-loggedOut:
		default:
			t.Fatal("onLogout was not called")
		}
	})

	t.Run("unreachable refresh keeps stale token", func(t *testing.T) {
		t.Parallel()

		stale := signToken(t, base, 1)
		session := auth.NewSession()
		require.NoError(t, session.Login(context.Background(), &drf.TokenPair{Access: stale, Refresh: "r"}))

		offline := requesterFunc(func(context.Context, *drf.Request) (*drf.Response, error) {
			return nil, drf.NewConnectivityError(errNoRoute)
		})

		manager := auth.NewTokenManager(
			auth.NewAuthenticator(offline, session),
			auth.WithClock(func() time.Time { return base.Add(time.Second) }),
		)

		token, err := manager.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, stale, token)
		assert.True(t, session.Authenticated())
	})

	t.Run("server error keeps stale token", func(t *testing.T) {
		t.Parallel()

		b := newBackend(t, http.StatusInternalServerError)
		session, manager := expiredSession(t, b)
		stale := session.Tokens().Access

		token, err := manager.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, stale, token)
		assert.True(t, session.Authenticated())
	})

	t.Run("caller cancellation", func(t *testing.T) {
		t.Parallel()

		b := newBackend(t, http.StatusOK)
		b.delay = 200 * time.Millisecond
		_, manager := expiredSession(t, b)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := manager.GetToken(ctx)
		require.Error(t, err)
		assert.True(t, drf.IsCancelled(err))
	})
}

func TestTokenManager_ConcurrentExpiredRequestsShareOneRefresh(t *testing.T) {
	t.Parallel()

	b := newBackend(t, http.StatusOK)
	b.delay = 50 * time.Millisecond

	durable := NewMockStore()
	session := auth.NewSession(auth.WithDurableStore(durable))
	require.NoError(t, session.Login(context.Background(), &drf.TokenPair{
		Access:  signToken(t, base, 1),
		Refresh: "refresh-1",
	}))

	manager := auth.NewTokenManager(
		auth.NewAuthenticator(plainClient(b.server), session),
		auth.WithClock(func() time.Time { return base.Add(time.Second) }),
	)
	client := drfhttp.NewClient(b.server.URL, manager)

	const requests = 20

	var wg sync.WaitGroup

	errs := make(chan error, requests)

	for range requests {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := client.Get(context.Background(), "/api/jobs/", nil)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), b.refreshes.Load())
	// One write for the login, one for the refresh.
	assert.Equal(t, 2, durable.Sets())

	for _, header := range b.headers() {
		assert.Equal(t, "Bearer "+b.issued, header)
	}
}

func TestTokenManager_Refresh(t *testing.T) {
	t.Parallel()

	b := newBackend(t, http.StatusOK)
	session, manager := expiredSession(t, b)

	tokens, err := manager.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.issued, tokens.Access)
	assert.Equal(t, b.issued, session.Tokens().Access)

	require.NoError(t, session.Logout(context.Background()))

	_, err = manager.Refresh(context.Background())
	assert.True(t, drf.IsAuthExpired(err))
}

func TestTokenManager_Interceptor(t *testing.T) {
	t.Parallel()

	session := auth.NewSession()
	access := signToken(t, time.Now().Add(time.Hour), 1)
	require.NoError(t, session.Login(context.Background(), &drf.TokenPair{Access: access}))

	manager := auth.NewTokenManager(auth.NewAuthenticator(nil, session))

	req := &drf.Request{}
	require.NoError(t, manager.Interceptor()(context.Background(), req))
	assert.Equal(t, "Bearer "+access, req.Headers.Get("Authorization"))
}

// gatedRefresh serves a refresh endpoint that blocks until release is
// closed. started receives once the refresh request has arrived.
func gatedRefresh(t *testing.T, issued string) (*httptest.Server, <-chan struct{}, chan struct{}) {
	t.Helper()

	started := make(chan struct{}, 1)
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release

		writeJSON(w, http.StatusOK, map[string]string{"access": issued})
	}))
	t.Cleanup(server.Close)

	return server, started, release
}

type tokenResult struct {
	token string
	err   error
}

//nolint:funlen
func TestTokenManager_SessionChangeDuringRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	start := func(t *testing.T) (*auth.Session, *MockStore, <-chan struct{}, chan struct{}, <-chan tokenResult) {
		t.Helper()

		server, started, release := gatedRefresh(t, signToken(t, base.Add(time.Hour), 1))

		durable := NewMockStore()
		session := auth.NewSession(auth.WithDurableStore(durable))
		require.NoError(t, session.Login(ctx, &drf.TokenPair{Access: signToken(t, base, 1), Refresh: "refresh-1"}))

		manager := auth.NewTokenManager(
			auth.NewAuthenticator(plainClient(server), session),
			auth.WithClock(func() time.Time { return base.Add(time.Second) }),
		)

		done := make(chan tokenResult, 1)

		go func() {
			token, err := manager.GetToken(ctx)
			done <- tokenResult{token: token, err: err}
		}()

		return session, durable, started, release, done
	}

	t.Run("logout sticks", func(t *testing.T) {
		t.Parallel()

		session, durable, started, release, done := start(t)

		<-started
		require.NoError(t, session.Logout(ctx))
		close(release)

		res := <-done
		require.NoError(t, res.err)
		assert.Empty(t, res.token)

		assert.Nil(t, session.Tokens())

		_, err := durable.Get(ctx, constants.DefaultTokensKey)
		require.ErrorIs(t, err, constants.ErrTokenSlotNotFound)
	})

	t.Run("new login survives", func(t *testing.T) {
		t.Parallel()

		session, durable, started, release, done := start(t)

		<-started

		access := signToken(t, base.Add(2*time.Hour), 2)
		require.NoError(t, session.Login(ctx, &drf.TokenPair{Access: access, Refresh: "refresh-2"}))
		close(release)

		res := <-done
		require.NoError(t, res.err)
		assert.Equal(t, access, res.token)

		assert.Equal(t, &drf.TokenPair{Access: access, Refresh: "refresh-2"}, session.Tokens())

		stored, err := durable.Get(ctx, constants.DefaultTokensKey)
		require.NoError(t, err)
		assert.JSONEq(t, `{"access":"`+access+`","refresh":"refresh-2"}`, string(stored))
	})
}
