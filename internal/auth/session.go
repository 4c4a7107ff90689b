package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/pkg/drf"
)

// Session owns the current token pair and its persistence. The pair is
// replaced on login and refresh, never mutated in place.
//
// persistMu is held across a state change and the store write that follows
// it, so stores never end up behind the in-memory pair. Lock order is
// persistMu, then mu.
type Session struct {
	persistMu  sync.Mutex
	mu         sync.RWMutex
	tokens     *drf.TokenPair
	key        string
	durable    Store
	scoped     Store
	useDurable bool
	logger     drf.Logger
	onLogin    func(*drf.TokenPair)
	onLogout   func()

	subsMu  sync.Mutex
	subs    map[uint64]func(*drf.TokenPair)
	nextSub uint64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDurableStore sets the store that survives restarts. New logins are
// written there unless WithDurable(false) is given.
func WithDurableStore(store Store) SessionOption {
	return func(s *Session) {
		s.durable = store
		s.useDurable = store != nil
	}
}

// WithSessionStore replaces the process-scoped store.
func WithSessionStore(store Store) SessionOption {
	return func(s *Session) {
		if store != nil {
			s.scoped = store
		}
	}
}

// WithDurable selects which store receives new logins.
func WithDurable(durable bool) SessionOption {
	return func(s *Session) {
		s.useDurable = durable
	}
}

// WithTokensKey sets the slot key.
func WithTokensKey(key string) SessionOption {
	return func(s *Session) {
		if key != "" {
			s.key = key
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger drf.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOnLogin registers a callback fired after every login.
func WithOnLogin(fn func(*drf.TokenPair)) SessionOption {
	return func(s *Session) {
		s.onLogin = fn
	}
}

// WithOnLogout registers a callback fired after every logout, forced or not.
func WithOnLogout(fn func()) SessionOption {
	return func(s *Session) {
		s.onLogout = fn
	}
}

// NewSession creates a logged-out session. Call Load to restore persisted
// tokens.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		key:    constants.DefaultTokensKey,
		scoped: NewMemoryStore(),
		logger: drf.NopLogger{},
		subs:   make(map[uint64]func(*drf.TokenPair)),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.durable == nil {
		s.useDurable = false
	}

	return s
}

// Load restores tokens, preferring the durable store over the session one.
// Missing, unreadable or malformed slots count as logged out.
func (s *Session) Load(ctx context.Context) *drf.TokenPair {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	var tokens *drf.TokenPair

	for _, store := range s.stores() {
		tokens = s.read(ctx, store)
		if tokens != nil {
			break
		}
	}

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()

	s.notify(tokens)

	return copyTokens(tokens)
}

func (s *Session) read(ctx context.Context, store Store) *drf.TokenPair {
	data, err := store.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, constants.ErrTokenSlotNotFound) {
			s.logger.Warn("Failed to read stored tokens", map[string]interface{}{"error": err.Error()})
		}

		return nil
	}

	tokens, err := decodeTokens(data)
	if err != nil {
		s.logger.Warn("Ignoring stored tokens", map[string]interface{}{"error": err.Error()})

		return nil
	}

	return tokens
}

// Login replaces the current pair, persists it and fires onLogin. The
// in-memory state changes even if persisting fails.
func (s *Session) Login(ctx context.Context, tokens *drf.TokenPair) error {
	if tokens == nil || tokens.Access == "" {
		return constants.ErrMalformedTokens
	}

	err := s.replace(ctx, tokens)

	if s.onLogin != nil {
		s.onLogin(copyTokens(tokens))
	}

	return err
}

// Update replaces the pair after a refresh. Unlike Login it does not fire
// onLogin.
func (s *Session) Update(ctx context.Context, tokens *drf.TokenPair) error {
	if tokens == nil || tokens.Access == "" {
		return constants.ErrMalformedTokens
	}

	return s.replace(ctx, tokens)
}

// UpdateIf replaces the pair only while the current pair still carries
// refresh, and reports whether it did. A refresh that completes after a
// logout or a new login is discarded.
func (s *Session) UpdateIf(ctx context.Context, refresh string, tokens *drf.TokenPair) (bool, error) {
	if tokens == nil || tokens.Access == "" {
		return false, constants.ErrMalformedTokens
	}

	return s.swap(ctx, tokens, func(current *drf.TokenPair) bool {
		return current != nil && current.Refresh == refresh
	})
}

func (s *Session) replace(ctx context.Context, tokens *drf.TokenPair) error {
	_, err := s.swap(ctx, tokens, nil)

	return err
}

// swap installs tokens and persists them when accept, if set, approves the
// current pair.
func (s *Session) swap(ctx context.Context, tokens *drf.TokenPair, accept func(*drf.TokenPair) bool) (bool, error) {
	pair := copyTokens(tokens)

	data, err := json.Marshal(pair)
	if err != nil {
		return false, fmt.Errorf("failed to encode tokens: %w", err)
	}

	s.persistMu.Lock()

	s.mu.Lock()
	if accept != nil && !accept(s.tokens) {
		s.mu.Unlock()
		s.persistMu.Unlock()

		return false, nil
	}

	s.tokens = pair
	target := s.target()
	s.mu.Unlock()

	err = target.Set(ctx, s.key, data)
	s.persistMu.Unlock()

	s.notify(pair)

	if err != nil {
		s.logger.Error("Failed to persist tokens", map[string]interface{}{"error": err.Error()})

		return true, fmt.Errorf("failed to persist tokens: %w", err)
	}

	return true, nil
}

// Logout clears the pair from memory and both stores, then fires onLogout.
func (s *Session) Logout(ctx context.Context) error {
	s.persistMu.Lock()

	s.mu.Lock()
	s.tokens = nil
	s.mu.Unlock()

	err := s.clearStores(ctx)
	s.persistMu.Unlock()

	s.loggedOut()

	return err
}

// expire logs out only if the current pair still carries refresh. A login
// that raced with a rejected refresh survives.
func (s *Session) expire(ctx context.Context, refresh string) bool {
	s.persistMu.Lock()

	s.mu.Lock()
	if s.tokens == nil || s.tokens.Refresh != refresh {
		s.mu.Unlock()
		s.persistMu.Unlock()

		return false
	}

	s.tokens = nil
	s.mu.Unlock()

	err := s.clearStores(ctx)
	s.persistMu.Unlock()

	if err != nil {
		s.logger.Warn("Failed to clear expired session", map[string]interface{}{"error": err.Error()})
	}

	s.loggedOut()

	return true
}

// clearStores must be called with persistMu held.
func (s *Session) clearStores(ctx context.Context) error {
	var errs []error

	for _, store := range s.stores() {
		err := store.Delete(ctx, s.key)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to clear stored tokens: %w", errors.Join(errs...))
	}

	return nil
}

func (s *Session) loggedOut() {
	s.notify(nil)

	if s.onLogout != nil {
		s.onLogout()
	}
}

// SetDurable switches the store receiving the pair and moves the current
// pair there.
func (s *Session) SetDurable(ctx context.Context, durable bool) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.durable == nil {
		durable = false
	}

	if s.useDurable == durable {
		s.mu.Unlock()

		return nil
	}

	previous := s.target()
	s.useDurable = durable
	target := s.target()
	tokens := copyTokens(s.tokens)
	s.mu.Unlock()

	if tokens == nil {
		return nil
	}

	err := previous.Delete(ctx, s.key)
	if err != nil {
		s.logger.Warn("Failed to clear previous token store", map[string]interface{}{"error": err.Error()})
	}

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	err = target.Set(ctx, s.key, data)
	if err != nil {
		return fmt.Errorf("failed to persist tokens: %w", err)
	}

	return nil
}

// Tokens returns a copy of the current pair, or nil when logged out.
func (s *Session) Tokens() *drf.TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyTokens(s.tokens)
}

// Authenticated reports whether a pair is held.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tokens != nil
}

// User decodes the current access token.
func (s *Session) User() *drf.User {
	return DecodeUser(s.Tokens())
}

// Subscribe registers fn for every change of the pair, nil meaning logged
// out. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(*drf.TokenPair)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Session) notify(tokens *drf.TokenPair) {
	s.subsMu.Lock()
	listeners := make([]func(*drf.TokenPair), 0, len(s.subs))

	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range listeners {
		fn(copyTokens(tokens))
	}
}

// stores lists the durable store first so Load prefers it.
func (s *Session) stores() []Store {
	if s.durable == nil {
		return []Store{s.scoped}
	}

	return []Store{s.durable, s.scoped}
}

// target must be called with mu held.
func (s *Session) target() Store {
	if s.useDurable {
		return s.durable
	}

	return s.scoped
}

// DecodeUser decodes the access token claims of tokens. It returns nil when
// tokens is nil or the token cannot be decoded.
func DecodeUser(tokens *drf.TokenPair) *drf.User {
	if tokens == nil {
		return nil
	}

	claims, err := drf.DecodeClaims(tokens.Access)
	if err != nil {
		return nil
	}

	return drf.UserFromClaims(claims)
}

func decodeTokens(data []byte) (*drf.TokenPair, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, constants.ErrMalformedTokens
	}

	tokens := &drf.TokenPair{}

	err := json.Unmarshal(data, tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrMalformedTokens, err)
	}

	if tokens.Access == "" {
		return nil, constants.ErrMalformedTokens
	}

	return tokens, nil
}

func copyTokens(tokens *drf.TokenPair) *drf.TokenPair {
	if tokens == nil {
		return nil
	}

	pair := *tokens

	return &pair
}
