package drf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Static errors for err113 compliance.
var (
	ErrNoFetcher    = errors.New("no fetcher registered for query")
	ErrQueryRemoved = errors.New("query removed from cache")
	ErrNoData       = errors.New("query has no data")
)

// Status is the lifecycle state of one cache slot.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Fetcher performs the network read for one cache slot.
type Fetcher func(ctx context.Context) (json.RawMessage, error)

// QueryOptions tune one subscription.
type QueryOptions struct {
	// RefetchInterval re-issues the fetch periodically while subscribed.
	// Zero disables periodic refetch.
	RefetchInterval time.Duration
}

// QueryState is a snapshot of one cache slot.
type QueryState struct {
	Key       QueryKey
	Data      json.RawMessage
	Err       error
	Status    Status
	Fetching  bool
	Stale     bool
	UpdatedAt time.Time

	version uint64
}

// Loading reports whether a fetch is in flight for the slot.
func (s QueryState) Loading() bool {
	return s.Fetching
}

// HasData reports whether the slot holds a value.
func (s QueryState) HasData() bool {
	return len(s.Data) > 0
}

// Decode unmarshals the slot value into T.
func Decode[T any](state QueryState) (T, error) {
	var value T

	if !state.HasData() {
		return value, ErrNoData
	}

	err := json.Unmarshal(state.Data, &value)
	if err != nil {
		return value, fmt.Errorf("failed to decode %s: %w", state.Key.String(), err)
	}

	return value, nil
}

// CacheStats represents query cache statistics.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Fetches  int64
	Failures int64
}

// GetHitRate returns the cache hit rate.
func (s *CacheStats) GetHitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

type queryEntry struct {
	key       QueryKey
	data      json.RawMessage
	err       error
	status    Status
	inflight  int
	stale     bool
	updatedAt time.Time
	fetcher   Fetcher
	subs      map[string]*Subscription

	// generation changes on invalidation; fetches started under an older
	// generation do not write their result back.
	generation uint64
	version    uint64
}

// QueryCache is the keyed read path. Concurrent reads of one key share a
// single in-flight fetch; subscribers are notified of every state change.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*queryEntry
	flights singleflight.Group

	backend   Cache
	ttl       time.Duration
	staleTime time.Duration
	logger    Logger
	metrics   *Metrics
	now       func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	fetches  atomic.Int64
	failures atomic.Int64
}

// QueryCacheOption configures a QueryCache.
type QueryCacheOption func(*QueryCache)

// WithBackend sets the second-level backend.
func WithBackend(backend Cache) QueryCacheOption {
	return func(c *QueryCache) { c.backend = backend }
}

// WithCacheOptions applies TTL and stale time.
func WithCacheOptions(options *CacheOptions) QueryCacheOption {
	return func(c *QueryCache) {
		if options != nil {
			c.ttl = options.TTL
			c.staleTime = options.StaleTime
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger Logger) QueryCacheOption {
	return func(c *QueryCache) { c.logger = logger }
}

// WithCacheMetrics sets the metrics sink.
func WithCacheMetrics(metrics *Metrics) QueryCacheOption {
	return func(c *QueryCache) { c.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) QueryCacheOption {
	return func(c *QueryCache) { c.now = now }
}

// NewQueryCache creates an empty query cache.
func NewQueryCache(opts ...QueryCacheOption) *QueryCache {
	c := &QueryCache{
		entries: make(map[string]*queryEntry),
		backend: NewNoOpCache(),
		logger:  NopLogger{},
		metrics: NewMetrics(nil),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch returns the slot value, fetching it first unless the slot is fresh.
// Concurrent callers for the same key share one fetch.
func (c *QueryCache) Fetch(ctx context.Context, key QueryKey, fetcher Fetcher) (QueryState, error) {
	id := key.String()

	entry := c.lockedEntry(ctx, key, fetcher)

	if c.fresh(entry) {
		state := c.snapshot(entry)
		c.mu.Unlock()
		c.hit()

		return state, nil
	}
	c.mu.Unlock()
	c.miss()

	return c.await(ctx, id)
}

// Read returns the current slot snapshot immediately and starts a
// background fetch when the slot is missing or stale.
func (c *QueryCache) Read(ctx context.Context, key QueryKey, fetcher Fetcher) QueryState {
	id := key.String()

	entry := c.lockedEntry(ctx, key, fetcher)

	if c.fresh(entry) {
		state := c.snapshot(entry)
		c.mu.Unlock()
		c.hit()

		return state
	}

	state := c.snapshot(entry)
	c.mu.Unlock()
	c.miss()

	state.Fetching = true
	c.background(ctx, id)

	return state
}

// Refetch forces a fetch with the last registered fetcher.
func (c *QueryCache) Refetch(ctx context.Context, key QueryKey) (QueryState, error) {
	id := key.String()

	c.mu.Lock()
	entry, ok := c.entries[id]

	if !ok || entry.fetcher == nil {
		c.mu.Unlock()

		return QueryState{Key: key, Status: StatusIdle}, fmt.Errorf("%w: %s", ErrNoFetcher, id)
	}

	entry.stale = true
	c.mu.Unlock()

	return c.await(ctx, id)
}

// Subscribe attaches listener to the slot. The listener receives the current
// snapshot right away and every later change until the subscription is
// cancelled through Unsubscribe or ctx. Deliveries to one subscription are
// serialized; a listener must not synchronously write to the key it observes.
func (c *QueryCache) Subscribe(ctx context.Context, key QueryKey, fetcher Fetcher, opts QueryOptions, listener func(QueryState)) *Subscription {
	id := key.String()
	sub := &Subscription{
		id:       uuid.NewString(),
		key:      key,
		listener: listener,
		cache:    c,
		done:     make(chan struct{}),
	}

	entry := c.lockedEntry(ctx, key, fetcher)
	entry.subs[sub.id] = sub
	needsFetch := !c.fresh(entry)
	state := c.snapshot(entry)
	c.mu.Unlock()

	if needsFetch {
		state.Fetching = true
		c.miss()
	} else {
		c.hit()
	}

	sub.deliver(state)

	if needsFetch {
		c.background(ctx, id)
	}

	go c.watch(ctx, sub, opts.RefetchInterval)

	return sub
}

// Invalidate marks every slot whose key starts with prefix as stale. Data
// stays readable; the next read refetches. Slots with subscribers refetch
// immediately. Returns the number of slots marked.
func (c *QueryCache) Invalidate(ctx context.Context, prefix QueryKey) int {
	var (
		marked  []string
		refetch []string
		states  []QueryState
		subs    [][]*Subscription
	)

	c.mu.Lock()
	for id, entry := range c.entries {
		if !entry.key.HasPrefix(prefix) {
			continue
		}

		entry.stale = true
		entry.generation++
		entry.version++
		c.flights.Forget(id)
		marked = append(marked, id)

		if len(entry.subs) > 0 {
			refetch = append(refetch, id)
			states = append(states, c.snapshot(entry))
			subs = append(subs, subscribers(entry))
		}
	}
	c.mu.Unlock()

	for _, id := range marked {
		err := c.backend.Delete(ctx, id)
		if err != nil {
			c.logger.Warn("failed to drop backend entry", map[string]interface{}{"key": id, "error": err.Error()})
		}
	}

	for i, id := range refetch {
		notify(subs[i], states[i])
		c.background(ctx, id)
	}

	c.metrics.RecordInvalidations(len(marked))
	c.logger.Debug("cache invalidated", map[string]interface{}{"prefix": prefix.String(), "count": len(marked)})

	return len(marked)
}

// SetData writes value into the slot as a successful, fresh result.
func (c *QueryCache) SetData(ctx context.Context, key QueryKey, value json.RawMessage) {
	id := key.String()

	entry := c.lockedEntry(ctx, key, nil)
	entry.generation++
	c.flights.Forget(id)
	c.apply(entry, value, nil)
	state := c.snapshot(entry)
	subs := subscribers(entry)
	c.mu.Unlock()

	c.store(ctx, id, state)
	notify(subs, state)
}

// State returns the slot snapshot without fetching.
func (c *QueryCache) State(key QueryKey) (QueryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.String()]
	if !ok {
		return QueryState{Key: key, Status: StatusIdle}, false
	}

	return c.snapshot(entry), true
}

// Keys returns the keys of all slots.
func (c *QueryCache) Keys() []QueryKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]QueryKey, 0, len(c.entries))
	for _, entry := range c.entries {
		keys = append(keys, entry.key)
	}

	return keys
}

// Len returns the number of slots.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Remove drops the slot and closes its subscriptions.
func (c *QueryCache) Remove(ctx context.Context, key QueryKey) {
	id := key.String()

	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
		c.flights.Forget(id)
	}
	size := len(c.entries)
	c.mu.Unlock()

	if !ok {
		return
	}

	for _, sub := range subscribers(entry) {
		sub.close()
	}

	_ = c.backend.Delete(ctx, id)
	c.metrics.SetCacheSize(size)
}

// Clear drops every slot and closes all subscriptions.
func (c *QueryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*queryEntry)
	c.mu.Unlock()

	for id, entry := range entries {
		c.flights.Forget(id)

		for _, sub := range subscribers(entry) {
			sub.close()
		}
	}

	c.metrics.SetCacheSize(0)

	err := c.backend.Clear(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear cache backend: %w", err)
	}

	return nil
}

// Stats returns a copy of the cache statistics.
func (c *QueryCache) Stats() CacheStats {
	return CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Fetches:  c.fetches.Load(),
		Failures: c.failures.Load(),
	}
}

// lockedEntry locks c.mu and returns the slot for key, creating it on first
// use. A new slot is seeded from the backend, which is read without holding
// c.mu. Returns with c.mu held.
func (c *QueryCache) lockedEntry(ctx context.Context, key QueryKey, fetcher Fetcher) *queryEntry {
	id := key.String()

	c.mu.Lock()

	if _, ok := c.entries[id]; !ok {
		c.mu.Unlock()
		stored, err := c.backend.Get(ctx, id)
		c.mu.Lock()

		// Another caller may have created the slot meanwhile.
		if _, ok := c.entries[id]; !ok {
			entry := &queryEntry{
				key:    key,
				status: StatusIdle,
				subs:   make(map[string]*Subscription),
			}

			if err == nil && stored != nil && len(stored.Data) > 0 {
				entry.data = stored.Data
				entry.status = StatusSuccess
				entry.updatedAt = stored.UpdatedAt
				entry.stale = true
			}

			c.entries[id] = entry
			c.metrics.SetCacheSize(len(c.entries))
		}
	}

	entry := c.entries[id]
	if fetcher != nil {
		entry.fetcher = fetcher
	}

	return entry
}

// Must hold c.mu.
func (c *QueryCache) fresh(entry *queryEntry) bool {
	if entry.status != StatusSuccess || entry.stale {
		return false
	}

	if c.staleTime > 0 && c.now().Sub(entry.updatedAt) >= c.staleTime {
		return false
	}

	return true
}

// Must hold c.mu.
func (c *QueryCache) snapshot(entry *queryEntry) QueryState {
	return QueryState{
		Key:       entry.key,
		Data:      entry.data,
		Err:       entry.err,
		Status:    entry.status,
		Fetching:  entry.inflight > 0,
		Stale:     entry.stale,
		UpdatedAt: entry.updatedAt,
		version:   entry.version,
	}
}

// Must hold c.mu.
func (c *QueryCache) apply(entry *queryEntry, data json.RawMessage, err error) {
	entry.version++

	if err != nil {
		entry.err = err
		entry.status = StatusError

		return
	}

	entry.data = data
	entry.err = nil
	entry.status = StatusSuccess
	entry.stale = false
	entry.updatedAt = c.now()
}

// await joins (or starts) the flight for id and waits for it or for ctx.
func (c *QueryCache) await(ctx context.Context, id string) (QueryState, error) {
	ch := c.flights.DoChan(id, func() (interface{}, error) {
		return c.run(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return c.current(id), NewCancelledError(ctx.Err())
	case res := <-ch:
		state, _ := res.Val.(QueryState)

		return state, res.Err
	}
}

// background starts the flight for id without waiting for it.
func (c *QueryCache) background(ctx context.Context, id string) {
	detached := context.WithoutCancel(ctx)

	go func() {
		_, _ = c.await(detached, id)
	}()
}

func (c *QueryCache) run(ctx context.Context, id string) (QueryState, error) {
	c.mu.Lock()
	entry, ok := c.entries[id]

	if !ok {
		c.mu.Unlock()

		return QueryState{}, fmt.Errorf("%w: %s", ErrQueryRemoved, id)
	}

	if entry.fetcher == nil {
		state := c.snapshot(entry)
		c.mu.Unlock()

		return state, fmt.Errorf("%w: %s", ErrNoFetcher, id)
	}

	fetcher := entry.fetcher
	generation := entry.generation
	entry.inflight++
	entry.version++

	if entry.status == StatusIdle {
		entry.status = StatusLoading
	}

	loading := c.snapshot(entry)
	subs := subscribers(entry)
	c.mu.Unlock()

	notify(subs, loading)

	data, err := fetcher(ctx)

	c.fetches.Add(1)
	c.metrics.RecordFetch(err)

	if err != nil {
		c.failures.Add(1)
		c.logger.Debug("query fetch failed", map[string]interface{}{"key": id, "error": err.Error()})
	}

	c.mu.Lock()
	entry.inflight--

	current, stillCached := c.entries[id]
	if !stillCached || current != entry || entry.generation != generation {
		// superseded by invalidation, SetData or removal
		if entry.inflight == 0 && entry.status == StatusLoading {
			entry.status = StatusIdle
		}

		entry.version++
		state := c.snapshot(entry)
		subs = subscribers(entry)
		c.mu.Unlock()

		notify(subs, state)

		if err != nil {
			return state, err
		}

		state.Data = data

		return state, nil
	}

	c.apply(entry, data, err)
	state := c.snapshot(entry)
	subs = subscribers(entry)
	c.mu.Unlock()

	if err == nil {
		c.store(ctx, id, state)
	}

	notify(subs, state)

	return state, err
}

func (c *QueryCache) current(id string) QueryState {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return QueryState{Status: StatusIdle}
	}

	return c.snapshot(entry)
}

func (c *QueryCache) store(ctx context.Context, id string, state QueryState) {
	entry := &CacheEntry{
		Data:      state.Data,
		UpdatedAt: state.UpdatedAt,
	}

	if c.ttl > 0 {
		entry.ExpiresAt = state.UpdatedAt.Add(c.ttl)
	}

	err := c.backend.Set(ctx, id, entry)
	if err != nil {
		c.logger.Warn("failed to write backend entry", map[string]interface{}{"key": id, "error": err.Error()})
	}
}

// watch drives periodic refetch and detaches sub when ctx ends.
func (c *QueryCache) watch(ctx context.Context, sub *Subscription, interval time.Duration) {
	var tick <-chan time.Time

	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick = ticker.C
	}

	id := sub.key.String()

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()

			return
		case <-sub.done:
			return
		case <-tick:
			c.mu.Lock()
			if entry, ok := c.entries[id]; ok {
				entry.stale = true
			}
			c.mu.Unlock()

			c.background(ctx, id)
		}
	}
}

func (c *QueryCache) detach(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[sub.key.String()]; ok {
		delete(entry.subs, sub.id)
	}
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	c.metrics.RecordCacheHit()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.RecordCacheMiss()
}

// Must hold c.mu.
func subscribers(entry *queryEntry) []*Subscription {
	subs := make([]*Subscription, 0, len(entry.subs))
	for _, sub := range entry.subs {
		subs = append(subs, sub)
	}

	return subs
}

func notify(subs []*Subscription, state QueryState) {
	for _, sub := range subs {
		sub.deliver(state)
	}
}

// Subscription is one consumer attached to a cache slot.
type Subscription struct {
	id       string
	key      QueryKey
	listener func(QueryState)
	cache    *QueryCache

	mu          sync.Mutex
	lastVersion uint64
	delivered   bool
	closed      atomic.Bool
	done        chan struct{}
	once        sync.Once
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Key returns the subscribed key.
func (s *Subscription) Key() QueryKey {
	return s.key
}

// Done is closed once the subscription is detached.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe detaches the listener. No new delivery starts afterwards.
func (s *Subscription) Unsubscribe() {
	s.close()
	s.cache.detach(s)
}

func (s *Subscription) close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func (s *Subscription) deliver(state QueryState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return
	}

	// drop snapshots overtaken by a newer delivery
	if s.delivered && state.version < s.lastVersion {
		return
	}

	s.delivered = true
	s.lastVersion = state.version

	if s.listener != nil {
		s.listener(state)
	}
}

// GetFetcher returns a Fetcher issuing GET path with query through r.
func GetFetcher(r Requester, path string, query url.Values) Fetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		resp, err := r.Do(ctx, &Request{
			Method: http.MethodGet,
			Path:   path,
			Query:  query,
		})
		if err != nil {
			return nil, err
		}

		return json.RawMessage(resp.Body), nil
	}
}
