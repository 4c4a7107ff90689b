package drf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/dose3d/drf-crud-client/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrUploadFilenameRequired = errors.New("upload filename is required")
	ErrUnsupportedBehaviour   = errors.New("unsupported cache behaviour")
)

// CacheBehaviour governs how a successful mutation updates the cache.
type CacheBehaviour string

const (
	// CacheBehaviourDefault writes the response into the entity slot when
	// there is one, otherwise invalidates the entity slot.
	CacheBehaviourDefault CacheBehaviour = "default"
	// CacheBehaviourSet always writes the response into the entity slot.
	CacheBehaviourSet CacheBehaviour = "set"
	// CacheBehaviourInvalidate marks the entity slot stale.
	CacheBehaviourInvalidate CacheBehaviour = "invalidate"
	// CacheBehaviourNone leaves the cache untouched.
	CacheBehaviourNone CacheBehaviour = "none"
)

// ParseCacheBehaviour validates a behaviour name. Empty means default.
func ParseCacheBehaviour(s string) (CacheBehaviour, error) {
	switch CacheBehaviour(s) {
	case "", CacheBehaviourDefault:
		return CacheBehaviourDefault, nil
	case CacheBehaviourSet, CacheBehaviourInvalidate, CacheBehaviourNone:
		return CacheBehaviour(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedBehaviour, s)
	}
}

// MutationOptions describe one write endpoint and its cache policy.
type MutationOptions struct {
	// API overrides the engine API prefix.
	API        string
	Resource   string
	PrimaryKey interface{}
	Action     string

	// Method defaults to POST without a primary key and PATCH with one.
	Method  string
	Headers map[string]string

	// ResourceKey and PrimaryKeyKey override the cache key parts when they
	// differ from the URL parts.
	ResourceKey   string
	PrimaryKeyKey interface{}

	// CacheAction appends an action segment to the entity slot.
	CacheAction    string
	CacheBehaviour CacheBehaviour

	// KeepLists skips invalidation of the resource list slots.
	KeepLists bool

	OnSuccess func(resp json.RawMessage, data interface{})
	OnError   func(err error, data interface{})
}

// MutateCallbacks are per-call hooks for Mutate.
type MutateCallbacks struct {
	OnSuccess func(resp json.RawMessage)
	OnError   func(err error)
}

// MutationEngine performs writes and reconciles the query cache.
type MutationEngine struct {
	requester Requester
	cache     *QueryCache
	apiPrefix string
	logger    Logger
	metrics   *Metrics
}

// MutationEngineOption configures a MutationEngine.
type MutationEngineOption func(*MutationEngine)

// WithAPIPrefix sets the prefix prepended to resource names.
func WithAPIPrefix(prefix string) MutationEngineOption {
	return func(e *MutationEngine) { e.apiPrefix = prefix }
}

// WithMutationLogger sets the logger.
func WithMutationLogger(logger Logger) MutationEngineOption {
	return func(e *MutationEngine) { e.logger = logger }
}

// WithMutationMetrics sets the metrics sink.
func WithMutationMetrics(metrics *Metrics) MutationEngineOption {
	return func(e *MutationEngine) { e.metrics = metrics }
}

// NewMutationEngine creates an engine writing through requester and
// reconciling cache.
func NewMutationEngine(requester Requester, cache *QueryCache, opts ...MutationEngineOption) *MutationEngine {
	e := &MutationEngine{
		requester: requester,
		cache:     cache,
		apiPrefix: constants.DefaultAPIPrefix,
		logger:    NopLogger{},
		metrics:   NewMetrics(nil),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Mutation binds options into a reusable write handle.
func (e *MutationEngine) Mutation(opts MutationOptions) *Mutation {
	if opts.API == "" {
		opts.API = e.apiPrefix
	}

	if opts.CacheBehaviour == "" {
		opts.CacheBehaviour = CacheBehaviourDefault
	}

	if opts.Method == "" {
		opts.Method = http.MethodPost
		if stringify(opts.PrimaryKey) != "" {
			opts.Method = http.MethodPatch
		}
	}

	return &Mutation{
		engine:   e,
		opts:     opts,
		endpoint: Endpoint(opts.API, opts.Resource, opts.PrimaryKey, opts.Action),
	}
}

// Delete binds a DELETE handle. Set behaves like invalidate since a delete
// has no entity to write.
func (e *MutationEngine) Delete(opts MutationOptions) *Mutation {
	opts.Method = http.MethodDelete
	if opts.CacheBehaviour == CacheBehaviourSet {
		opts.CacheBehaviour = CacheBehaviourInvalidate
	}

	return e.Mutation(opts)
}

// Mutation is a bound write endpoint. Each call is an independent request.
type Mutation struct {
	engine   *MutationEngine
	opts     MutationOptions
	endpoint string

	mu      sync.Mutex
	pending int
	lastErr error
}

// Endpoint returns the request path.
func (m *Mutation) Endpoint() string {
	return m.endpoint
}

// Method returns the HTTP method.
func (m *Mutation) Method() string {
	return m.opts.Method
}

// IsLoading reports whether a call is in flight.
func (m *Mutation) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pending > 0
}

// LastError returns the failure of the latest completed call, cleared by
// the next success.
func (m *Mutation) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastErr
}

// MutateAsync performs the write and returns the response body.
func (m *Mutation) MutateAsync(ctx context.Context, data interface{}) (json.RawMessage, error) {
	req := &Request{
		Method:  m.opts.Method,
		Path:    m.endpoint,
		Body:    data,
		NoRetry: true,
	}

	return m.execute(ctx, req, data)
}

// Mutate performs the write in the background and reports through cb and
// the handle's OnSuccess/OnError.
func (m *Mutation) Mutate(ctx context.Context, data interface{}, cb MutateCallbacks) {
	go func() {
		resp, err := m.MutateAsync(ctx, data)
		if err != nil {
			if cb.OnError != nil {
				cb.OnError(err)
			}

			return
		}

		if cb.OnSuccess != nil {
			cb.OnSuccess(resp)
		}
	}()
}

// Upload posts content as multipart/form-data under the "file" field.
func (m *Mutation) Upload(ctx context.Context, filename string, content io.Reader) (json.RawMessage, error) {
	if filename == "" {
		return nil, NewClientError(ErrUploadFilenameRequired)
	}

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(constants.UploadFieldName, filename)
	if err != nil {
		return nil, NewClientError(fmt.Errorf("creating form file: %w", err))
	}

	_, err = io.Copy(part, content)
	if err != nil {
		return nil, NewClientError(fmt.Errorf("writing file to form: %w", err))
	}

	err = writer.Close()
	if err != nil {
		return nil, NewClientError(fmt.Errorf("closing multipart writer: %w", err))
	}

	method := m.opts.Method
	if method == http.MethodDelete {
		method = http.MethodPost
	}

	req := &Request{
		Method:      method,
		Path:        m.endpoint,
		RawBody:     buf.Bytes(),
		ContentType: writer.FormDataContentType(),
		NoRetry:     true,
	}

	return m.execute(ctx, req, filename)
}

func (m *Mutation) execute(ctx context.Context, req *Request, data interface{}) (json.RawMessage, error) {
	for k, v := range m.opts.Headers {
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		req.Headers.Set(k, v)
	}

	m.mu.Lock()
	m.pending++
	m.mu.Unlock()

	resp, err := m.engine.requester.Do(ctx, req)

	m.engine.metrics.RecordMutation(req.Method, err)

	m.mu.Lock()
	m.pending--
	m.lastErr = err
	m.mu.Unlock()

	if err != nil {
		m.engine.logger.Debug("mutation failed", map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
			"error":  err.Error(),
		})

		if m.opts.OnError != nil {
			m.opts.OnError(err, data)
		}

		return nil, err
	}

	body := json.RawMessage(resp.Body)
	m.reconcile(ctx, body)

	if m.opts.OnSuccess != nil {
		m.opts.OnSuccess(body, data)
	}

	return body, nil
}

func (m *Mutation) reconcile(ctx context.Context, body json.RawMessage) {
	cache := m.engine.cache
	if cache == nil || m.opts.CacheBehaviour == CacheBehaviourNone {
		return
	}

	resource := m.opts.ResourceKey
	if resource == "" {
		resource = m.opts.Resource
	}

	if !m.opts.KeepLists {
		cache.Invalidate(ctx, ListKey(resource, nil))
	}

	id := stringify(m.opts.PrimaryKeyKey)
	if id == "" {
		id = stringify(m.opts.PrimaryKey)
	}

	if id == "" {
		id = ResponseID(body)
	}

	if id == "" {
		return
	}

	key := EntityKey(resource, id, m.opts.CacheAction)

	switch m.opts.CacheBehaviour {
	case CacheBehaviourSet:
		if !hasBody(body) {
			body = json.RawMessage("null")
		}

		cache.SetData(ctx, key, body)
	case CacheBehaviourInvalidate:
		cache.Invalidate(ctx, key)
	default:
		if hasBody(body) {
			cache.SetData(ctx, key, body)
		} else {
			cache.Invalidate(ctx, key)
		}
	}
}

// ResponseID extracts the "id" member of a JSON object body.
func ResponseID(body json.RawMessage) string {
	if !hasBody(body) {
		return ""
	}

	var object map[string]interface{}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	err := decoder.Decode(&object)
	if err != nil {
		return ""
	}

	return stringify(object["id"])
}

func hasBody(body json.RawMessage) bool {
	trimmed := bytes.TrimSpace(body)

	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
