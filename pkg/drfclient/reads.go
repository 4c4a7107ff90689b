package drfclient

import (
	"context"
	"net/url"
	"strconv"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/pkg/drf"
)

// ReadOptions tune one typed read.
type ReadOptions struct {
	// API overrides the client API prefix.
	API string
	// Action appends a sub-action to the URL and the cache key.
	Action string
	// ResourceKey and PrimaryKeyKey override the cache key parts when they
	// differ from the URL parts.
	ResourceKey   string
	PrimaryKeyKey interface{}
}

// ReadOption configures a typed read.
type ReadOption func(*ReadOptions)

// WithAction reads {resource}/[{pk}/]{action}/.
func WithAction(action string) ReadOption {
	return func(o *ReadOptions) { o.Action = action }
}

// WithAPI overrides the API prefix for one read.
func WithAPI(api string) ReadOption {
	return func(o *ReadOptions) { o.API = api }
}

// WithResourceKey caches the read under a different resource name.
func WithResourceKey(resource string) ReadOption {
	return func(o *ReadOptions) { o.ResourceKey = resource }
}

// WithPrimaryKeyKey caches an entity read under a different primary key.
func WithPrimaryKeyKey(pk interface{}) ReadOption {
	return func(o *ReadOptions) { o.PrimaryKeyKey = pk }
}

func (c *Client) readOptions(resource string, pk interface{}, opts []ReadOption) ReadOptions {
	o := ReadOptions{API: c.config.APIPrefix, ResourceKey: resource, PrimaryKeyKey: pk}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// EntityQuery returns the cache key and fetcher of a single item read.
func (c *Client) EntityQuery(resource string, pk interface{}, opts ...ReadOption) (drf.QueryKey, drf.Fetcher, error) {
	if resource == "" {
		return nil, nil, constants.ErrResourceRequired
	}

	if pk == nil || pk == "" {
		return nil, nil, constants.ErrPrimaryKeyRequired
	}

	o := c.readOptions(resource, pk, opts)
	key := drf.EntityKey(o.ResourceKey, o.PrimaryKeyKey, o.Action)
	path := drf.Endpoint(o.API, resource, pk, o.Action)

	return key, drf.GetFetcher(c.http, path, nil), nil
}

// ListQuery returns the cache key and fetcher of an unpaginated list read.
func (c *Client) ListQuery(resource string, params drf.Params, opts ...ReadOption) (drf.QueryKey, drf.Fetcher, error) {
	if resource == "" {
		return nil, nil, constants.ErrResourceRequired
	}

	o := c.readOptions(resource, nil, opts)
	key := drf.ListKey(o.ResourceKey, params, o.Action)
	path := drf.Endpoint(o.API, resource, nil, o.Action)

	return key, drf.GetFetcher(c.http, path, params.Values()), nil
}

// PageQuery returns the cache key and fetcher of one page of a list.
func (c *Client) PageQuery(resource string, pageSize, page int, params drf.Params, opts ...ReadOption) (drf.QueryKey, drf.Fetcher, error) {
	if resource == "" {
		return nil, nil, constants.ErrResourceRequired
	}

	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}

	if page <= 0 {
		page = constants.DefaultPage
	}

	o := c.readOptions(resource, nil, opts)
	key := drf.PageKey(o.ResourceKey, pageSize, page, params, o.Action)
	path := drf.Endpoint(o.API, resource, nil, o.Action)

	query := params.Values()
	query.Set(constants.PageSizeParam, strconv.Itoa(pageSize))
	query.Set(constants.PageParam, strconv.Itoa(page))

	return key, drf.GetFetcher(c.http, path, query), nil
}

// GetEntity reads one item through the cache.
func GetEntity[T any](ctx context.Context, c *Client, resource string, pk interface{}, opts ...ReadOption) (T, error) {
	var zero T

	key, fetcher, err := c.EntityQuery(resource, pk, opts...)
	if err != nil {
		return zero, err
	}

	return fetch[T](ctx, c, key, fetcher)
}

// GetList reads an unpaginated list through the cache.
func GetList[T any](ctx context.Context, c *Client, resource string, params drf.Params, opts ...ReadOption) ([]T, error) {
	key, fetcher, err := c.ListQuery(resource, params, opts...)
	if err != nil {
		return nil, err
	}

	return fetch[[]T](ctx, c, key, fetcher)
}

// GetPage reads one page of a list through the cache.
func GetPage[T any](ctx context.Context, c *Client, resource string, pageSize, page int, params drf.Params, opts ...ReadOption) (*drf.PageResponse[T], error) {
	key, fetcher, err := c.PageQuery(resource, pageSize, page, params, opts...)
	if err != nil {
		return nil, err
	}

	result, err := fetch[drf.PageResponse[T]](ctx, c, key, fetcher)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// GetPaginated reads the page the controller points at and feeds the
// reported count back into it.
func GetPaginated[T any](ctx context.Context, c *Client, resource string, p *drf.PaginationController, params drf.Params, opts ...ReadOption) (*drf.PageResponse[T], error) {
	page, err := GetPage[T](ctx, c, resource, p.PageSize(), p.Page(), params, opts...)
	if err != nil {
		return nil, err
	}

	drf.Observe(p, page)

	return page, nil
}

// WatchPage subscribes to one page. fn receives every state change with the
// decoded page, nil until data arrives or when the data cannot be decoded.
func WatchPage[T any](ctx context.Context, c *Client, resource string, pageSize, page int, params drf.Params, queryOpts drf.QueryOptions, fn func(*drf.PageResponse[T], drf.QueryState), opts ...ReadOption) (*drf.Subscription, error) {
	key, fetcher, err := c.PageQuery(resource, pageSize, page, params, opts...)
	if err != nil {
		return nil, err
	}

	return c.cache.Subscribe(ctx, key, fetcher, queryOpts, func(state drf.QueryState) {
		if !state.HasData() {
			fn(nil, state)

			return
		}

		decoded, decodeErr := drf.Decode[drf.PageResponse[T]](state)
		if decodeErr != nil {
			fn(nil, state)

			return
		}

		fn(&decoded, state)
	}), nil
}

// WatchEntity subscribes to one item.
func WatchEntity[T any](ctx context.Context, c *Client, resource string, pk interface{}, queryOpts drf.QueryOptions, fn func(*T, drf.QueryState), opts ...ReadOption) (*drf.Subscription, error) {
	key, fetcher, err := c.EntityQuery(resource, pk, opts...)
	if err != nil {
		return nil, err
	}

	return c.cache.Subscribe(ctx, key, fetcher, queryOpts, func(state drf.QueryState) {
		if !state.HasData() {
			fn(nil, state)

			return
		}

		decoded, decodeErr := drf.Decode[T](state)
		if decodeErr != nil {
			fn(nil, state)

			return
		}

		fn(&decoded, state)
	}), nil
}

// InvalidateResource marks every cached read of resource stale.
func (c *Client) InvalidateResource(ctx context.Context, resource string) int {
	return c.cache.Invalidate(ctx, drf.QueryKey{resource})
}

// Query issues an uncached GET and returns the raw body.
func (c *Client) Query(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.http.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

func fetch[T any](ctx context.Context, c *Client, key drf.QueryKey, fetcher drf.Fetcher) (T, error) {
	var zero T

	state, err := c.cache.Fetch(ctx, key, fetcher)
	if err != nil {
		return zero, err
	}

	return drf.Decode[T](state)
}
