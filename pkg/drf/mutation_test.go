package drf_test

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed fills the list, page and entity slots of "jobs" with fresh data.
func seed(t *testing.T, cache *drf.QueryCache, pks ...int) {
	t.Helper()

	ctx := context.Background()
	cache.SetData(ctx, drf.ListKey("jobs", nil), json.RawMessage(`[]`))
	cache.SetData(ctx, drf.PageKey("jobs", 10, 1, nil), json.RawMessage(`{"count":0,"results":[]}`))

	for _, pk := range pks {
		cache.SetData(ctx, drf.EntityKey("jobs", pk), json.RawMessage(`{"id":0}`))
	}
}

func stale(t *testing.T, cache *drf.QueryCache, key drf.QueryKey) bool {
	t.Helper()

	state, ok := cache.State(key)
	require.True(t, ok, "slot %s missing", key.String())

	return state.Stale
}

func TestMutation_MethodDefaults(t *testing.T) {
	t.Parallel()

	engine := drf.NewMutationEngine(&fakeRequester{}, nil)

	create := engine.Mutation(drf.MutationOptions{Resource: "jobs"})
	assert.Equal(t, http.MethodPost, create.Method())
	assert.Equal(t, "/api/jobs/", create.Endpoint())

	update := engine.Mutation(drf.MutationOptions{Resource: "jobs", PrimaryKey: 3})
	assert.Equal(t, http.MethodPatch, update.Method())
	assert.Equal(t, "/api/jobs/3/", update.Endpoint())

	action := engine.Mutation(drf.MutationOptions{
		API: "/v2/", Resource: "jobs", PrimaryKey: 3, Action: "run", Method: http.MethodPut,
	})
	assert.Equal(t, http.MethodPut, action.Method())
	assert.Equal(t, "/v2/jobs/3/run/", action.Endpoint())

	del := engine.Delete(drf.MutationOptions{Resource: "jobs", PrimaryKey: 3})
	assert.Equal(t, http.MethodDelete, del.Method())
}

func TestMutation_CreateDefaultBehaviour(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return jsonResponse(http.StatusCreated, map[string]interface{}{"id": 7, "name": "build"}), nil
	}}
	cache := drf.NewQueryCache()
	seed(t, cache)

	engine := drf.NewMutationEngine(requester, cache)
	resp, err := engine.Mutation(drf.MutationOptions{Resource: "jobs"}).
		MutateAsync(context.Background(), map[string]string{"name": "build"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"name":"build"}`, string(resp))

	calls := requester.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.True(t, calls[0].NoRetry)

	entity, ok := cache.State(drf.EntityKey("jobs", 7))
	require.True(t, ok)
	assert.JSONEq(t, `{"id":7,"name":"build"}`, string(entity.Data))
	assert.False(t, entity.Stale)

	assert.True(t, stale(t, cache, drf.ListKey("jobs", nil)))
	assert.True(t, stale(t, cache, drf.PageKey("jobs", 10, 1, nil)))
}

func TestMutation_SetBehaviour(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return jsonResponse(http.StatusOK, map[string]interface{}{"id": 5, "name": "renamed"}), nil
	}}
	cache := drf.NewQueryCache()
	seed(t, cache, 5)

	engine := drf.NewMutationEngine(requester, cache)
	_, err := engine.Mutation(drf.MutationOptions{
		Resource:       "jobs",
		PrimaryKey:     5,
		CacheBehaviour: drf.CacheBehaviourSet,
	}).MutateAsync(context.Background(), map[string]string{"name": "renamed"})
	require.NoError(t, err)

	entity, _ := cache.State(drf.EntityKey("jobs", 5))
	assert.JSONEq(t, `{"id":5,"name":"renamed"}`, string(entity.Data))
	assert.True(t, stale(t, cache, drf.ListKey("jobs", nil)))
}

func TestMutation_DeleteInvalidate(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return &drf.Response{StatusCode: http.StatusNoContent}, nil
	}}
	cache := drf.NewQueryCache()
	seed(t, cache, 5, 6)

	engine := drf.NewMutationEngine(requester, cache)
	_, err := engine.Delete(drf.MutationOptions{
		Resource:       "jobs",
		PrimaryKey:     5,
		CacheBehaviour: drf.CacheBehaviourInvalidate,
	}).MutateAsync(context.Background(), nil)
	require.NoError(t, err)

	entity, ok := cache.State(drf.EntityKey("jobs", 5))
	require.True(t, ok, "entity slot is kept")
	assert.True(t, entity.Stale)
	assert.True(t, entity.HasData())

	assert.True(t, stale(t, cache, drf.ListKey("jobs", nil)))
	assert.False(t, stale(t, cache, drf.EntityKey("jobs", 6)))

	fetcher := &staticFetcher{value: `{"id":5}`}
	_, err = cache.Fetch(context.Background(), drf.EntityKey("jobs", 5), fetcher.fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.count())
}

func TestMutation_DefaultWithoutBodyInvalidatesKnownEntity(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return &drf.Response{StatusCode: http.StatusNoContent}, nil
	}}
	cache := drf.NewQueryCache()
	seed(t, cache, 5)

	engine := drf.NewMutationEngine(requester, cache)
	_, err := engine.Delete(drf.MutationOptions{Resource: "jobs", PrimaryKey: 5}).
		MutateAsync(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, stale(t, cache, drf.EntityKey("jobs", 5)))
}

func TestMutation_NoneBehaviour(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return jsonResponse(http.StatusOK, map[string]interface{}{"id": 5}), nil
	}}
	cache := drf.NewQueryCache()
	seed(t, cache, 5)

	engine := drf.NewMutationEngine(requester, cache)
	_, err := engine.Mutation(drf.MutationOptions{
		Resource:       "jobs",
		PrimaryKey:     5,
		CacheBehaviour: drf.CacheBehaviourNone,
	}).MutateAsync(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, stale(t, cache, drf.ListKey("jobs", nil)))

	entity, _ := cache.State(drf.EntityKey("jobs", 5))
	assert.JSONEq(t, `{"id":0}`, string(entity.Data))
}

func TestMutation_CacheActionAndKeyOverrides(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return jsonResponse(http.StatusOK, map[string]interface{}{"state": "running"}), nil
	}}
	cache := drf.NewQueryCache()

	engine := drf.NewMutationEngine(requester, cache)
	_, err := engine.Mutation(drf.MutationOptions{
		Resource:      "job-runs",
		Action:        "start",
		ResourceKey:   "jobs",
		PrimaryKeyKey: 9,
		CacheAction:   "status",
		KeepLists:     true,
	}).MutateAsync(context.Background(), nil)
	require.NoError(t, err)

	state, ok := cache.State(drf.EntityKey("jobs", 9, "status"))
	require.True(t, ok)
	assert.JSONEq(t, `{"state":"running"}`, string(state.Data))
	assert.Equal(t, "/api/job-runs/start/", requester.calls()[0].Path)
}

func TestMutation_FailureLeavesCache(t *testing.T) {
	t.Parallel()

	failure := &drf.Error{
		Kind:       drf.KindValidation,
		StatusCode: http.StatusBadRequest,
		Fields:     map[string][]string{"name": {"required"}},
	}
	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return nil, failure
	}}
	cache := drf.NewQueryCache()
	seed(t, cache)

	var gotErr error

	engine := drf.NewMutationEngine(requester, cache)
	mutation := engine.Mutation(drf.MutationOptions{
		Resource: "jobs",
		OnError:  func(err error, data interface{}) { gotErr = err },
	})

	_, err := mutation.MutateAsync(context.Background(), map[string]string{})
	require.ErrorIs(t, err, failure)
	assert.Equal(t, failure, gotErr)
	assert.Equal(t, failure, mutation.LastError())
	assert.False(t, mutation.IsLoading())
	assert.False(t, stale(t, cache, drf.ListKey("jobs", nil)))
}

func TestMutation_MutateCallbacks(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return jsonResponse(http.StatusCreated, map[string]interface{}{"id": 1}), nil
	}}
	engine := drf.NewMutationEngine(requester, drf.NewQueryCache())
	mutation := engine.Mutation(drf.MutationOptions{Resource: "jobs"})

	var wg sync.WaitGroup

	wg.Add(1)

	var got json.RawMessage

	mutation.Mutate(context.Background(), map[string]string{"name": "x"}, drf.MutateCallbacks{
		OnSuccess: func(resp json.RawMessage) {
			got = resp
			wg.Done()
		},
		OnError: func(err error) {
			t.Errorf("unexpected error: %v", err)
			wg.Done()
		},
	})

	wg.Wait()
	assert.JSONEq(t, `{"id":1}`, string(got))
	require.NoError(t, mutation.LastError())
}

func TestMutation_WritesAreNotCoalesced(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		time.Sleep(5 * time.Millisecond)

		return jsonResponse(http.StatusCreated, map[string]interface{}{"id": 1}), nil
	}}
	mutation := drf.NewMutationEngine(requester, nil).Mutation(drf.MutationOptions{Resource: "jobs"})

	var wg sync.WaitGroup

	for range 3 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := mutation.MutateAsync(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Len(t, requester.calls(), 3)
}

func TestMutation_Upload(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{handler: func(req *drf.Request) (*drf.Response, error) {
		return jsonResponse(http.StatusCreated, map[string]interface{}{"id": 3, "file": "report.csv"}), nil
	}}
	cache := drf.NewQueryCache()
	engine := drf.NewMutationEngine(requester, cache)

	resp, err := engine.Mutation(drf.MutationOptions{Resource: "documents"}).
		Upload(context.Background(), "report.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"file":"report.csv"}`, string(resp))

	req := requester.calls()[0]
	assert.Equal(t, http.MethodPost, req.Method)

	mediaType, params, err := mime.ParseMediaType(req.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(strings.NewReader(string(req.RawBody)), params["boundary"])
	part, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "file", part.FormName())
	assert.Equal(t, "report.csv", part.FileName())

	content, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(content))

	_, ok := cache.State(drf.EntityKey("documents", 3))
	assert.True(t, ok)

	_, err = engine.Mutation(drf.MutationOptions{Resource: "documents"}).
		Upload(context.Background(), "", strings.NewReader(""))
	require.ErrorIs(t, err, drf.ErrUploadFilenameRequired)
	assert.Equal(t, drf.KindClient, mustKind(t, err))
}

func TestParseCacheBehaviour(t *testing.T) {
	t.Parallel()

	b, err := drf.ParseCacheBehaviour("")
	require.NoError(t, err)
	assert.Equal(t, drf.CacheBehaviourDefault, b)

	b, err = drf.ParseCacheBehaviour("set")
	require.NoError(t, err)
	assert.Equal(t, drf.CacheBehaviourSet, b)

	_, err = drf.ParseCacheBehaviour("merge")
	require.ErrorIs(t, err, drf.ErrUnsupportedBehaviour)
}

func TestResponseID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "7", drf.ResponseID(json.RawMessage(`{"id":7}`)))
	assert.Equal(t, "abc", drf.ResponseID(json.RawMessage(`{"id":"abc"}`)))
	assert.Empty(t, drf.ResponseID(json.RawMessage(`[1,2]`)))
	assert.Empty(t, drf.ResponseID(nil))
}

func mustKind(t *testing.T, err error) drf.Kind {
	t.Helper()

	kind, ok := drf.KindOf(err)
	require.True(t, ok)

	return kind
}
