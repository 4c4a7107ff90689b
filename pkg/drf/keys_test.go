package drf_test

import (
	"testing"

	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  drf.QueryKey
		want drf.QueryKey
	}{
		{
			name: "entity",
			key:  drf.EntityKey("jobs", 5),
			want: drf.QueryKey{"jobs", "entity", "5"},
		},
		{
			name: "entity with action",
			key:  drf.EntityKey("jobs", "5", "logs"),
			want: drf.QueryKey{"jobs", "entity", "5", "logs"},
		},
		{
			name: "entity float pk",
			key:  drf.EntityKey("jobs", 5.0),
			want: drf.QueryKey{"jobs", "entity", "5"},
		},
		{
			name: "list without params",
			key:  drf.ListKey("jobs", nil),
			want: drf.QueryKey{"jobs", "list"},
		},
		{
			name: "list with params",
			key:  drf.ListKey("jobs", drf.Params{"status": "open", "a": 1}),
			want: drf.QueryKey{"jobs", "list", `{"a":1,"status":"open"}`},
		},
		{
			name: "list with action",
			key:  drf.ListKey("jobs", nil, "mine"),
			want: drf.QueryKey{"jobs", "list", "mine"},
		},
		{
			name: "page",
			key:  drf.PageKey("jobs", 10, 2, nil),
			want: drf.QueryKey{"jobs", "list", "page", "10", "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.key)
		})
	}
}

func TestQueryKey_HasPrefix(t *testing.T) {
	t.Parallel()

	list := drf.ListKey("jobs", nil)

	assert.True(t, drf.PageKey("jobs", 10, 1, nil).HasPrefix(list))
	assert.True(t, drf.ListKey("jobs", drf.Params{"q": "x"}).HasPrefix(list))
	assert.False(t, drf.EntityKey("jobs", 1).HasPrefix(list))
	assert.False(t, drf.ListKey("jobsets", nil).HasPrefix(list))
	assert.False(t, list.HasPrefix(drf.PageKey("jobs", 10, 1, nil)))
}

func TestQueryKey_StringIsStable(t *testing.T) {
	t.Parallel()

	a := drf.ListKey("jobs", drf.Params{"x": 1, "y": "2"})
	b := drf.ListKey("jobs", drf.Params{"y": "2", "x": 1})

	assert.Equal(t, a.String(), b.String())
	assert.True(t, a.Equal(b))
	assert.Equal(t, `["jobs","entity","1"]`, drf.EntityKey("jobs", 1).String())
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/api/jobs/", drf.Endpoint("/api/", "jobs", nil, ""))
	assert.Equal(t, "/api/jobs/5/", drf.Endpoint("/api/", "jobs", 5, ""))
	assert.Equal(t, "/api/jobs/5/run/", drf.Endpoint("/api/", "jobs", 5, "run"))
	assert.Equal(t, "/api/jobs/export/", drf.Endpoint("/api/", "jobs", "", "export"))
}

func TestParams_Values(t *testing.T) {
	t.Parallel()

	values := drf.Params{"page": 2, "status": "open", "skip": nil}.Values()

	assert.Equal(t, "2", values.Get("page"))
	assert.Equal(t, "open", values.Get("status"))
	assert.False(t, values.Has("skip"))
}
