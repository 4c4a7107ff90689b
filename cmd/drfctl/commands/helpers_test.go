package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filters  []string
		expected drf.Params
		wantErr  bool
	}{
		{name: "none", expected: drf.Params{}},
		{name: "single", filters: []string{"status=done"}, expected: drf.Params{"status": "done"}},
		{name: "value with equals", filters: []string{"q=a=b"}, expected: drf.Params{"q": "a=b"}},
		{name: "empty value", filters: []string{"owner="}, expected: drf.Params{"owner": ""}},
		{
			name:     "repeated key joins",
			filters:  []string{"id__in=1", "id__in=2", "status=new"},
			expected: drf.Params{"id__in": "1,2", "status": "new"},
		},
		{name: "missing separator", filters: []string{"status"}, wantErr: true},
		{name: "missing key", filters: []string{"=done"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			params, err := parseFilters(tt.filters)
			if tt.wantErr {
				require.ErrorIs(t, err, constants.ErrInvalidFilterFormat)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, params)
		})
	}
}

//nolint:funlen
func TestParseData(t *testing.T) {
	t.Parallel()

	bodyFile := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(bodyFile, []byte(`{"title":"from file"}`), 0o600))

	tests := []struct {
		name     string
		data     string
		fields   []string
		stdin    string
		expected string
		err      error
	}{
		{name: "inline", data: `{"title":"x"}`, expected: `{"title":"x"}`},
		{name: "file", data: "@" + bodyFile, expected: `{"title":"from file"}`},
		{name: "stdin", data: "-", stdin: `{"title":"piped"}`, expected: `{"title":"piped"}`},
		{
			name:     "fields decode json values",
			fields:   []string{"title=plain", "count=3", "done=true", "tags=[\"a\"]", "empty="},
			expected: `{"title":"plain","count":3,"done":true,"tags":["a"],"empty":""}`,
		},
		{name: "no body", expected: `{}`},
		{name: "invalid json", data: `{broken`, err: ErrInvalidBody},
		{name: "both sources", data: `{}`, fields: []string{"a=b"}, err: ErrDataConflict},
		{name: "bad field", fields: []string{"title"}, err: ErrInvalidFieldFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			body, err := parseData(tt.data, tt.fields, strings.NewReader(tt.stdin))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)

			raw, err := json.Marshal(body)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(raw))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := parseData("@"+filepath.Join(t.TempDir(), "absent.json"), nil, strings.NewReader(""))
		require.Error(t, err)
	})
}

func TestColumnsOf(t *testing.T) {
	t.Parallel()

	rows := []interface{}{
		map[string]interface{}{"title": "a", "id": 1.0},
		map[string]interface{}{"created": "2026-01-01", "id": 2.0},
		"not an object",
	}

	assert.Equal(t, []string{"id", "created", "title"}, columnsOf(rows))
	assert.Empty(t, columnsOf([]interface{}{"a", "b"}))
}

func TestFormatCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value    interface{}
		expected string
	}{
		{value: nil, expected: ""},
		{value: "text", expected: "text"},
		{value: true, expected: "true"},
		{value: 42.0, expected: "42"},
		{value: 1.5, expected: "1.5"},
		{value: map[string]interface{}{"a": 1.0}, expected: `{"a":1}`},
		{value: []interface{}{"x", "y"}, expected: `["x","y"]`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatCell(tt.value))
	}
}

func TestRenderTable(t *testing.T) {
	t.Parallel()

	var out strings.Builder

	require.NoError(t, renderTable(&out, []interface{}{
		map[string]interface{}{"id": 1.0, "title": "first"},
		map[string]interface{}{"id": 2.0},
	}))

	rendered := out.String()
	assert.Contains(t, rendered, "first")
	assert.Contains(t, rendered, NotAvailable)

	out.Reset()
	require.NoError(t, renderTable(&out, []interface{}{}))
	assert.Equal(t, "No results found\n", out.String())

	out.Reset()
	require.NoError(t, renderTable(&out, "plain"))
	assert.Equal(t, "plain\n", out.String())
}
