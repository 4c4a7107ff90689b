package drf

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Cache key kinds.
const (
	KindEntity = "entity"
	KindList   = "list"

	pageSegment = "page"
)

// QueryKey is an ordered sequence of segments identifying one cached read.
type QueryKey []string

// String returns the canonical form of the key, used as the cache slot id.
func (k QueryKey) String() string {
	data, err := json.Marshal([]string(k))
	if err != nil {
		return strings.Join(k, "/")
	}

	return string(data)
}

// HasPrefix reports whether the key starts with every segment of prefix.
func (k QueryKey) HasPrefix(prefix QueryKey) bool {
	if len(prefix) > len(k) {
		return false
	}

	for i, segment := range prefix {
		if k[i] != segment {
			return false
		}
	}

	return true
}

// Equal reports whether both keys have identical segments.
func (k QueryKey) Equal(other QueryKey) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

// EntityKey builds [resource, "entity", pk] with an optional action segment.
func EntityKey(resource string, pk interface{}, action ...string) QueryKey {
	key := QueryKey{resource, KindEntity, stringify(pk)}

	return appendSegments(key, action...)
}

// ListKey builds [resource, "list"] with an optional action segment, followed
// by the serialized params when any are present.
func ListKey(resource string, params Params, action ...string) QueryKey {
	key := appendSegments(QueryKey{resource, KindList}, action...)

	return appendParams(key, params)
}

// PageKey builds [resource, "list", "page", pageSize, page] followed by the
// serialized params when any are present.
func PageKey(resource string, pageSize, page int, params Params, action ...string) QueryKey {
	key := appendSegments(QueryKey{resource, KindList}, action...)
	key = append(key, pageSegment, strconv.Itoa(pageSize), strconv.Itoa(page))

	return appendParams(key, params)
}

// Endpoint builds {api}{resource}/[{pk}/][{action}/].
func Endpoint(api, resource string, pk interface{}, action string) string {
	var b strings.Builder

	b.WriteString(api)
	b.WriteString(resource)
	b.WriteString("/")

	if s := stringify(pk); s != "" {
		b.WriteString(s)
		b.WriteString("/")
	}

	if action != "" {
		b.WriteString(action)
		b.WriteString("/")
	}

	return b.String()
}

func appendSegments(key QueryKey, segments ...string) QueryKey {
	for _, s := range segments {
		if s != "" {
			key = append(key, s)
		}
	}

	return key
}

func appendParams(key QueryKey, params Params) QueryKey {
	if len(params) == 0 {
		return key
	}

	// encoding/json sorts map keys, so equal params give equal segments
	data, err := json.Marshal(params)
	if err != nil {
		return append(key, fmt.Sprint(map[string]interface{}(params)))
	}

	return append(key, string(data))
}

func stringify(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}
