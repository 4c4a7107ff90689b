package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration and token files.
	ConfigFilePerm = 0600
)

// Backend endpoints as exposed by djangorestframework-simplejwt.
const (
	// DefaultLoginEndpoint obtains a token pair from username and password.
	DefaultLoginEndpoint = "/api/token/"

	// DefaultRefreshEndpoint exchanges a refresh token for a new access token.
	DefaultRefreshEndpoint = "/api/token/refresh/"

	// DefaultAPIPrefix is prepended to resource names when building endpoints.
	DefaultAPIPrefix = "/api/"
)

// Token persistence.
const (
	// DefaultTokensKey is the key/value slot holding the serialized token pair.
	DefaultTokensKey = "drf-crud-client.tokens"

	// DefaultRedisPrefix namespaces token slots stored in Redis.
	DefaultRedisPrefix = "drf:"
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for token endpoint calls.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry limits.
const (
	// DefaultRetryMax is the default maximum number of retries for reads.
	DefaultRetryMax = 3

	// DefaultRetryWaitMin is the minimum wait time between retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 10 * time.Second
)

// Pagination defaults.
const (
	// DefaultPageSize is the default number of items per page.
	DefaultPageSize = 10

	// DefaultPage is the first page index.
	DefaultPage = 1

	// PageSizeParam is the query parameter carrying the page size.
	PageSizeParam = "page_size"

	// PageParam is the query parameter carrying the page index.
	PageParam = "page"
)

// Cache defaults.
const (
	// DefaultCacheSize is the default maximum number of L2 cache entries.
	DefaultCacheSize = 1000

	// DefaultCacheTTL is how long L2 cache entries are kept.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCleanupInterval is how often expired L2 entries are swept.
	DefaultCleanupInterval = time.Minute

	// DefaultNATSBucket is the JetStream KV bucket used for cached reads.
	DefaultNATSBucket = "drf_query_cache"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Headers.
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderRequestID     = "X-Request-ID"
	HeaderUserAgent     = "User-Agent"

	ContentTypeJSON = "application/json"

	// UploadFieldName is the multipart field carrying uploaded files.
	UploadFieldName = "file"
)
