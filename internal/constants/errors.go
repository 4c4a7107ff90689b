package constants

import "errors"

// Configuration errors.
var (
	ErrBaseURLRequired     = errors.New("base URL is required")
	ErrUnsupportedStorage  = errors.New("unsupported token storage")
	ErrRedisURLRequired    = errors.New("redis URL is required for redis token storage")
	ErrStorageDirRequired  = errors.New("storage directory is required for file token storage")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidLogFormat    = errors.New("invalid log format")
	ErrResourceRequired    = errors.New("resource is required")
	ErrPrimaryKeyRequired  = errors.New("primary key is required")
	ErrInvalidFilterFormat = errors.New("invalid filter, expected key=value")
)

// Authentication errors.
var (
	ErrNotAuthenticated  = errors.New("not authenticated, run 'drfctl login' first")
	ErrNoRefreshToken    = errors.New("no refresh token available")
	ErrMalformedTokens   = errors.New("malformed stored tokens")
	ErrTokenSlotNotFound = errors.New("token slot not found")
)

// File system errors.
var (
	ErrNotRegularFile             = errors.New("path is not a regular file")
	ErrDirectoryTraversalDetected = errors.New("directory traversal detected in file path")
)
