package embedding

import "errors"

var (
	// ErrMissingAPIKey is a configuration error: fail fast, never retried.
	ErrMissingAPIKey = errors.New("embedding: API key is not configured")

	// ErrInvalidInput means the input slice was empty, or every text was
	// empty after sanitization.
	ErrInvalidInput = errors.New("embedding: no valid texts provided")

	// ErrRateLimited and ErrTimeout are surfaced as distinct kinds so callers
	// can tell a throttled request from a slow one.
	ErrRateLimited = errors.New("embedding: rate limit exceeded")
	ErrTimeout     = errors.New("embedding: request timed out")
)
