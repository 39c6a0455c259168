package rate

import "errors"

var (
	// ErrRateLimited is returned once a family exceeds its refresh budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
