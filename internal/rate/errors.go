package rate

import "errors"

// ErrRateLimited means a login counter is at or above its budget.
var ErrRateLimited = errors.New("rate: login budget exhausted")

// ErrRedisUnavailable is the sentinel every Redis failure wraps.
var ErrRedisUnavailable = errors.New("rate: redis unavailable")
