// Package middleware holds the HTTP adapters that sit in front of an
// authlab.Engine.
//
// [Guard] reads the Authorization bearer token, resolves it with
// Engine.Authenticate and stores the resulting [authlab.Principal] and the
// raw token in the request context. Only Session Tokens pass; Pre-Auth
// Tokens are rejected by the engine with ErrTokenWrongPurpose.
//
// [ClientIP] records the caller address and User-Agent for the engine's
// throttles and audit trail. [RateLimit] is a coarse per-IP token bucket
// kept in process memory.
//
// This package makes no authentication decisions of its own.
package middleware
