// Package authlab implements a multi-factor login flow: password check,
// optional TOTP second factor, and TOTP enrollment.
//
// The server side is [Engine], assembled with [Builder]. It issues two kinds of
// opaque tokens: pre-auth tokens, which may only be exchanged for a session
// through [Engine.VerifySecondFactor], and session tokens, which authorize
// everything else. Engine methods are safe for concurrent use.
//
// The client side is [Flow], one per connecting client, which tracks the
// LOGIN, TWO_FACTOR, AUTHENTICATED and ENROLLING states against any [Backend]
// (an Engine in process, or an HTTP client).
//
// # Architecture boundaries
//
// authlab is the public surface. Redis records, limiters and audit dispatch
// live under internal/ and are never exported. Identity storage is consumed
// through [IdentityStore]; store/sqlite provides an implementation.
//
// # What this package must NOT do
//
//   - Log or return raw secrets, codes, passwords or token strings in errors.
//   - Retry failed credential or code checks on the caller's behalf.
//   - Import any sub-package that re-imports authlab (no import cycles).
package authlab
