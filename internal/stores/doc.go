// Package stores provides Redis-backed, short-lived records for the
// second-factor flow: pre-auth token records and the per-identity TOTP
// replay guard.
//
// # Design
//
// Records are versioned, binary-encoded and stored with a TTL. Mutations
// (Consume, RecordFailure) use WATCH/MULTI optimistic transactions with
// bounded retry on contention, so at most one concurrent consumer of a
// pre-auth record can succeed. The replay guard is a single SET NX.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does not parse
// token envelopes, validate codes or make authentication decisions.
//
// # What this package must NOT do
//
//   - Import authlab or any sibling internal package.
//   - Store or log plaintext secrets, codes or token strings.
package stores
