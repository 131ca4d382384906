// Package jwt signs and verifies the envelopes that carry pre-auth and
// session token ids. An envelope holds only a random token id and a purpose
// claim; the identity behind a token lives in server-side storage.
package jwt
