// Package session stores the server-side records behind session tokens in
// Redis, with a per-identity index of session ids for bulk revocation.
//
// Records are a small versioned binary blob (see [Encode]). The package
// never sees token envelopes and never stores token strings; a record's
// key is the random id the envelope carries.
package session
