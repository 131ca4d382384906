// Package totp implements RFC 6238 time-based one-time passwords and the
// otpauth enrollment URI used by authenticator apps.
//
// Validation is a pure function of (secret, code, time). Replay protection is
// the caller's responsibility: Validate reports the matched step counter so
// the caller can record it.
package totp
