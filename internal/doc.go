// Package internal contains helpers private to authlab, chiefly random token
// identifiers.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: activation and sign-up throttles
//   - rate: failed-login counters
//   - stores: pre-auth records and the TOTP replay guard
//   - appconfig: file and environment configuration loading
//   - logx: slog construction
//   - telemetry: OpenTelemetry meter provider setup
package internal
