// Package limiters provides domain-specific Redis counters layered beside the
// login throttle in internal/rate.
//
// # Limiters
//
//   - [EnrollmentLimiter]: per-identity budget for wrong TOTP activation codes.
//   - [SignupLimiter]: per-IP throttle for identity registration.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import authlab or any sibling internal package.
//   - Make policy decisions beyond counting; the Engine decides consequences.
package limiters
