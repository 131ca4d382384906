// Package rate throttles repeated failed password checks with fixed-window
// Redis counters.
//
// Each failure runs a small script that increments the counter and arms
// its expiry on the first hit, so a window starts at the first failure and
// ends LoginCooldownDuration later. Keys:
//
//	al:<username>  per-username counter
//	ali:<ip>       per-client-IP counter (EnableIPThrottle)
package rate
