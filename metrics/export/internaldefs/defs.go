package internaldefs

import (
	"context"
	"strconv"

	authlab "github.com/ksm067300-arch/auth-lab"
)

// CounterDef names one counter for export.
type CounterDef struct {
	ID   authlab.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram for export.
type HistogramDef struct {
	ID   authlab.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: authlab.MetricLoginSuccess, Name: "authlab_login_success_total", Help: "Step-one logins that issued a session directly."},
	{ID: authlab.MetricLoginFailure, Name: "authlab_login_failure_total", Help: "Step-one logins rejected for invalid credentials."},
	{ID: authlab.MetricLoginRateLimited, Name: "authlab_login_rate_limited_total", Help: "Step-one logins refused by the login throttle."},
	{ID: authlab.MetricTwoFactorRequired, Name: "authlab_two_factor_required_total", Help: "Step-one logins that issued a pre-auth token."},
	{ID: authlab.MetricTwoFactorSuccess, Name: "authlab_two_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: authlab.MetricTwoFactorFailure, Name: "authlab_two_factor_failure_total", Help: "Rejected second-factor verifications."},
	{ID: authlab.MetricTwoFactorAttemptsExceeded, Name: "authlab_two_factor_attempts_exceeded_total", Help: "Pre-auth tokens locked by the attempt limit."},
	{ID: authlab.MetricCodeReplayed, Name: "authlab_code_replayed_total", Help: "TOTP codes refused as already used."},
	{ID: authlab.MetricTokenRejected, Name: "authlab_token_rejected_total", Help: "Token envelopes rejected as invalid, expired or of the wrong purpose."},
	{ID: authlab.MetricEnrollmentStarted, Name: "authlab_enrollment_started_total", Help: "Pending TOTP secrets generated."},
	{ID: authlab.MetricEnrollmentActivated, Name: "authlab_enrollment_activated_total", Help: "Pending TOTP secrets promoted to active."},
	{ID: authlab.MetricEnrollmentFailure, Name: "authlab_enrollment_failure_total", Help: "Rejected activation attempts."},
	{ID: authlab.MetricSessionCreated, Name: "authlab_session_created_total", Help: "Sessions created."},
	{ID: authlab.MetricSessionRevoked, Name: "authlab_session_revoked_total", Help: "Sessions revoked by logout or enrollment."},
	{ID: authlab.MetricLogout, Name: "authlab_logout_total", Help: "Logout operations."},
	{ID: authlab.MetricRegisterSuccess, Name: "authlab_register_success_total", Help: "Identities registered."},
	{ID: authlab.MetricRegisterDuplicate, Name: "authlab_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authlab.MetricRegisterRateLimited, Name: "authlab_register_rate_limited_total", Help: "Registrations refused by the signup throttle."},
	{ID: authlab.MetricUpstreamUnavailable, Name: "authlab_upstream_unavailable_total", Help: "Operations failed because a backend was unavailable."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authlab.MetricVerifierLatency, Name: "authlab_verifier_latency_seconds", Help: "Credential verifier latency."},
}

// Source is what exporters read on every scrape or collection.
// *authlab.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authlab.MetricsSnapshot
	AuditStats() authlab.AuditStats
}

// HealthSource is implemented by sources that can probe their backends.
// Exporters publish redis liveness and ping latency when it is present.
type HealthSource interface {
	Health(ctx context.Context) authlab.HealthStatus
}

const (
	AuditEventsName  = "authlab_audit_events_total"
	AuditEventsHelp  = "Audit events by delivery outcome."
	RedisUpName      = "authlab_redis_up"
	RedisUpHelp      = "1 when the last redis probe succeeded."
	RedisLatencyName = "authlab_redis_ping_seconds"
	RedisLatencyHelp = "Latency of the last redis probe."
)

// Bucket is one cumulative histogram bucket.
type Bucket struct {
	LE    string
	Count uint64
}

// Buckets turns raw per-bucket counts into cumulative buckets labelled with
// their upper bound in seconds. Missing counts read as zero and the last
// bucket is always +Inf.
func Buckets(raw []uint64) []Bucket {
	out := make([]Bucket, 0, len(authlab.LatencyBucketBounds)+1)
	var running uint64
	for i := 0; i <= len(authlab.LatencyBucketBounds); i++ {
		if i < len(raw) {
			running += raw[i]
		}
		le := "+Inf"
		if i < len(authlab.LatencyBucketBounds) {
			le = strconv.FormatFloat(authlab.LatencyBucketBounds[i].Seconds(), 'g', -1, 64)
		}
		out = append(out, Bucket{LE: le, Count: running})
	}
	return out
}

// Outcome is one labelled value of the audit events counter.
type Outcome struct {
	Name  string
	Value uint64
}

// AuditOutcomes splits audit stats into labelled series in a fixed order.
func AuditOutcomes(s authlab.AuditStats) []Outcome {
	return []Outcome{
		{Name: "delivered", Value: s.Delivered},
		{Name: "dropped", Value: s.Dropped},
		{Name: "failed", Value: s.Failed},
	}
}
