package internaldefs

import (
	goToken "github.com/MrEthical07/goToken"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goToken.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   goToken.MetricID
	Name string
	Help string
}

const (
	// AuditDroppedName is the counter for events the audit dispatcher dropped.
	AuditDroppedName = "gotoken_audit_dropped_total"
	// RevocationsName is the per-reason revoked record counter.
	RevocationsName = "gotoken_revoked_records_total"
	// ReasonLabel carries the token.RevokeReason of a revocation.
	ReasonLabel = "reason"
)

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goToken.MetricIssueSuccess, Name: "gotoken_issue_success_total", Help: "Issued token pairs."},
	{ID: goToken.MetricIssueFailure, Name: "gotoken_issue_failure_total", Help: "Refused or failed token pair issuances."},
	{ID: goToken.MetricRotateSuccess, Name: "gotoken_rotate_success_total", Help: "Successful refresh token rotations."},
	{ID: goToken.MetricRotateFailure, Name: "gotoken_rotate_failure_total", Help: "Failed refresh token rotations."},
	{ID: goToken.MetricRotateConflict, Name: "gotoken_rotate_conflict_total", Help: "Rotations that lost a concurrent exchange."},
	{ID: goToken.MetricReuseDetected, Name: "gotoken_reuse_detected_total", Help: "Replayed refresh tokens."},
	{ID: goToken.MetricRefreshRateLimited, Name: "gotoken_refresh_rate_limited_total", Help: "Throttled rotations."},
	{ID: goToken.MetricTokenRevoked, Name: "gotoken_token_revoked_total", Help: "Revoked refresh token records."},
	{ID: goToken.MetricFamilyRevoked, Name: "gotoken_family_revoked_total", Help: "Revoked token families."},
	{ID: goToken.MetricUserRevoked, Name: "gotoken_user_revoked_total", Help: "Revoke-all operations."},
	{ID: goToken.MetricSessionCreated, Name: "gotoken_session_created_total", Help: "Registered device sessions."},
	{ID: goToken.MetricSessionEvicted, Name: "gotoken_session_evicted_total", Help: "Sessions evicted by the concurrency cap."},
	{ID: goToken.MetricSessionRemoved, Name: "gotoken_session_removed_total", Help: "Explicitly removed sessions."},
	{ID: goToken.MetricSuspiciousActivity, Name: "gotoken_suspicious_activity_total", Help: "Issuances that raised a heuristics flag."},
	{ID: goToken.MetricPolicyDenied, Name: "gotoken_policy_denied_total", Help: "Issuances denied by the security policy."},
	{ID: goToken.MetricCleanupRuns, Name: "gotoken_cleanup_runs_total", Help: "Cleanup sweeper runs."},
	{ID: goToken.MetricCleanupExpiredRevoked, Name: "gotoken_cleanup_expired_revoked_total", Help: "Expired records revoked by the sweeper."},
	{ID: goToken.MetricCleanupRevokedDeleted, Name: "gotoken_cleanup_revoked_deleted_total", Help: "Revoked records deleted after retention."},
	{ID: goToken.MetricCleanupOrphansDeleted, Name: "gotoken_cleanup_orphans_deleted_total", Help: "Records deleted because their owner is gone."},
	{ID: goToken.MetricCleanupErrors, Name: "gotoken_cleanup_errors_total", Help: "Per-record sweeper failures."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: goToken.MetricIssueLatency, Name: "gotoken_issue_latency_seconds", Help: "Token pair issuance latency."},
	{ID: goToken.MetricRotateLatency, Name: "gotoken_rotate_latency_seconds", Help: "Refresh token rotation latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for everything above the last bound.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels renders each bucket bound, +Inf last, for exporters
// that carry the bound as an attribute.
var HistogramBoundLabels = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array. Missing buckets are zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
