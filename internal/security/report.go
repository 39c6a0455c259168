package security

import "time"

// Report summarizes the security posture of an engine configuration.
type Report struct {
	SigningAlgorithm      string
	KeyRotationEnabled    bool
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	MaxUsageCount         int
	SingleUseRefresh      bool
	ReuseDetectionEnabled bool
	RefreshThrottleActive bool
	SessionCapActive      bool
	MaxConcurrentSessions int
	HeuristicsEnforced    bool
	CleanupEnabled        bool
	RevokedRetention      time.Duration
	DurableStore          bool
	Warnings              []string
}

// ReportInput is the flattened configuration the report is built from.
type ReportInput struct {
	SigningAlgorithm      string
	VerifyKeyCount        int
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	MaxUsageCount         int
	EnableRefreshThrottle bool
	MaxConcurrentSessions int
	PolicyHookInstalled   bool
	CleanupEnabled        bool
	RevokedRetention      time.Duration
	StoreBackend          string
}

// BuildReport derives a [Report] from input. Warnings flag settings that
// weaken the rotation guarantees.
func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:      input.SigningAlgorithm,
		KeyRotationEnabled:    input.VerifyKeyCount > 1,
		AccessTTL:             input.AccessTTL,
		RefreshTTL:            input.RefreshTTL,
		MaxUsageCount:         input.MaxUsageCount,
		SingleUseRefresh:      input.MaxUsageCount == 1,
		ReuseDetectionEnabled: true,
		RefreshThrottleActive: input.EnableRefreshThrottle,
		SessionCapActive:      input.MaxConcurrentSessions > 0,
		MaxConcurrentSessions: input.MaxConcurrentSessions,
		HeuristicsEnforced:    input.PolicyHookInstalled,
		CleanupEnabled:        input.CleanupEnabled,
		RevokedRetention:      input.RevokedRetention,
		DurableStore:          input.StoreBackend == "postgres",
	}

	if !r.SingleUseRefresh {
		r.Warnings = append(r.Warnings, "refresh tokens accept more than one use")
	}
	if input.AccessTTL > time.Hour {
		r.Warnings = append(r.Warnings, "access token TTL exceeds one hour")
	}
	if !r.SessionCapActive {
		r.Warnings = append(r.Warnings, "no per-user session cap")
	}
	if !r.CleanupEnabled {
		r.Warnings = append(r.Warnings, "background cleanup disabled")
	}

	return r
}
