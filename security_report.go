package goToken

import "github.com/MrEthical07/goToken/internal/security"

// SecurityReport summarizes the effective rotation and session settings.
type SecurityReport = security.Report

// SecurityReport returns the posture report of the built configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:      e.config.JWT.SigningMethod,
		VerifyKeyCount:        len(e.config.JWT.VerifyKeys),
		AccessTTL:             e.config.JWT.AccessTTL,
		RefreshTTL:            e.config.JWT.RefreshTTL,
		MaxUsageCount:         e.config.Rotation.MaxUsageCount,
		EnableRefreshThrottle: e.config.Rotation.EnableRefreshThrottle,
		MaxConcurrentSessions: e.config.Session.MaxConcurrentSessions,
		PolicyHookInstalled:   e.policy != nil,
		CleanupEnabled:        e.config.Cleanup.Enabled,
		RevokedRetention:      e.config.Cleanup.RevokedRetention,
		StoreBackend:          e.storeBackend,
	})
}
