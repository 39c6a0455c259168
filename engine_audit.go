package goToken

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventIssueSuccess         = "issue_success"
	auditEventIssueFailure         = "issue_failure"
	auditEventRotateSuccess        = "rotate_success"
	auditEventRotateFailure        = "rotate_failure"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventSuspiciousActivity   = "suspicious_activity"
	auditEventPolicyDenied         = "policy_denied"
	auditEventSessionEvicted       = "session_evicted"
	auditEventSessionRemoved       = "session_removed"
	auditEventTokenRevoked         = "token_revoked"
	auditEventFamilyRevoked        = "family_revoked"
	auditEventRevokeAll            = "revoke_all"
	auditEventCleanupRun           = "cleanup_run"
)

// AuditErrorCode is the stable error classification carried in
// [AuditEvent].Error.
type AuditErrorCode string

const (
	auditErrMalformed       AuditErrorCode = "token_malformed"
	auditErrExpired         AuditErrorCode = "token_expired"
	auditErrNotFound        AuditErrorCode = "token_not_found"
	auditErrExhausted       AuditErrorCode = "token_exhausted"
	auditErrRevoked         AuditErrorCode = "token_revoked"
	auditErrReuse           AuditErrorCode = "refresh_reuse"
	auditErrConflict        AuditErrorCode = "rotation_conflict"
	auditErrTypeMismatch    AuditErrorCode = "token_type_mismatch"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrSuspicious      AuditErrorCode = "suspicious_activity"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrUserNotFound    AuditErrorCode = "user_not_found"
	auditErrAccountDisabled AuditErrorCode = "account_disabled"
	auditErrAccountLocked   AuditErrorCode = "account_locked"
	auditErrInvalidDevice   AuditErrorCode = "invalid_device"
	auditErrInvalidScope    AuditErrorCode = "invalid_revoke_scope"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	tokenFamily string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		UserID:      userID,
		SessionID:   sessionID,
		TokenFamily: tokenFamily,
		TokenID:     tokenID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	// Reuse first: a ReuseError may also wrap a store failure.
	switch {
	case errors.Is(err, ErrTokenReuseDetected):
		return auditErrReuse
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpired
	case errors.Is(err, ErrTokenMalformed):
		return auditErrMalformed
	case errors.Is(err, ErrTokenNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrTokenExhausted):
		return auditErrExhausted
	case errors.Is(err, ErrTokenRevoked):
		return auditErrRevoked
	case errors.Is(err, ErrRotationConflict):
		return auditErrConflict
	case errors.Is(err, ErrTokenTypeMismatch):
		return auditErrTypeMismatch
	case errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSuspiciousActivity):
		return auditErrSuspicious
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrInvalidDevice):
		return auditErrInvalidDevice
	case errors.Is(err, ErrInvalidRevokeScope):
		return auditErrInvalidScope
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
