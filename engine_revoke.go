package goToken

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goToken/token"
)

const (
	maxRevokeAttempts = 8
	defaultRevokedBy  = "system"
)

// Revoke describes the revoke operation and its observable behavior.
//
// Revoke is the single entry point for logout and administrative revocation.
// It returns how many records changed state; revoking what is already
// revoked succeeds with zero. An empty Reason defaults to user_logout for
// the token and all scopes and to security_breach for the family scope.
func (e *Engine) Revoke(ctx context.Context, req RevokeRequest) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return 0, ErrInvalidRevokeScope
	}
	if req.Reason != "" && !req.Reason.Valid() {
		return 0, fmt.Errorf("%w: reason %q", ErrInvalidRevokeScope, req.Reason)
	}

	switch req.Scope {
	case RevokeScopeToken:
		changed, err := e.revokeToken(ctx, target, req.RevokedBy, req.Reason)
		if changed {
			return 1, err
		}
		return 0, err
	case RevokeScopeFamily:
		return e.RevokeFamily(ctx, target, req.RevokedBy, req.Reason)
	case RevokeScopeAll:
		return e.RevokeAllForUser(ctx, target, req.RevokedBy, req.Reason)
	default:
		return 0, ErrInvalidRevokeScope
	}
}

// RevokeToken revokes one refresh token given either the raw token or its
// record id. It is idempotent.
func (e *Engine) RevokeToken(ctx context.Context, rawOrID, revokedBy string, reason token.RevokeReason) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	_, err := e.revokeToken(ctx, rawOrID, revokedBy, reason)
	return err
}

func (e *Engine) revokeToken(ctx context.Context, rawOrID, revokedBy string, reason token.RevokeReason) (bool, error) {
	if reason == "" {
		reason = token.ReasonUserLogout
	}
	if revokedBy == "" {
		revokedBy = defaultRevokedBy
	}

	var (
		rec token.Record
		err error
	)
	if strings.Count(rawOrID, ".") == 2 {
		rec, err = e.lookupRefresh(ctx, rawOrID)
	} else {
		rec, err = e.store.GetByID(ctx, rawOrID)
		err = storeError(err)
	}
	if err != nil {
		return false, err
	}

	wasUsable := rec.Usable(e.now())
	changed, err := e.revokeRecord(ctx, rec, revokedBy, reason)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if wasUsable {
		// The latest token of a chain carries the session.
		if _, err := e.sessions.Remove(ctx, rec.UserID, rec.SessionID); err != nil {
			e.logger.Warn("session removal failed", "session_id", rec.SessionID, "error", err)
		}
	}
	e.metricInc(MetricTokenRevoked)
	e.metricRevoked(reason, 1)
	e.emitAudit(ctx, auditEventTokenRevoked, true, rec.UserID, rec.SessionID, rec.TokenFamily, rec.ID, nil, func() map[string]string {
		return map[string]string{"reason": string(reason), "revoked_by": revokedBy}
	})
	return true, nil
}

// revokeRecord marks rec revoked with a version-conditioned write, reloading
// and retrying on conflicts. A record that vanished counts as unchanged.
func (e *Engine) revokeRecord(ctx context.Context, rec token.Record, revokedBy string, reason token.RevokeReason) (bool, error) {
	for attempt := 0; attempt < maxRevokeAttempts; attempt++ {
		next, changed := token.ApplyRevoke(rec, e.now(), revokedBy, reason)
		if !changed {
			return false, nil
		}

		err := e.store.CompareAndSwap(ctx, next, rec.Version)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, token.ErrNotFound):
			return false, nil
		case !errors.Is(err, token.ErrConflict):
			return false, storeError(err)
		}

		rec, err = e.store.GetByID(ctx, rec.ID)
		if err != nil {
			if errors.Is(err, token.ErrNotFound) {
				return false, nil
			}
			return false, storeError(err)
		}
	}
	return false, ErrRotationConflict
}

// RevokeFamily describes the revokefamily operation and its observable behavior.
//
// RevokeFamily marks the family revoked before touching its records, so a
// rotation racing the revocation cannot create a live successor. Every
// non-revoked record is then revoked and the family's session removed. It
// returns the number of records that changed.
func (e *Engine) RevokeFamily(ctx context.Context, family, revokedBy string, reason token.RevokeReason) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(family) == "" {
		return 0, ErrInvalidRevokeScope
	}
	if revokedBy == "" {
		revokedBy = defaultRevokedBy
	}
	return e.revokeFamily(ctx, family, revokedBy, reason)
}

func (e *Engine) revokeFamily(ctx context.Context, family, revokedBy string, reason token.RevokeReason) (int, error) {
	if reason == "" {
		reason = token.ReasonSecurityBreach
	}

	if err := e.store.MarkFamilyRevoked(ctx, family, e.now()); err != nil {
		return 0, storeError(err)
	}
	records, err := e.store.ListByFamily(ctx, family)
	if err != nil {
		return 0, storeError(err)
	}

	count, firstErr := e.revokeRecords(ctx, records, revokedBy, reason)

	removed := make(map[string]struct{}, 1)
	for _, r := range records {
		key := r.UserID + "\x00" + r.SessionID
		if _, ok := removed[key]; ok || r.SessionID == "" {
			continue
		}
		removed[key] = struct{}{}
		if _, err := e.sessions.Remove(ctx, r.UserID, r.SessionID); err != nil {
			e.logger.Warn("session removal failed", "session_id", r.SessionID, "error", err)
		}
	}
	if err := e.limiter.Reset(ctx, family); err != nil {
		e.logger.Warn("refresh throttle reset failed", "token_family", family, "error", err)
	}

	e.metricInc(MetricFamilyRevoked)
	e.metricAdd(MetricTokenRevoked, count)
	e.metricRevoked(reason, count)
	var userID string
	if len(records) > 0 {
		userID = records[0].UserID
	}
	e.emitAudit(ctx, auditEventFamilyRevoked, firstErr == nil, userID, "", family, "", firstErr, func() map[string]string {
		return map[string]string{
			"reason":     string(reason),
			"revoked_by": revokedBy,
			"revoked":    fmt.Sprint(count),
		}
	})
	return count, firstErr
}

// RevokeAllForUser revokes every record of userID, marks each of their
// families revoked and clears the user's sessions.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID, revokedBy string, reason token.RevokeReason) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidRevokeScope
	}
	if reason == "" {
		reason = token.ReasonUserLogout
	}
	if revokedBy == "" {
		revokedBy = defaultRevokedBy
	}

	records, err := e.store.ListByUser(ctx, userID)
	if err != nil {
		return 0, storeError(err)
	}

	families := make(map[string]struct{})
	now := e.now()
	for _, r := range records {
		if _, ok := families[r.TokenFamily]; ok {
			continue
		}
		families[r.TokenFamily] = struct{}{}
		if err := e.store.MarkFamilyRevoked(ctx, r.TokenFamily, now); err != nil {
			return 0, storeError(err)
		}
	}

	count, firstErr := e.revokeRecords(ctx, records, revokedBy, reason)

	if _, err := e.sessions.Clear(ctx, userID); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for family := range families {
		if err := e.limiter.Reset(ctx, family); err != nil {
			e.logger.Warn("refresh throttle reset failed", "token_family", family, "error", err)
		}
	}

	e.metricInc(MetricUserRevoked)
	e.metricAdd(MetricTokenRevoked, count)
	e.metricRevoked(reason, count)
	e.emitAudit(ctx, auditEventRevokeAll, firstErr == nil, userID, "", "", "", firstErr, func() map[string]string {
		return map[string]string{
			"reason":   string(reason),
			"revoked":  fmt.Sprint(count),
			"families": fmt.Sprint(len(families)),
		}
	})
	return count, firstErr
}

// revokeRecords revokes each record, continuing past failures. It returns
// the number changed and the first error.
func (e *Engine) revokeRecords(ctx context.Context, records []token.Record, revokedBy string, reason token.RevokeReason) (int, error) {
	var (
		count    int
		firstErr error
	)
	for _, r := range records {
		changed, err := e.revokeRecord(ctx, r, revokedBy, reason)
		if err != nil {
			e.logger.Warn("token revocation failed", "token_id", r.ID, "token_family", r.TokenFamily, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if changed {
			count++
		}
	}
	return count, firstErr
}
