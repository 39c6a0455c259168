package goToken

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goToken/session"
	"github.com/MrEthical07/goToken/token"
)

// ListSessions describes the listsessions operation and its observable behavior.
//
// ListSessions returns the live sessions of userID, most recently active
// first. Only device metadata is returned.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}

	records, err := e.sessions.List(ctx, userID)
	if err != nil {
		return nil, sessionError(err)
	}

	out := make([]SessionInfo, 0, len(records))
	for _, r := range records {
		out = append(out, toSessionInfo(r))
	}
	return out, nil
}

// ActiveSessionCount returns the number of sessions userID holds.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}
	n, err := e.sessions.Count(ctx, userID)
	if err != nil {
		return 0, sessionError(err)
	}
	return n, nil
}

// RemoveSession ends one session of userID by revoking its token family
// with reason user_logout.
func (e *Engine) RemoveSession(ctx context.Context, userID, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}

	rec, err := e.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return sessionError(err)
	}

	if _, err := e.revokeFamily(ctx, rec.TokenFamily, userID, token.ReasonUserLogout); err != nil {
		return err
	}
	e.metricInc(MetricSessionRemoved)
	e.emitAudit(ctx, auditEventSessionRemoved, true, userID, sessionID, rec.TokenFamily, "", nil, nil)
	return nil
}

func toSessionInfo(r session.Record) SessionInfo {
	return SessionInfo{
		SessionID:    r.SessionID,
		TokenFamily:  r.TokenFamily,
		Device:       r.Device,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
		IsActive:     r.IsActive,
	}
}

func sessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
