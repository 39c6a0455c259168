package goToken

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goToken/internal"
	"github.com/MrEthical07/goToken/internal/flows"
	"github.com/MrEthical07/goToken/refresh"
	"github.com/MrEthical07/goToken/session"
	"github.com/MrEthical07/goToken/token"
)

// revokedBySessionLimit is recorded on families evicted by the session cap.
const revokedBySessionLimit = "system:session-limit"

// IssueAccessToken signs a short-lived access token for user. Nothing is
// persisted.
func (e *Engine) IssueAccessToken(user User) (string, error) {
	if e == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}
	if err := checkAccountStatus(user); err != nil {
		return "", err
	}
	access, _, err := e.signAccess(user)
	return access, err
}

func (e *Engine) signAccess(user User) (string, time.Time, error) {
	jti, err := internal.NewJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	return e.jwtManager.SignAccess(user.ID, user.Roles, jti)
}

// issueRefreshToken signs a refresh token and persists its record. It is
// the only place records are created.
func (e *Engine) issueRefreshToken(ctx context.Context, userID string, device token.DeviceInfo, opts IssueOptions, flags token.SecurityFlags) (string, token.Record, error) {
	now := e.now()

	family := opts.TokenFamily
	if family == "" {
		id, err := internal.NewFamilyID()
		if err != nil {
			return "", token.Record{}, err
		}
		family = id
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		id, err := internal.NewSessionID()
		if err != nil {
			return "", token.Record{}, err
		}
		sessionID = id
	}
	jti, err := internal.NewJTI()
	if err != nil {
		return "", token.Record{}, err
	}

	raw, err := e.jwtManager.SignRefresh(userID, family, jti)
	if err != nil {
		return "", token.Record{}, err
	}

	rec := token.NewRecord(token.Record{
		ID:              internal.NewRecordID(),
		TokenHash:       refresh.Hash(raw),
		JTI:             jti,
		UserID:          userID,
		TokenFamily:     family,
		SessionID:       sessionID,
		PreviousTokenID: opts.PreviousTokenID,
		IssuedAt:        now,
		ExpiresAt:       now.Add(e.config.JWT.RefreshTTL),
		MaxUsageCount:   e.config.Rotation.MaxUsageCount,
		Device:          device,
		Flags:           flags,
	})
	if err := e.store.Create(ctx, rec); err != nil {
		return "", token.Record{}, storeError(err)
	}
	return raw, rec, nil
}

// IssueTokenPair describes the issuetokenpair operation and its observable behavior.
//
// IssueTokenPair issues an access token and a refresh token for an already
// authenticated user. With zero opts it starts a new family and registers a
// new session; when the user is at the session cap the least recently active
// sessions are evicted and their families revoked. Exactly one record is
// created per call.
//
// The heuristics run first. Their flags are stored on the record and, when
// a [SecurityPolicy] is installed, a deny refuses issuance with
// [ErrSuspiciousActivity].
func (e *Engine) IssueTokenPair(ctx context.Context, user User, device token.DeviceInfo, opts IssueOptions) (TokenPair, error) {
	if e == nil || e.store == nil || e.jwtManager == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	start := time.Now()

	pair, err := e.issueTokenPair(ctx, user, device, opts)
	if err != nil {
		e.metricInc(MetricIssueFailure)
		e.emitAudit(ctx, auditEventIssueFailure, false, user.ID, opts.SessionID, opts.TokenFamily, "", err, nil)
		return TokenPair{}, err
	}

	e.metricInc(MetricIssueSuccess)
	e.observe(MetricIssueLatency, start)
	return pair, nil
}

func (e *Engine) issueTokenPair(ctx context.Context, user User, device token.DeviceInfo, opts IssueOptions) (TokenPair, error) {
	if err := checkAccountStatus(user); err != nil {
		return TokenPair{}, err
	}

	flags, err := e.screenIssue(ctx, user, device)
	if err != nil {
		return TokenPair{}, err
	}

	raw, rec, err := e.issueRefreshToken(ctx, user.ID, device, opts, toRecordFlags(flags))
	if err != nil {
		return TokenPair{}, err
	}

	access, _, err := e.signAccess(user)
	if err != nil {
		e.discard(ctx, rec)
		return TokenPair{}, err
	}

	if opts.TokenFamily == "" {
		if err := e.registerSession(ctx, rec); err != nil {
			e.discard(ctx, rec)
			return TokenPair{}, err
		}
	}

	e.emitAudit(ctx, auditEventIssueSuccess, true, user.ID, rec.SessionID, rec.TokenFamily, rec.ID, nil, nil)

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		ExpiresIn:        int64(e.config.JWT.AccessTTL.Seconds()),
		TokenType:        TokenTypeBearer,
		TokenFamily:      rec.TokenFamily,
		SessionID:        rec.SessionID,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// screenIssue runs the heuristics for a new login and applies the policy.
// Heuristics failures are logged and never block issuance.
func (e *Engine) screenIssue(ctx context.Context, user User, device token.DeviceInfo) (SecurityFlags, error) {
	if !e.config.Security.EvaluateOnIssue && e.policy == nil {
		return SecurityFlags{}, nil
	}

	flags, err := e.EvaluateSecurity(ctx, user.ID, device)
	if err != nil {
		e.logger.Warn("security heuristics unavailable", "user_id", user.ID, "error", err)
		return SecurityFlags{}, nil
	}

	if flags.Suspicious() {
		e.metricInc(MetricSuspiciousActivity)
		e.logger.Warn("suspicious token activity",
			"user_id", user.ID,
			"distinct_ips", flags.DistinctIPs,
			"distinct_devices", flags.DistinctDevices,
			"tokens_issued", flags.TokensIssued,
		)
		e.emitAudit(ctx, auditEventSuspiciousActivity, true, user.ID, "", "", "", nil, func() map[string]string {
			return flagMetadata(flags)
		})
	}

	if e.policy != nil && e.policy(ctx, user, device, flags) == PolicyDeny {
		e.metricInc(MetricPolicyDenied)
		e.emitAudit(ctx, auditEventPolicyDenied, false, user.ID, "", "", "", ErrSuspiciousActivity, func() map[string]string {
			return flagMetadata(flags)
		})
		return flags, ErrSuspiciousActivity
	}
	return flags, nil
}

// issueRotated issues the successor of consumed: same family and session,
// chained through PreviousTokenID.
func (e *Engine) issueRotated(ctx context.Context, owner User, consumed token.Record, device token.DeviceInfo) (flows.IssuedTokens, error) {
	if device.IsZero() {
		device = consumed.Device
	}

	var flags token.SecurityFlags
	if e.config.Security.EvaluateOnIssue {
		sf, err := e.EvaluateSecurity(ctx, consumed.UserID, device)
		if err != nil {
			e.logger.Warn("security heuristics unavailable", "user_id", consumed.UserID, "error", err)
		} else {
			flags = toRecordFlags(sf)
		}
	}

	raw, rec, err := e.issueRefreshToken(ctx, consumed.UserID, device, IssueOptions{
		TokenFamily:     consumed.TokenFamily,
		PreviousTokenID: consumed.ID,
		SessionID:       consumed.SessionID,
	}, flags)
	if err != nil {
		return flows.IssuedTokens{}, err
	}

	access, exp, err := e.signAccess(owner)
	if err != nil {
		e.discard(ctx, rec)
		return flows.IssuedTokens{}, err
	}

	return flows.IssuedTokens{
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    raw,
		Record:          rec,
	}, nil
}

// registerSession records the session of a fresh login and revokes the
// families of the sessions the cap evicted.
func (e *Engine) registerSession(ctx context.Context, rec token.Record) error {
	evicted, err := e.sessions.Create(ctx, session.Record{
		SessionID:    rec.SessionID,
		UserID:       rec.UserID,
		TokenFamily:  rec.TokenFamily,
		Device:       rec.Device,
		CreatedAt:    rec.IssuedAt,
		LastActivity: rec.IssuedAt,
	}, e.config.Session.MaxConcurrentSessions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricSessionCreated)

	for _, old := range evicted {
		e.metricInc(MetricSessionEvicted)
		n, err := e.revokeFamily(ctx, old.TokenFamily, revokedBySessionLimit, token.ReasonSessionLimitExceeded)
		if err != nil {
			e.logger.Warn("revoking evicted session failed",
				"user_id", old.UserID,
				"session_id", old.SessionID,
				"token_family", old.TokenFamily,
				"error", err,
			)
		}
		e.emitAudit(ctx, auditEventSessionEvicted, true, old.UserID, old.SessionID, old.TokenFamily, "", nil, func() map[string]string {
			return map[string]string{"revoked": fmt.Sprint(n)}
		})
	}
	return nil
}

// discard revokes a record whose pair could not be completed.
func (e *Engine) discard(ctx context.Context, rec token.Record) {
	if _, err := e.revokeRecord(ctx, rec, "system:issue", token.ReasonSecurityBreach); err != nil {
		e.logger.Warn("discarding incomplete token failed", "token_id", rec.ID, "error", err)
	}
}

func toRecordFlags(f SecurityFlags) token.SecurityFlags {
	return token.SecurityFlags{
		SuspiciousActivity: f.Suspicious(),
		MultipleDevices:    f.MultipleDevices,
		LocationChange:     f.MultipleIPs,
	}
}

func flagMetadata(f SecurityFlags) map[string]string {
	return map[string]string{
		"multiple_ips":         fmt.Sprint(f.MultipleIPs),
		"multiple_devices":     fmt.Sprint(f.MultipleDevices),
		"rapid_token_creation": fmt.Sprint(f.RapidTokenCreation),
		"distinct_ips":         fmt.Sprint(f.DistinctIPs),
		"distinct_devices":     fmt.Sprint(f.DistinctDevices),
		"tokens_issued":        fmt.Sprint(f.TokensIssued),
	}
}
