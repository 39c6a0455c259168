package goToken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goToken/internal/flows"
	"github.com/MrEthical07/goToken/internal/rate"
	"github.com/MrEthical07/goToken/internal/sweeper"
	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/refresh"
	"github.com/MrEthical07/goToken/session"
	"github.com/MrEthical07/goToken/token"
)

// AccessClaims is the verified payload of an access token.
type AccessClaims = jwt.AccessClaims

// revokedByReuse is recorded on the records of a family revoked because one
// of its tokens was replayed.
const revokedByReuse = "system:reuse-detection"

// Engine issues, rotates and revokes tokens. It is safe for concurrent use;
// correctness under concurrency rests on conditional writes in the stores,
// never on in-process locks.
type Engine struct {
	config       Config
	store        token.Store
	storeBackend string
	sessions     *session.Registry
	limiter      *rate.Limiter
	jwtManager   *jwt.Manager
	userProvider UserProvider
	policy       SecurityPolicy
	audit        *auditDispatcher
	metrics      *Metrics
	sweeper      *sweeper.Sweeper
	logger       *slog.Logger
	now          func() time.Time
}

// Close stops the sweeper and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// A nil engine or disabled metrics yield empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:    map[MetricID]uint64{},
			Histograms:  map[MetricID][]uint64{},
			Revocations: map[token.RevokeReason]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Health pings Redis and, when the token store lives elsewhere, the store.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessions == nil {
		return HealthStatus{}
	}
	latency, err := e.sessions.Ping(ctx)
	status := HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
		StoreBackend:   e.storeBackend,
	}

	if e.storeBackend == "redis" {
		status.StoreAvailable, status.StoreLatency = status.RedisAvailable, latency
		return status
	}
	pinger, ok := e.store.(token.Pinger)
	if !ok {
		status.StoreAvailable = true
		return status
	}
	storeLatency, storeErr := pinger.Ping(ctx)
	if storeErr != nil {
		e.logger.Warn("token store health check failed", "backend", e.storeBackend, "error", storeErr)
	}
	status.StoreAvailable, status.StoreLatency = storeErr == nil, storeLatency
	return status
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

func (e *Engine) metricRevoked(reason token.RevokeReason, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.AddRevoked(reason, uint64(n))
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// VerifyAccessToken describes the verifyaccesstoken operation and its observable behavior.
//
// Verification is stateless: no store is consulted, so a revoked family's
// access tokens stay valid until they expire.
func (e *Engine) VerifyAccessToken(tokenStr string) (*AccessClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		return nil, jwtError(err)
	}
	return claims, nil
}

// VerifyRefreshToken checks the signature of raw, resolves its stored record
// and reports whether it can still be exchanged. It does not consume it.
func (e *Engine) VerifyRefreshToken(ctx context.Context, raw string) (token.Record, error) {
	if e == nil || e.store == nil {
		return token.Record{}, ErrEngineNotReady
	}
	rec, err := e.lookupRefresh(ctx, raw)
	if err != nil {
		return token.Record{}, err
	}
	if err := rec.Check(e.now()); err != nil {
		return rec, storeError(err)
	}
	return rec, nil
}

// lookupRefresh resolves a raw refresh token to its record without judging
// usability.
func (e *Engine) lookupRefresh(ctx context.Context, raw string) (token.Record, error) {
	claims, err := e.jwtManager.ParseRefresh(raw)
	if err != nil {
		return token.Record{}, jwtError(err)
	}

	rec, err := e.store.GetByHash(ctx, refresh.Hash(raw))
	if err != nil {
		return token.Record{}, storeError(err)
	}
	if !refresh.Verify(raw, rec.TokenHash) ||
		rec.JTI != claims.ID ||
		rec.UserID != claims.UserID ||
		rec.TokenFamily != claims.TokenFamily {
		return token.Record{}, ErrTokenMalformed
	}
	return rec, nil
}

// Rotate describes the rotate operation and its observable behavior.
//
// Rotate exchanges oldToken for a new pair in the same family and session.
// Of concurrent rotations of one token at most one succeeds; the others get
// [ErrRotationConflict] and nothing is issued for them. A loser that arrives
// after the winner committed is a replay and is handled as one. Presenting a token
// that was already exchanged revokes its whole family and returns a
// [*ReuseError]. An empty device keeps the device of the consumed token.
func (e *Engine) Rotate(ctx context.Context, oldToken string, device token.DeviceInfo) (TokenPair, error) {
	if e == nil || e.store == nil || e.userProvider == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	start := time.Now()

	var owner User
	deps := flows.RotateDeps{
		Now:    e.now,
		Lookup: e.lookupRefresh,
		RevokeFamily: func(ctx context.Context, family string) (int, error) {
			return e.revokeFamily(ctx, family, revokedByReuse, token.ReasonSecurityBreach)
		},
		ResolveUser: func(ctx context.Context, userID string) error {
			u, err := e.resolveActiveUser(ctx, userID)
			if err != nil {
				return err
			}
			owner = u
			return nil
		},
		Store: e.store,
		Issue: func(ctx context.Context, consumed token.Record, device token.DeviceInfo) (flows.IssuedTokens, error) {
			return e.issueRotated(ctx, owner, consumed, device)
		},
		Touch: func(ctx context.Context, consumed token.Record, now time.Time) error {
			return e.sessions.Touch(ctx, consumed.UserID, consumed.SessionID, now)
		},
		Warn: e.logger.Warn,
	}
	if e.limiter != nil {
		deps.CheckRate = e.limiter.CheckRefresh
	}

	res := flows.RunRotate(ctx, oldToken, device, deps)
	err := e.rotateError(ctx, res)
	rec := res.Record

	if err != nil {
		e.metricInc(MetricRotateFailure)
		e.emitAudit(ctx, auditEventRotateFailure, false, rec.UserID, rec.SessionID, rec.TokenFamily, rec.ID, err, nil)
		return TokenPair{}, err
	}

	issued := res.Issued
	e.metricInc(MetricRotateSuccess)
	e.observe(MetricRotateLatency, start)
	e.emitAudit(ctx, auditEventRotateSuccess, true, rec.UserID, rec.SessionID, rec.TokenFamily, issued.Record.ID, nil, func() map[string]string {
		return map[string]string{"previous_token_id": rec.ID}
	})

	return TokenPair{
		AccessToken:      issued.AccessToken,
		RefreshToken:     issued.RefreshToken,
		ExpiresIn:        int64(e.config.JWT.AccessTTL.Seconds()),
		TokenType:        TokenTypeBearer,
		TokenFamily:      issued.Record.TokenFamily,
		SessionID:        issued.Record.SessionID,
		RefreshExpiresAt: issued.Record.ExpiresAt,
	}, nil
}

func (e *Engine) rotateError(ctx context.Context, res flows.RotateResult) error {
	rec := res.Record

	switch res.Failure {
	case flows.RotateFailureNone:
		return nil
	case flows.RotateFailureLookup, flows.RotateFailureUser, flows.RotateFailureIssue:
		return res.Err
	case flows.RotateFailureExpired:
		return ErrTokenExpired
	case flows.RotateFailureReuse:
		e.metricInc(MetricReuseDetected)
		e.logger.Warn("refresh token reuse detected",
			"user_id", rec.UserID,
			"token_family", rec.TokenFamily,
			"token_id", rec.ID,
			"revoked", res.RevokedCount,
		)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, rec.UserID, rec.SessionID, rec.TokenFamily, rec.ID, ErrTokenReuseDetected, nil)
		reuse := &ReuseError{TokenFamily: rec.TokenFamily, Revoked: res.RevokedCount}
		if res.Err != nil {
			return fmt.Errorf("%w: %v", reuse, res.Err)
		}
		return reuse
	case flows.RotateFailureRevoked:
		return ErrTokenRevoked
	case flows.RotateFailureRateLimited:
		if errors.Is(res.Err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, rec.UserID, rec.SessionID, rec.TokenFamily, rec.ID, ErrRefreshRateLimited, nil)
			return ErrRefreshRateLimited
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	case flows.RotateFailureConflict:
		e.metricInc(MetricRotateConflict)
		return ErrRotationConflict
	case flows.RotateFailureNotFound:
		return ErrTokenNotFound
	default:
		return storeError(res.Err)
	}
}

func jwtError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTypeMismatch):
		return ErrTokenTypeMismatch
	default:
		return ErrTokenMalformed
	}
}
