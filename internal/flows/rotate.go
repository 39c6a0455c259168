package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goToken/token"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureLookup
	RotateFailureExpired
	RotateFailureReuse
	RotateFailureRevoked
	RotateFailureRateLimited
	RotateFailureUser
	RotateFailureUnusable
	RotateFailureConflict
	RotateFailureNotFound
	RotateFailureStore
	RotateFailureIssue
)

// IssuedTokens is the successor pair produced by a rotation.
type IssuedTokens struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	Record          token.Record
}

// RotateResult carries either the issued pair or failure metadata. Record is
// the presented token's record whenever the lookup succeeded.
type RotateResult struct {
	Failure      RotateFailureKind
	Err          error
	Record       token.Record
	RevokedCount int
	Issued       IssuedTokens
}

// RotateDeps captures rotation flow dependencies.
type RotateDeps struct {
	Now func() time.Time

	// Lookup verifies the signature and resolves the stored record. It must
	// not judge usability.
	Lookup       func(ctx context.Context, raw string) (token.Record, error)
	RevokeFamily func(ctx context.Context, family string) (int, error)
	CheckRate    func(ctx context.Context, family string) error
	ResolveUser  func(ctx context.Context, userID string) error
	Store        token.Store
	Issue        func(ctx context.Context, consumed token.Record, device token.DeviceInfo) (IssuedTokens, error)
	Touch        func(ctx context.Context, consumed token.Record, now time.Time) error
	Warn         func(msg string, args ...any)
}

// RunRotate exchanges raw for a successor pair.
//
// Order matters: expiry is judged first, then presenting a token whose uses
// are exhausted revokes its whole family, then revocation, throttling and the
// owner are checked. Only then is the token consumed with a version-conditioned
// write; losing that race yields RotateFailureConflict and issues nothing.
func RunRotate(ctx context.Context, raw string, device token.DeviceInfo, deps RotateDeps) RotateResult {
	rec, err := deps.Lookup(ctx, raw)
	if err != nil {
		return RotateResult{Failure: RotateFailureLookup, Err: err}
	}

	now := deps.Now()
	if !now.Before(rec.ExpiresAt) {
		return RotateResult{Failure: RotateFailureExpired, Err: token.ErrExpired, Record: rec}
	}

	if rec.UsageCount > 0 && rec.UsageCount >= rec.MaxUsageCount {
		revoked, revokeErr := deps.RevokeFamily(ctx, rec.TokenFamily)
		if revokeErr != nil && deps.Warn != nil {
			deps.Warn("family revocation after reuse failed", "token_family", rec.TokenFamily, "error", revokeErr)
		}
		return RotateResult{
			Failure:      RotateFailureReuse,
			Err:          revokeErr,
			Record:       rec,
			RevokedCount: revoked,
		}
	}

	if rec.IsRevoked {
		return RotateResult{Failure: RotateFailureRevoked, Err: token.ErrRevoked, Record: rec}
	}

	if deps.CheckRate != nil {
		if err := deps.CheckRate(ctx, rec.TokenFamily); err != nil {
			return RotateResult{Failure: RotateFailureRateLimited, Err: err, Record: rec}
		}
	}

	if err := deps.ResolveUser(ctx, rec.UserID); err != nil {
		return RotateResult{Failure: RotateFailureUser, Err: err, Record: rec}
	}

	consumed, err := token.ApplyUse(rec, now)
	if err != nil {
		return RotateResult{Failure: RotateFailureUnusable, Err: err, Record: rec}
	}
	if err := deps.Store.CompareAndSwap(ctx, consumed, rec.Version); err != nil {
		switch {
		case errors.Is(err, token.ErrConflict):
			return RotateResult{Failure: RotateFailureConflict, Err: err, Record: rec}
		case errors.Is(err, token.ErrNotFound):
			return RotateResult{Failure: RotateFailureNotFound, Err: err, Record: rec}
		default:
			return RotateResult{Failure: RotateFailureStore, Err: err, Record: rec}
		}
	}

	issued, err := deps.Issue(ctx, consumed, device)
	if err != nil {
		if errors.Is(err, token.ErrFamilyRevoked) {
			return RotateResult{Failure: RotateFailureRevoked, Err: err, Record: consumed}
		}
		return RotateResult{Failure: RotateFailureIssue, Err: err, Record: consumed}
	}

	if deps.Touch != nil {
		if err := deps.Touch(ctx, consumed, now); err != nil && deps.Warn != nil {
			deps.Warn("session touch failed", "session_id", consumed.SessionID, "error", err)
		}
	}

	return RotateResult{Record: consumed, Issued: issued}
}
