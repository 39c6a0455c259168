package token

import (
	"errors"
	"time"
)

var (
	// ErrExpired is reported when now is at or past ExpiresAt.
	ErrExpired = errors.New("refresh token expired")
	// ErrRevoked is reported for records that were explicitly revoked.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrExhausted is reported when the usage cap has been reached.
	ErrExhausted = errors.New("refresh token exhausted")
)

// Status is the derived lifecycle state of a record at a point in time.
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
)

// Status derives the lifecycle state. Expiry dominates every other state.
func (r Record) Status(now time.Time) Status {
	switch {
	case !now.Before(r.ExpiresAt):
		return StatusExpired
	case r.IsRevoked:
		return StatusRevoked
	case !r.IsActive || r.UsageCount >= r.MaxUsageCount:
		return StatusExhausted
	default:
		return StatusActive
	}
}

// Check returns nil when r is usable at now, or the error matching its status.
func (r Record) Check(now time.Time) error {
	switch r.Status(now) {
	case StatusExpired:
		return ErrExpired
	case StatusRevoked:
		return ErrRevoked
	case StatusExhausted:
		return ErrExhausted
	default:
		return nil
	}
}

// Usable reports whether the record can still be exchanged at now.
func (r Record) Usable(now time.Time) bool {
	return r.Check(now) == nil
}

// NewRecord returns an active, unused record. MaxUsageCount below one is
// clamped to one.
func NewRecord(r Record) Record {
	if r.MaxUsageCount < 1 {
		r.MaxUsageCount = 1
	}
	r.UsageCount = 0
	r.IsActive = true
	r.IsRevoked = false
	r.RevokedAt = time.Time{}
	r.RevokedBy = ""
	r.RevokedReason = ""
	r.LastUsedAt = time.Time{}
	r.Version = 1
	return r
}

// ApplyUse consumes one use of r. It fails with the usability error when r is
// not usable at now. The returned record carries Version+1 and must be
// persisted with [Store.CompareAndSwap] against r.Version.
func ApplyUse(r Record, now time.Time) (Record, error) {
	if err := r.Check(now); err != nil {
		return r, err
	}

	next := r
	next.UsageCount++
	next.LastUsedAt = now
	if next.UsageCount >= next.MaxUsageCount {
		next.UsageCount = next.MaxUsageCount
		next.IsActive = false
	}
	next.Version = r.Version + 1
	return next, nil
}

// ApplyRevoke marks r revoked. Revocation is terminal; when r is already
// revoked the record is returned unchanged with changed=false.
func ApplyRevoke(r Record, now time.Time, by string, reason RevokeReason) (Record, bool) {
	if r.IsRevoked {
		return r, false
	}

	next := r
	next.IsRevoked = true
	next.IsActive = false
	next.RevokedAt = now
	next.RevokedBy = by
	next.RevokedReason = reason
	next.Version = r.Version + 1
	return next, true
}
