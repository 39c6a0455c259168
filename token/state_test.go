package token

import (
	"errors"
	"testing"
	"time"
)

func newTestRecord(now time.Time) Record {
	return NewRecord(Record{
		ID:            "01J0000000000000000000000A",
		TokenHash:     "hash-a",
		JTI:           "jti-a",
		UserID:        "user-1",
		TokenFamily:   "family-1",
		SessionID:     "session-1",
		IssuedAt:      now,
		ExpiresAt:     now.Add(time.Hour),
		MaxUsageCount: 1,
	})
}

func TestNewRecordStartsActive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRecord(Record{ID: "x", ExpiresAt: now.Add(time.Minute)})

	if !r.IsActive || r.IsRevoked {
		t.Fatalf("expected active unrevoked record, got active=%v revoked=%v", r.IsActive, r.IsRevoked)
	}
	if r.MaxUsageCount != 1 {
		t.Fatalf("expected MaxUsageCount clamped to 1, got %d", r.MaxUsageCount)
	}
	if r.Version != 1 {
		t.Fatalf("expected version 1, got %d", r.Version)
	}
	if r.Status(now) != StatusActive {
		t.Fatalf("expected active status, got %s", r.Status(now))
	}
}

func TestApplyUseReachesCapAndDeactivates(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := newTestRecord(now)

	next, err := ApplyUse(r, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ApplyUse failed: %v", err)
	}
	if next.UsageCount != 1 || next.IsActive {
		t.Fatalf("expected usage=1 inactive, got usage=%d active=%v", next.UsageCount, next.IsActive)
	}
	if next.Version != r.Version+1 {
		t.Fatalf("expected version bump, got %d", next.Version)
	}
	if !next.LastUsedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("expected LastUsedAt to be set")
	}
	if r.UsageCount != 0 || !r.IsActive {
		t.Fatal("ApplyUse must not mutate its input")
	}

	if _, err := ApplyUse(next, now.Add(2*time.Second)); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted on second use, got %v", err)
	}
}

func TestApplyUseMultiUseRecord(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := newTestRecord(now)
	r.MaxUsageCount = 3

	var err error
	for i := 1; i <= 3; i++ {
		r, err = ApplyUse(r, now)
		if err != nil {
			t.Fatalf("use %d failed: %v", i, err)
		}
		if r.UsageCount > r.MaxUsageCount {
			t.Fatalf("usage count %d exceeds cap %d", r.UsageCount, r.MaxUsageCount)
		}
	}
	if r.IsActive {
		t.Fatal("expected record to deactivate at the cap")
	}
	if _, err := ApplyUse(r, now); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestExpiryDominatesUsageState(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := newTestRecord(now)
	r.ExpiresAt = now.Add(-time.Second)

	if err := r.Check(now); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for unused expired record, got %v", err)
	}

	used, _ := ApplyUse(newTestRecord(now), now)
	used.ExpiresAt = now.Add(-time.Second)
	if err := used.Check(now); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for used expired record, got %v", err)
	}

	revoked, _ := ApplyRevoke(newTestRecord(now), now, "u", ReasonUserLogout)
	revoked.ExpiresAt = now
	if err := revoked.Check(now); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at exact expiry, got %v", err)
	}

	if _, err := ApplyUse(r, now); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ApplyUse to reject expired record, got %v", err)
	}
}

func TestApplyRevokeIsIdempotent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := newTestRecord(now)

	first, changed := ApplyRevoke(r, now, "user-1", ReasonUserLogout)
	if !changed {
		t.Fatal("expected first revoke to change the record")
	}
	if !first.IsRevoked || first.IsActive {
		t.Fatalf("expected revoked inactive record, got revoked=%v active=%v", first.IsRevoked, first.IsActive)
	}
	if first.RevokedReason != ReasonUserLogout || first.RevokedBy != "user-1" {
		t.Fatalf("unexpected revoke metadata: %+v", first)
	}

	second, changed := ApplyRevoke(first, now.Add(time.Minute), "admin", ReasonAdminRevoke)
	if changed {
		t.Fatal("expected second revoke to be a no-op")
	}
	if second != first {
		t.Fatal("expected identical terminal state after second revoke")
	}
	if err := second.Check(now); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRevokeReasonValid(t *testing.T) {
	for _, r := range []RevokeReason{
		ReasonUserLogout, ReasonAdminRevoke, ReasonSecurityBreach, ReasonTokenRotation,
		ReasonAccountLocked, ReasonSuspiciousActivity, ReasonExpired, ReasonDeviceChange,
		ReasonSessionLimitExceeded,
	} {
		if !r.Valid() {
			t.Fatalf("expected %q to be valid", r)
		}
	}
	if RevokeReason("because").Valid() {
		t.Fatal("expected unknown reason to be invalid")
	}
}
