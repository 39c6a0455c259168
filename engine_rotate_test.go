package goToken

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goToken/token"
)

func TestRotateIssuesSuccessorInSameFamily(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()
	first := env.login(t, alice)
	firstRec := env.record(t, first.RefreshToken)

	env.clock.Advance(time.Minute)
	second, err := env.engine.Rotate(ctx, first.RefreshToken, token.DeviceInfo{})
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if second.TokenFamily != first.TokenFamily || second.SessionID != first.SessionID {
		t.Fatalf("successor left the family or session: %+v", second)
	}
	if second.RefreshToken == first.RefreshToken || second.AccessToken == first.AccessToken {
		t.Fatal("expected new tokens")
	}

	consumed, err := env.engine.store.GetByID(ctx, firstRec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if consumed.UsageCount != 1 || consumed.IsActive || consumed.IsRevoked {
		t.Fatalf("expected consumed record, got %+v", consumed)
	}

	secondRec := env.record(t, second.RefreshToken)
	if secondRec.PreviousTokenID != firstRec.ID {
		t.Fatalf("expected chain to %s, got %q", firstRec.ID, secondRec.PreviousTokenID)
	}
	if secondRec.Device.IPAddress() != firstRec.Device.IPAddress() {
		t.Fatalf("empty device must keep the consumed device, got %q", secondRec.Device.IPAddress())
	}

	claims, err := env.engine.VerifyAccessToken(second.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if claims.UserID != alice.ID || len(claims.Roles) != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	third, err := env.engine.Rotate(ctx, second.RefreshToken, testDevice(t, "203.0.113.9", "curl/8.0"))
	if err != nil {
		t.Fatalf("second Rotate failed: %v", err)
	}
	if got := env.record(t, third.RefreshToken).Device.IPAddress(); got != "203.0.113.9" {
		t.Fatalf("expected presented device on successor, got %q", got)
	}

	sessions, err := env.engine.ListSessions(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].LastActivity.After(sessions[0].CreatedAt) {
		t.Fatalf("expected one touched session, got %+v", sessions)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricRotateSuccess]; got != 2 {
		t.Fatalf("expected 2 rotations, got %d", got)
	}
}

func TestRotateReuseRevokesWholeFamily(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()
	first := env.login(t, alice)

	second, err := env.engine.Rotate(ctx, first.RefreshToken, token.DeviceInfo{})
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	_, err = env.engine.Rotate(ctx, first.RefreshToken, token.DeviceInfo{})
	if !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected ErrTokenReuseDetected, got %v", err)
	}
	var reuse *ReuseError
	if !errors.As(err, &reuse) {
		t.Fatalf("expected *ReuseError, got %T", err)
	}
	if reuse.TokenFamily != first.TokenFamily || reuse.Revoked != 2 {
		t.Fatalf("unexpected reuse error: %+v", reuse)
	}

	records, err := env.engine.store.ListByFamily(ctx, first.TokenFamily)
	if err != nil {
		t.Fatalf("ListByFamily failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 family records, got %d", len(records))
	}
	for _, r := range records {
		if !r.IsRevoked || r.RevokedBy != revokedByReuse || r.RevokedReason != token.ReasonSecurityBreach {
			t.Fatalf("expected reuse revocation, got %+v", r)
		}
	}

	if _, err := env.engine.Rotate(ctx, second.RefreshToken, token.DeviceInfo{}); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected successor to be revoked, got %v", err)
	}
	if n, _ := env.engine.ActiveSessionCount(ctx, alice.ID); n != 0 {
		t.Fatalf("expected family session removed, got %d", n)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricReuseDetected]; got != 1 {
		t.Fatalf("expected one reuse, got %d", got)
	}
}

func TestRotateExpiryDominatesOtherStates(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()
	first := env.login(t, alice)

	second, err := env.engine.Rotate(ctx, first.RefreshToken, token.DeviceInfo{})
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	env.clock.Advance(8 * 24 * time.Hour)

	// A consumed but expired token reports expiry and revokes nothing.
	if _, err := env.engine.Rotate(ctx, first.RefreshToken, token.DeviceInfo{}); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired for consumed token, got %v", err)
	}
	if _, err := env.engine.Rotate(ctx, second.RefreshToken, token.DeviceInfo{}); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := env.engine.VerifyRefreshToken(ctx, second.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired from verify, got %v", err)
	}

	if rec := env.record(t, second.RefreshToken); rec.IsRevoked {
		t.Fatal("expired token must not revoke its family")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricReuseDetected]; got != 0 {
		t.Fatalf("expected no reuse, got %d", got)
	}
}

func TestRotateRejectsUnknownAndTamperedTokens(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()
	pair := env.login(t, alice)

	unknown, err := env.engine.jwtManager.SignRefresh(alice.ID, pair.TokenFamily, "unknown-jti")
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "unknown", raw: unknown, want: ErrTokenNotFound},
		{name: "tampered", raw: pair.RefreshToken + "x", want: ErrTokenMalformed},
		{name: "garbage", raw: "garbage", want: ErrTokenMalformed},
		{name: "access token", raw: pair.AccessToken, want: ErrTokenTypeMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.engine.Rotate(ctx, tc.raw, token.DeviceInfo{}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if rec := env.record(t, pair.RefreshToken); rec.UsageCount != 0 {
		t.Fatalf("failed rotations must not consume the real token: %+v", rec)
	}
}

func TestRotateRefusesInactiveOwnerWithoutConsuming(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()
	pair := env.login(t, alice)

	env.users.setStatus(alice.ID, AccountLocked)
	if _, err := env.engine.Rotate(ctx, pair.RefreshToken, token.DeviceInfo{}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	env.users.setStatus(alice.ID, AccountActive)
	if _, err := env.engine.Rotate(ctx, pair.RefreshToken, token.DeviceInfo{}); err != nil {
		t.Fatalf("Rotate after unlock failed: %v", err)
	}

	env.users.remove(alice.ID)
	fresh := env.login(t, alice)
	if _, err := env.engine.Rotate(ctx, fresh.RefreshToken, token.DeviceInfo{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRotateRefreshThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.Rotation.EnableRefreshThrottle = true
	cfg.Rotation.MaxRefreshAttempts = 2
	cfg.Rotation.RefreshWindow = time.Minute
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	pair := env.login(t, alice)
	for i := 0; i < 2; i++ {
		next, err := env.engine.Rotate(ctx, pair.RefreshToken, token.DeviceInfo{})
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i, err)
		}
		pair = next
	}

	if _, err := env.engine.Rotate(ctx, pair.RefreshToken, token.DeviceInfo{}); !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected ErrRefreshRateLimited, got %v", err)
	}
	if rec := env.record(t, pair.RefreshToken); rec.UsageCount != 0 {
		t.Fatal("throttled rotation must not consume the token")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshRateLimited]; got != 1 {
		t.Fatalf("expected one throttled rotation, got %d", got)
	}

	env.mr.FastForward(2 * time.Minute)
	if _, err := env.engine.Rotate(ctx, pair.RefreshToken, token.DeviceInfo{}); err != nil {
		t.Fatalf("Rotate after window failed: %v", err)
	}
}

func TestRotateMultiUseTokens(t *testing.T) {
	cfg := testConfig()
	cfg.Rotation.MaxUsageCount = 2
	env := newTestEngine(t, cfg)
	ctx := context.Background()
	pair := env.login(t, alice)

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Rotate(ctx, pair.RefreshToken, token.DeviceInfo{}); err != nil {
			t.Fatalf("use %d failed: %v", i+1, err)
		}
	}
	if _, err := env.engine.Rotate(ctx, pair.RefreshToken, token.DeviceInfo{}); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse once uses are exhausted, got %v", err)
	}
}
