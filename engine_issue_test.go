package goToken

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goToken/token"
)

func TestIssueTokenPairCreatesRecordAndSession(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	pair := env.login(t, alice)

	if pair.TokenType != TokenTypeBearer {
		t.Fatalf("expected Bearer, got %q", pair.TokenType)
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("expected ExpiresIn 900, got %d", pair.ExpiresIn)
	}
	if pair.TokenFamily == "" || pair.SessionID == "" {
		t.Fatalf("expected family and session ids, got %+v", pair)
	}
	if want := env.clock.Now().Add(7 * 24 * time.Hour); !pair.RefreshExpiresAt.Equal(want) {
		t.Fatalf("expected refresh expiry %v, got %v", want, pair.RefreshExpiresAt)
	}

	claims, err := env.engine.VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if claims.UserID != alice.ID || len(claims.Roles) != 1 || claims.Roles[0] != "member" {
		t.Fatalf("unexpected access claims: %+v", claims)
	}

	rec := env.record(t, pair.RefreshToken)
	if rec.UsageCount != 0 || rec.MaxUsageCount != 1 || !rec.IsActive || rec.IsRevoked {
		t.Fatalf("expected fresh single-use record, got %+v", rec)
	}
	if rec.TokenFamily != pair.TokenFamily || rec.SessionID != pair.SessionID {
		t.Fatalf("record does not match pair: %+v", rec)
	}
	if rec.TokenHash == pair.RefreshToken || strings.Contains(rec.TokenHash, ".") {
		t.Fatal("raw refresh token must not be stored")
	}
	if rec.Device.IPAddress() != "198.51.100.7" {
		t.Fatalf("expected device IP on record, got %q", rec.Device.IPAddress())
	}

	sessions, err := env.engine.ListSessions(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != pair.SessionID || sessions[0].TokenFamily != pair.TokenFamily {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricIssueSuccess] != 1 || snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestIssueTokenPairRefusesInactiveAccounts(t *testing.T) {
	tests := []struct {
		name   string
		status AccountStatus
		want   error
	}{
		{name: "disabled", status: AccountDisabled, want: ErrAccountDisabled},
		{name: "locked", status: AccountLocked, want: ErrAccountLocked},
		{name: "deleted", status: AccountDeleted, want: ErrUserNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEngine(t, testConfig())
			user := alice
			user.Status = tc.status

			_, err := env.engine.IssueTokenPair(context.Background(), user, token.DeviceInfo{}, IssueOptions{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}

			records, err := env.engine.store.ListByUser(context.Background(), user.ID)
			if err != nil {
				t.Fatalf("ListByUser failed: %v", err)
			}
			if len(records) != 0 {
				t.Fatalf("expected no records, got %d", len(records))
			}
			if got := env.engine.MetricsSnapshot().Counters[MetricIssueFailure]; got != 1 {
				t.Fatalf("expected one issue failure, got %d", got)
			}
		})
	}
}

func TestIssueTokenPairRequiresUserID(t *testing.T) {
	env := newTestEngine(t, testConfig())

	_, err := env.engine.IssueTokenPair(context.Background(), User{}, token.DeviceInfo{}, IssueOptions{})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestIssueAccessTokenPersistsNothing(t *testing.T) {
	env := newTestEngine(t, testConfig())

	access, err := env.engine.IssueAccessToken(bob)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	claims, err := env.engine.VerifyAccessToken(access)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if claims.UserID != bob.ID || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	records, err := env.engine.store.ListByUser(context.Background(), bob.ID)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no refresh records, got %d", len(records))
	}
}

func TestVerifyAccessTokenErrors(t *testing.T) {
	env := newTestEngine(t, testConfig())
	pair := env.login(t, alice)

	if _, err := env.engine.VerifyAccessToken("not-a-token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
	if _, err := env.engine.VerifyAccessToken(pair.RefreshToken); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Fatalf("expected ErrTokenTypeMismatch for refresh token, got %v", err)
	}

	env.clock.Advance(16 * time.Minute)
	if _, err := env.engine.VerifyAccessToken(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRefreshTokenDoesNotConsume(t *testing.T) {
	env := newTestEngine(t, testConfig())
	pair := env.login(t, alice)

	for i := 0; i < 3; i++ {
		rec, err := env.engine.VerifyRefreshToken(context.Background(), pair.RefreshToken)
		if err != nil {
			t.Fatalf("VerifyRefreshToken failed: %v", err)
		}
		if rec.UsageCount != 0 {
			t.Fatalf("verification consumed the token: %+v", rec)
		}
	}

	if _, err := env.engine.Rotate(context.Background(), pair.RefreshToken, token.DeviceInfo{}); err != nil {
		t.Fatalf("Rotate after verification failed: %v", err)
	}
	if _, err := env.engine.VerifyRefreshToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenExhausted) {
		t.Fatalf("expected ErrTokenExhausted after rotation, got %v", err)
	}
}

func TestIssueTokenPairContinuesExistingFamily(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()
	first := env.login(t, alice)

	next, err := env.engine.IssueTokenPair(ctx, alice, token.DeviceInfo{}, IssueOptions{
		TokenFamily: first.TokenFamily,
		SessionID:   first.SessionID,
	})
	if err != nil {
		t.Fatalf("IssueTokenPair failed: %v", err)
	}
	if next.TokenFamily != first.TokenFamily || next.SessionID != first.SessionID {
		t.Fatalf("expected same family and session, got %+v", next)
	}

	n, err := env.engine.ActiveSessionCount(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("continuing a family must not register a session, got %d", n)
	}
}
