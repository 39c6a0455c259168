package goToken

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goToken/token"
)

func TestSecurityInvariantReplayRevokesFamily(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	// Login on device A: (A1, R1, family F).
	r1 := loginFrom(t, env, alice, "192.0.2.10")

	// rotate(R1) succeeds: (A2, R2), R1 is spent.
	r2, err := env.engine.Rotate(ctx, r1.RefreshToken, token.DeviceInfo{})
	if err != nil {
		t.Fatalf("rotate R1 failed: %v", err)
	}
	spent := env.record(t, r1.RefreshToken)
	if spent.IsActive || spent.UsageCount != 1 {
		t.Fatalf("expected R1 inactive with one use, got %+v", spent)
	}

	// rotate(R1) again is a replay.
	if _, err := env.engine.Rotate(ctx, r1.RefreshToken, token.DeviceInfo{}); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected ErrTokenReuseDetected, got %v", err)
	}

	// Every token of F fails verification, even unexpired.
	for _, raw := range []string{r1.RefreshToken, r2.RefreshToken} {
		if _, err := env.engine.VerifyRefreshToken(ctx, raw); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected ErrTokenRevoked for family member, got %v", err)
		}
	}
}

func TestSecurityInvariantSessionCapScenario(t *testing.T) {
	cfg := testConfig()
	cfg.Session.MaxConcurrentSessions = 2
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	a := loginFrom(t, env, alice, "192.0.2.1")
	b := loginFrom(t, env, alice, "192.0.2.2")
	c := loginFrom(t, env, alice, "192.0.2.3")

	sessions, err := env.engine.ListSessions(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	active := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		active[s.SessionID] = true
	}
	if len(active) != 2 || !active[b.SessionID] || !active[c.SessionID] || active[a.SessionID] {
		t.Fatalf("expected active = {B, C}, got %+v", sessions)
	}
	if _, err := env.engine.VerifyRefreshToken(ctx, a.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected A's token revoked, got %v", err)
	}
}

func TestSecurityInvariantCleanupNeverTouchesUsableTokens(t *testing.T) {
	cfg := testConfig()
	cfg.Session.MaxConcurrentSessions = 0
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	// Expired noise for the sweeper to work on.
	for i := 0; i < 5; i++ {
		env.login(t, bob)
	}
	env.clock.Advance(8 * 24 * time.Hour)

	pair := env.login(t, alice)

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 8)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			if _, err := env.engine.RunCleanup(ctx); err != nil {
				errs <- err
			}
		}
	}()
	go func() {
		defer wg.Done()
		current := pair
		for i := 0; i < 5; i++ {
			next, err := env.engine.Rotate(ctx, current.RefreshToken, token.DeviceInfo{})
			if err != nil {
				errs <- err
				return
			}
			current = next
		}
		pair = current
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent cleanup and rotation failed: %v", err)
	}
	if _, err := env.engine.VerifyRefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("latest token must stay usable, got %v", err)
	}
	if got := env.engine.CleanupStats().TokensCleanedUp; got != 5 {
		t.Fatalf("expected the 5 expired records cleaned, got %d", got)
	}
}

func TestSecurityInvariantAccessVerificationIsStateless(t *testing.T) {
	env := newTestEngine(t, testConfig())
	pair := env.login(t, alice)

	env.mr.Close()

	if _, err := env.engine.VerifyAccessToken(pair.AccessToken); err != nil {
		t.Fatalf("access verification must not need the store: %v", err)
	}
	if health := env.engine.Health(context.Background()); health.RedisAvailable {
		t.Fatal("expected Redis to be reported unavailable")
	}
	if _, err := env.engine.VerifyRefreshToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
