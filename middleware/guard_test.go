package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/token"
)

var member = goToken.User{ID: "u1", Roles: []string{"member"}, Status: goToken.AccountActive}

func newGuardEngine(t *testing.T) *goToken.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := goToken.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("access-signing-key-0123456789abcdef")
	cfg.JWT.RefreshSecret = []byte("refresh-secret-0123456789abcdefgh")

	engine, err := goToken.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(goToken.UserProviderFunc(func(context.Context, string) (goToken.User, error) {
			return member, nil
		})).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return engine
}

func TestRequireAccess(t *testing.T) {
	engine := newGuardEngine(t)
	access, err := engine.IssueAccessToken(member)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	pair, err := engine.IssueTokenPair(context.Background(), member, token.DeviceInfo{}, goToken.IssueOptions{})
	if err != nil {
		t.Fatalf("IssueTokenPair failed: %v", err)
	}

	var gotUser string
	h := RequireAccess(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("expected claims in context")
			return
		}
		gotUser = claims.UserID
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + access, want: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer " + access, want: http.StatusNoContent},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + access, want: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + pair.RefreshToken, want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not.a.token", want: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if tc.want == http.StatusUnauthorized && !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer") {
				t.Fatalf("expected a bearer challenge, got %q", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
	if gotUser != member.ID {
		t.Fatalf("expected claims for %s, got %q", member.ID, gotUser)
	}
}

func TestWithClientInfoFeedsDevice(t *testing.T) {
	var device token.DeviceInfo
	h := WithClientInfo(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := goToken.DeviceFromContext(r.Context())
		if err != nil {
			t.Errorf("DeviceFromContext failed: %v", err)
		}
		device = d
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "203.0.113.9:52114"
	req.Header.Set("User-Agent", "integration/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if device.IPAddress() != "203.0.113.9" {
		t.Fatalf("expected remote ip on device, got %q", device.IPAddress())
	}
	if device.Fingerprint() == "" {
		t.Fatal("expected a fingerprint derived from the user agent")
	}
}
