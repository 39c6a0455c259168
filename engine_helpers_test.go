package goToken

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goToken/token"
)

const (
	testSigningKey    = "access-signing-key-0123456789abcdef"
	testRefreshSecret = "refresh-secret-0123456789abcdefgh"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]User
}

func newMemoryUsers(users ...User) *memoryUsers {
	p := &memoryUsers{users: make(map[string]User, len(users))}
	for _, u := range users {
		p.users[u.ID] = u
	}
	return p
}

func (p *memoryUsers) GetUserByID(_ context.Context, userID string) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (p *memoryUsers) setStatus(userID string, status AccountStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.users[userID]
	u.Status = status
	p.users[userID] = u
}

func (p *memoryUsers) remove(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte(testSigningKey)
	cfg.JWT.RefreshSecret = []byte(testRefreshSecret)
	cfg.JWT.Issuer = "gotoken-test"
	cfg.Metrics.Enabled = true
	return cfg
}

var (
	alice = User{ID: "u-alice", Roles: []string{"member"}, Status: AccountActive}
	bob   = User{ID: "u-bob", Roles: []string{"admin"}, Status: AccountActive}
)

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
	users  *memoryUsers
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, rdb
}

func newTestEngine(t testing.TB, cfg Config, configure ...func(*Builder)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		clock: newTestClock(),
		users: newMemoryUsers(alice, bob),
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(env.users).
		WithClock(env.clock.Now).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func testDevice(t testing.TB, ip, userAgent string) token.DeviceInfo {
	t.Helper()
	d, err := token.NewDeviceInfo(token.DeviceInput{
		IPAddress:  ip,
		UserAgent:  userAgent,
		DeviceType: "desktop",
	})
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	return d
}

func (env *testEnv) login(t testing.TB, user User) TokenPair {
	t.Helper()
	pair, err := env.engine.IssueTokenPair(context.Background(), user, testDevice(t, "198.51.100.7", "Mozilla/5.0 (X11; Linux x86_64) Firefox/125.0"), IssueOptions{})
	if err != nil {
		t.Fatalf("IssueTokenPair failed: %v", err)
	}
	return pair
}

func (env *testEnv) record(t testing.TB, raw string) token.Record {
	t.Helper()
	rec, err := env.engine.lookupRefresh(context.Background(), raw)
	if err != nil {
		t.Fatalf("lookup refresh: %v", err)
	}
	return rec
}
