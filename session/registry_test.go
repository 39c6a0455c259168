package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goToken/token"
)

func newRegistryTest(t *testing.T) (*Registry, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRegistry(rdb, "gt", time.Hour), mr, rdb
}

func testRecord(user string, i int, at time.Time) Record {
	dev, _ := token.NewDeviceInfo(token.DeviceInput{
		IPAddress: fmt.Sprintf("10.0.0.%d", i+1),
		UserAgent: "registry-test/1.0",
	})
	return Record{
		SessionID:    fmt.Sprintf("sid-%d", i),
		UserID:       user,
		TokenFamily:  fmt.Sprintf("fam-%d", i),
		Device:       dev,
		CreatedAt:    at,
		LastActivity: at,
	}
}

func TestCreateEvictsLeastRecentlyActive(t *testing.T) {
	reg, _, _ := newRegistryTest(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		evicted, err := reg.Create(ctx, testRecord("u-1", i, base.Add(time.Duration(i)*time.Minute)), 3)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if len(evicted) != 0 {
			t.Fatalf("create %d: unexpected eviction %+v", i, evicted)
		}
	}

	// sid-0 becomes the most recent, so sid-1 is now the eviction candidate.
	if err := reg.Touch(ctx, "u-1", "sid-0", base.Add(10*time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	evicted, err := reg.Create(ctx, testRecord("u-1", 3, base.Add(20*time.Minute)), 3)
	if err != nil {
		t.Fatalf("create over cap: %v", err)
	}
	if len(evicted) != 1 || evicted[0].SessionID != "sid-1" || evicted[0].TokenFamily != "fam-1" {
		t.Fatalf("expected sid-1 evicted, got %+v", evicted)
	}

	list, err := reg.List(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	want := []string{"sid-3", "sid-0", "sid-2"}
	for i, rec := range list {
		if rec.SessionID != want[i] {
			t.Fatalf("list[%d]: expected %s, got %s", i, want[i], rec.SessionID)
		}
	}
}

func TestCreateSameSessionIDDoesNotEvictItself(t *testing.T) {
	reg, _, _ := newRegistryTest(t)
	ctx := context.Background()
	now := time.Now()

	rec := testRecord("u-1", 0, now)
	if _, err := reg.Create(ctx, rec, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec.LastActivity = now.Add(time.Minute)
	evicted, err := reg.Create(ctx, rec, 1)
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if len(evicted) != 0 {
		t.Fatalf("expected no eviction on re-register, got %+v", evicted)
	}
	if n, _ := reg.Count(ctx, "u-1"); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}
}

func TestCreateConcurrentNeverExceedsCap(t *testing.T) {
	reg, _, _ := newRegistryTest(t)
	ctx := context.Background()
	const (
		workers = 20
		max     = 5
	)

	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	totalEvicted := 0
	errs := make(chan error, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			evicted, err := reg.Create(ctx, testRecord("u-1", i, time.Now()), max)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			totalEvicted += len(evicted)
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent create: %v", err)
	}

	n, err := reg.Count(ctx, "u-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != max {
		t.Fatalf("expected %d sessions, got %d", max, n)
	}
	if totalEvicted != workers-max {
		t.Fatalf("expected %d evictions, got %d", workers-max, totalEvicted)
	}
}

func TestRemoveAndClear(t *testing.T) {
	reg, _, rdb := newRegistryTest(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if _, err := reg.Create(ctx, testRecord("u-1", i, now), 0); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	removed, err := reg.Remove(ctx, "u-1", "sid-1")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	removed, err = reg.Remove(ctx, "u-1", "sid-1")
	if err != nil || removed {
		t.Fatalf("repeat remove: removed=%v err=%v", removed, err)
	}
	if _, err := reg.Get(ctx, "u-1", "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get removed: expected ErrNotFound, got %v", err)
	}

	n, err := reg.Clear(ctx, "u-1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if exists, _ := rdb.Exists(ctx, "gt:su:{u-1}").Result(); exists != 0 {
		t.Fatal("expected user index to be deleted")
	}
	list, err := reg.List(ctx, "u-1")
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", list, err)
	}
}

func TestTouchExtendsSessionTTL(t *testing.T) {
	reg, mr, _ := newRegistryTest(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := reg.Create(ctx, testRecord("u-1", 0, now), 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 1; i <= 3; i++ {
		mr.FastForward(40 * time.Minute)
		if err := reg.Touch(ctx, "u-1", "sid-0", now.Add(time.Duration(i)*40*time.Minute)); err != nil {
			t.Fatalf("touch %d: %v", i, err)
		}
	}

	// Two hours after Create, well past the one hour TTL.
	if _, err := reg.Get(ctx, "u-1", "sid-0"); err != nil {
		t.Fatalf("touched session expired: %v", err)
	}
	if n, _ := reg.Count(ctx, "u-1"); n != 1 {
		t.Fatalf("expected the session indexed, got %d", n)
	}

	mr.FastForward(61 * time.Minute)
	if _, err := reg.Get(ctx, "u-1", "sid-0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected idle session to expire, got %v", err)
	}
}

func TestTouchMissingSession(t *testing.T) {
	reg, _, _ := newRegistryTest(t)
	if err := reg.Touch(context.Background(), "u-1", "nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpiredBlobsDoNotCountTowardCap(t *testing.T) {
	reg, mr, _ := newRegistryTest(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := reg.Create(ctx, testRecord("u-1", 0, now), 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.Del("gt:s:u-1:sid-0")

	evicted, err := reg.Create(ctx, testRecord("u-1", 1, now), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(evicted) != 0 {
		t.Fatalf("stale index entry must be dropped, not evicted: %+v", evicted)
	}
	got, err := reg.Get(ctx, "u-1", "sid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TokenFamily != "fam-1" || !got.IsActive {
		t.Fatalf("unexpected record %+v", got)
	}
}
