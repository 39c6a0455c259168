// Command gotoken-loadtest measures issuance, rotation and access token
// verification throughput against Redis or an in-process miniredis.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/token"
)

type chainState struct {
	mu      sync.Mutex
	refresh string
	access  string
}

func main() {
	app := &cli.App{
		Name:  "gotoken-loadtest",
		Usage: "benchmark token issuance and rotation",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "users", Value: 1000, Usage: "distinct users to issue for"},
			&cli.IntFlag{Name: "concurrency", Value: 64, Usage: "concurrent workers"},
			&cli.IntFlag{Name: "ops", Value: 20000, Usage: "operations per phase"},
			&cli.IntFlag{Name: "racers", Value: 32, Usage: "goroutines racing on one refresh token"},
			&cli.StringFlag{Name: "redis-addr", EnvVars: []string{"REDIS_ADDR"}, Usage: "redis address; miniredis when empty"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "gotoken-loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	users, concurrency, ops := c.Int("users"), c.Int("concurrency"), c.Int("ops")
	if users <= 0 || concurrency <= 0 || ops <= 0 {
		return errors.New("users, concurrency and ops must be > 0")
	}
	ctx := c.Context

	client, cleanup, err := dialRedis(c.String("redis-addr"))
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := goToken.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("loadtest-access-key-0123456789abcdef")
	cfg.JWT.RefreshSecret = []byte("loadtest-refresh-secret-0123456789ab")
	cfg.Session.MaxConcurrentSessions = 0
	cfg.Security.EvaluateOnIssue = false

	engine, err := goToken.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(goToken.UserProviderFunc(func(_ context.Context, id string) (goToken.User, error) {
			return goToken.User{ID: id, Status: goToken.AccountActive}, nil
		})).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	states := make([]chainState, users)
	issueStats, err := runIssuePhase(ctx, engine, states, concurrency)
	if err != nil {
		return err
	}
	rotateStats := runRotatePhase(ctx, engine, states, ops, concurrency)
	verifyStats := runVerifyPhase(engine, states, ops, concurrency)
	winners, losers := runRace(ctx, engine, c.Int("racers"))

	fmt.Fprintln(c.App.Writer, "---- results ----")
	printStats(c.App.Writer, "issue", issueStats)
	printStats(c.App.Writer, "rotate", rotateStats)
	printStats(c.App.Writer, "verify", verifyStats)
	fmt.Fprintf(c.App.Writer, "race: winners=%d losers=%d\n", winners, losers)
	if winners > 1 {
		return fmt.Errorf("rotation race produced %d winners", winners)
	}
	return nil
}

func dialRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

func runIssuePhase(ctx context.Context, engine *goToken.Engine, states []chainState, concurrency int) (phaseStats, error) {
	var (
		errOnce  sync.Once
		firstErr error
	)
	stats := runPhase(len(states), concurrency, func(_ *rand.Rand, i int) bool {
		pair, err := engine.IssueTokenPair(ctx, goToken.User{ID: fmt.Sprintf("user-%d", i), Status: goToken.AccountActive}, token.DeviceInfo{}, goToken.IssueOptions{})
		if err != nil {
			errOnce.Do(func() { firstErr = err })
			return false
		}
		states[i].refresh = pair.RefreshToken
		states[i].access = pair.AccessToken
		return true
	})
	if firstErr != nil {
		return stats, fmt.Errorf("seeding failed: %w", firstErr)
	}
	return stats, nil
}

func runRotatePhase(ctx context.Context, engine *goToken.Engine, states []chainState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(r *rand.Rand, _ int) bool {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		pair, err := engine.Rotate(ctx, state.refresh, token.DeviceInfo{})
		if err != nil {
			return false
		}
		state.refresh = pair.RefreshToken
		state.access = pair.AccessToken
		return true
	})
}

func runVerifyPhase(engine *goToken.Engine, states []chainState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(r *rand.Rand, _ int) bool {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		access := state.access
		state.mu.Unlock()

		_, err := engine.VerifyAccessToken(access)
		return err == nil
	})
}

// runRace rotates one fresh refresh token from n goroutines at once.
func runRace(ctx context.Context, engine *goToken.Engine, n int) (winners, losers int64) {
	pair, err := engine.IssueTokenPair(ctx, goToken.User{ID: "racer", Status: goToken.AccountActive}, token.DeviceInfo{}, goToken.IssueOptions{})
	if err != nil || n <= 0 {
		return 0, 0
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := engine.Rotate(ctx, pair.RefreshToken, token.DeviceInfo{}); err == nil {
				atomic.AddInt64(&winners, 1)
			} else {
				atomic.AddInt64(&losers, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return winners, losers
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok := op(r, i)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
