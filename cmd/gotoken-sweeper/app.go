package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	goToken "github.com/MrEthical07/goToken"
	promexport "github.com/MrEthical07/goToken/metrics/export/prometheus"
	"github.com/MrEthical07/goToken/token"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "gotoken-sweeper",
		Usage: "revoke expired refresh tokens and delete dead records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"GOTOKEN_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-prefix",
				Usage: "environment prefix for config overrides",
				Value: goToken.DefaultEnvPrefix,
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address",
				EnvVars: []string{"REDIS_ADDR"},
				Value:   "localhost:6379",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "once",
				Usage: "run one sweep and print the result as JSON",
				Action: func(c *cli.Context) error {
					return withEngine(c, false, func(ctx context.Context, engine *goToken.Engine) error {
						res, err := engine.RunCleanup(ctx)
						if err != nil {
							return err
						}
						enc := json.NewEncoder(c.App.Writer)
						enc.SetIndent("", "  ")
						return enc.Encode(res)
					})
				},
			},
			{
				Name:  "run",
				Usage: "sweep on the configured interval until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "listen address for /metrics and /healthz",
						Value: ":9464",
					},
				},
				Action: func(c *cli.Context) error {
					return withEngine(c, true, func(ctx context.Context, engine *goToken.Engine) error {
						return serve(ctx, c.String("metrics-addr"), engine)
					})
				},
			},
		},
	}
}

func withEngine(c *cli.Context, periodic bool, fn func(context.Context, *goToken.Engine) error) error {
	logger := newLogger(c.String("log-level"))

	cfg, err := goToken.LoadConfig(c.String("config"), c.String("env-prefix"))
	if err != nil {
		return err
	}
	cfg.Cleanup.Enabled = periodic
	cfg.Metrics.Enabled = true

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: c.String("redis-addr")})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", c.String("redis-addr"), err)
	}

	b := goToken.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(ownersAlwaysExist{}).
		WithLogger(logger)

	if cfg.Store.Backend == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := token.NewPostgresStore(pool).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		b.WithPostgres(pool)
	}

	engine, err := b.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Info("sweeper ready",
		"backend", cfg.Store.Backend,
		"periodic", periodic,
		"interval", cfg.Cleanup.Interval,
		"retention", cfg.Cleanup.RevokedRetention,
	)
	return fn(ctx, engine)
}

func serve(ctx context.Context, addr string, engine *goToken.Engine) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promexport.NewExporter(engine).Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := engine.Health(r.Context())
		if !health.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Redis   bool                 `json:"redis"`
			Store   bool                 `json:"store"`
			Backend string               `json:"backend"`
			Cleanup goToken.CleanupStats `json:"cleanup"`
		}{health.RedisAvailable, health.StoreAvailable, health.StoreBackend, engine.CleanupStats()})
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ownersAlwaysExist reports every owner as active. The sweeper process has
// no user directory, so orphan deletion is left to services that do.
type ownersAlwaysExist struct{}

func (ownersAlwaysExist) GetUserByID(_ context.Context, userID string) (goToken.User, error) {
	return goToken.User{ID: userID, Status: goToken.AccountActive}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
