package goToken

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goToken/internal/rate"
	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/session"
	"github.com/MrEthical07/goToken/token"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store    token.Store
	postgres *pgxpool.Pool

	userProvider UserProvider
	auditSink    AuditSink
	policy       SecurityPolicy
	logger       *slog.Logger
	now          func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// The returned Builder starts from [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client. It backs the session registry and the
// refresh throttle, and the token store unless another one is set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres stores token records in Postgres. The schema is created by
// [token.PostgresStore.EnsureSchema].
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.postgres = pool
	return b
}

// WithTokenStore sets a custom token store. It wins over WithPostgres.
func (b *Builder) WithTokenStore(store token.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSecurityPolicy installs the hook consulted after the heuristics run
// on every token pair issuance.
func (b *Builder) WithSecurityPolicy(policy SecurityPolicy) *Builder {
	b.policy = policy
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source. Tests use it to move past expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the issuance and rotation histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration and fails when Redis or the user
// provider is missing. When cleanup is enabled the sweeper is started and
// runs until [Engine.Close].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- TOKEN STORE --------
	markerTTL := cfg.Store.FamilyMarkerTTL
	if markerTTL <= 0 {
		markerTTL = cfg.JWT.RefreshTTL
	}

	var (
		store   token.Store
		backend string
	)
	switch {
	case b.store != nil:
		store, backend = b.store, "custom"
	case b.postgres != nil:
		store, backend = token.NewPostgresStore(b.postgres), "postgres"
	default:
		if cfg.Store.Backend == "postgres" {
			return nil, errors.New("Store Backend postgres requires a pool")
		}
		store, backend = token.NewRedisStore(b.redis, cfg.Store.RedisPrefix, markerTTL), "redis"
	}

	// -------- SIGNING --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		RefreshSecret: cloneBytes(cfg.JWT.RefreshSecret),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		store:        store,
		storeBackend: backend,
		sessions:     session.NewRegistry(b.redis, cfg.Store.RedisPrefix, cfg.JWT.RefreshTTL),
		jwtManager:   jm,
		userProvider: b.userProvider,
		policy:       b.policy,
		logger:       logger.With("component", "gotoken"),
		now:          now,
	}

	if cfg.Rotation.EnableRefreshThrottle {
		engine.limiter = rate.New(b.redis, rate.Config{
			Enabled:     true,
			MaxAttempts: cfg.Rotation.MaxRefreshAttempts,
			Window:      cfg.Rotation.RefreshWindow,
			Prefix:      cfg.Store.RedisPrefix,
		})
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.sweeper = engine.newSweeper()

	if cfg.Cleanup.Enabled {
		engine.sweeper.Start()
	}

	b.built = true

	return engine, nil
}
