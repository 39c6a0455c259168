package goToken

import (
	"errors"
	"time"
)

// Config holds every engine setting. Instances are configured during
// initialization and then treated as immutable.
type Config struct {
	JWT      JWTConfig      `koanf:"jwt"`
	Store    StoreConfig    `koanf:"store"`
	Session  SessionConfig  `koanf:"session"`
	Rotation RotationConfig `koanf:"rotation"`
	Security SecurityConfig `koanf:"security"`
	Cleanup  CleanupConfig  `koanf:"cleanup"`
	Audit    AuditConfig    `koanf:"audit"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. Access tokens use SigningMethod with
// PrivateKey/PublicKey; refresh tokens are always HS256 with RefreshSecret.
type JWTConfig struct {
	AccessTTL     time.Duration     `koanf:"access_ttl"`
	RefreshTTL    time.Duration     `koanf:"refresh_ttl"`
	SigningMethod string            `koanf:"signing_method"` // "ed25519" (default), "hs256" optional
	PrivateKey    []byte            `koanf:"private_key"`
	PublicKey     []byte            `koanf:"public_key"`
	RefreshSecret []byte            `koanf:"refresh_secret"`
	Issuer        string            `koanf:"issuer"`
	Audience      string            `koanf:"audience"`
	Leeway        time.Duration     `koanf:"leeway"`
	KeyID         string            `koanf:"key_id"`
	VerifyKeys    map[string][]byte `koanf:"verify_keys"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig selects the token store backend.
//
// FamilyMarkerTTL bounds how long a revoked family is remembered by the
// Redis backend; zero uses RefreshTTL. PostgresDSN is only read by the
// commands, library users pass a pool to [Builder.WithPostgres].
type StoreConfig struct {
	Backend         string        `koanf:"backend"` // "redis" (default) or "postgres"
	RedisPrefix     string        `koanf:"redis_prefix"`
	FamilyMarkerTTL time.Duration `koanf:"family_marker_ttl"`
	PostgresDSN     string        `koanf:"postgres_dsn"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig bounds concurrent device sessions per user. Zero disables
// the cap.
type SessionConfig struct {
	MaxConcurrentSessions int `koanf:"max_concurrent_sessions"`
}

/*
====================================
ROTATION CONFIG
====================================
*/

// RotationConfig controls refresh token exchange.
type RotationConfig struct {
	MaxUsageCount         int           `koanf:"max_usage_count"`
	EnableRefreshThrottle bool          `koanf:"enable_refresh_throttle"`
	MaxRefreshAttempts    int           `koanf:"max_refresh_attempts"`
	RefreshWindow         time.Duration `koanf:"refresh_window"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the heuristics thresholds. Counts strictly above a
// threshold raise the matching flag.
type SecurityConfig struct {
	EvaluateOnIssue bool          `koanf:"evaluate_on_issue"`
	Window          time.Duration `koanf:"window"`
	MaxIPs          int           `koanf:"max_ips"`
	MaxDevices      int           `koanf:"max_devices"`
	MaxTokens       int           `koanf:"max_tokens"`
}

/*
====================================
CLEANUP CONFIG
====================================
*/

// CleanupConfig controls the background sweeper. [Engine.RunCleanup] works
// whether or not Enabled is set.
type CleanupConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Interval         time.Duration `koanf:"interval"`
	RevokedRetention time.Duration `koanf:"revoked_retention"`
	BatchSize        int           `koanf:"batch_size"`
	MaxOpsPerSecond  float64       `koanf:"max_ops_per_second"`
	RunTimeout       time.Duration `koanf:"run_timeout"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled     bool          `koanf:"enabled"`
	BufferSize  int           `koanf:"buffer_size"`
	DropIfFull  bool          `koanf:"drop_if_full"`
	SinkTimeout time.Duration `koanf:"sink_timeout"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration [New] starts from. Key material
// is left empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Store: StoreConfig{
			Backend:     "redis",
			RedisPrefix: "gt",
		},
		Session: SessionConfig{
			MaxConcurrentSessions: 5,
		},
		Rotation: RotationConfig{
			MaxUsageCount:         1,
			EnableRefreshThrottle: false,
			MaxRefreshAttempts:    20,
			RefreshWindow:         time.Minute,
		},
		Security: SecurityConfig{
			EvaluateOnIssue: true,
			Window:          24 * time.Hour,
			MaxIPs:          3,
			MaxDevices:      2,
			MaxTokens:       10,
		},
		Cleanup: CleanupConfig{
			Enabled:          false,
			Interval:         time.Hour,
			RevokedRetention: 30 * 24 * time.Hour,
			BatchSize:        100,
			MaxOpsPerSecond:  0,
			RunTimeout:       5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first setting that is out of range. It does not
// mutate the receiver.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be > AccessTTL")
	}

	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}

	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		return errors.New("JWT RefreshSecret must be at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Store
	if c.Store.Backend != "redis" && c.Store.Backend != "postgres" {
		return errors.New("unsupported Store Backend")
	}
	if c.Store.RedisPrefix == "" {
		return errors.New("Store RedisPrefix must not be empty")
	}
	if c.Store.FamilyMarkerTTL < 0 {
		return errors.New("Store FamilyMarkerTTL must be >= 0")
	}
	if c.Store.FamilyMarkerTTL > 0 && c.Store.FamilyMarkerTTL < c.JWT.RefreshTTL {
		return errors.New("Store FamilyMarkerTTL must be >= JWT RefreshTTL")
	}

	// Session
	if c.Session.MaxConcurrentSessions < 0 {
		return errors.New("Session MaxConcurrentSessions must be >= 0")
	}

	// Rotation
	if c.Rotation.MaxUsageCount < 1 {
		return errors.New("Rotation MaxUsageCount must be >= 1")
	}
	if c.Rotation.EnableRefreshThrottle {
		if c.Rotation.MaxRefreshAttempts <= 0 {
			return errors.New("Rotation MaxRefreshAttempts must be > 0 when EnableRefreshThrottle is true")
		}
		if c.Rotation.RefreshWindow <= 0 {
			return errors.New("Rotation RefreshWindow must be > 0 when EnableRefreshThrottle is true")
		}
	}

	// Security
	if c.Security.Window <= 0 {
		return errors.New("Security Window must be > 0")
	}
	if c.Security.MaxIPs <= 0 || c.Security.MaxDevices <= 0 || c.Security.MaxTokens <= 0 {
		return errors.New("Security thresholds must be > 0")
	}

	// Cleanup
	if c.Cleanup.Enabled && c.Cleanup.Interval <= 0 {
		return errors.New("Cleanup Interval must be > 0 when Enabled is true")
	}
	if c.Cleanup.RevokedRetention <= 0 {
		return errors.New("Cleanup RevokedRetention must be > 0")
	}
	if c.Cleanup.BatchSize <= 0 {
		return errors.New("Cleanup BatchSize must be > 0")
	}
	if c.Cleanup.MaxOpsPerSecond < 0 {
		return errors.New("Cleanup MaxOpsPerSecond must be >= 0")
	}
	if c.Cleanup.RunTimeout <= 0 {
		return errors.New("Cleanup RunTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Enabled is true")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	return nil
}
