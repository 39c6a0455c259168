package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrEthical07/goToken/token"
)

// RevokedBy is recorded on records the sweeper revokes.
const RevokedBy = "system:sweeper"

// Action identifies what the sweeper did to one record.
type Action string

const (
	ActionExpiredRevoked Action = "expired_revoked"
	ActionRevokedDeleted Action = "revoked_deleted"
	ActionOrphanDeleted  Action = "orphan_deleted"
)

// Config tunes a [Sweeper].
type Config struct {
	Interval         time.Duration
	RevokedRetention time.Duration
	BatchSize        int
	MaxOpsPerSecond  float64
	RunTimeout       time.Duration
}

// Deps are the collaborators of a [Sweeper]. Sessions, UserExists,
// OnAction and OnRun are optional.
type Deps struct {
	Store    token.Store
	Sessions SessionRemover
	// UserExists reports whether the user id still resolves. A nil func
	// disables orphan deletion.
	UserExists func(ctx context.Context, userID string) (bool, error)
	OnAction   func(ctx context.Context, action Action, rec token.Record)
	// OnRun is called after every run, periodic or on demand.
	OnRun  func(ctx context.Context, res RunResult, err error)
	Logger *slog.Logger
	Now    func() time.Time
}

// SessionRemover drops the session registry entry of an expired token.
type SessionRemover interface {
	Remove(ctx context.Context, userID, sessionID string) (bool, error)
}

// RunResult counts what one run did.
type RunResult struct {
	Scanned        int
	ExpiredRevoked int
	RevokedDeleted int
	OrphansDeleted int
	MarkersPruned  int
	Errors         int
	Duration       time.Duration
}

// Cleaned returns the number of records the run revoked or deleted.
func (r RunResult) Cleaned() int {
	return r.ExpiredRevoked + r.RevokedDeleted + r.OrphansDeleted
}

// Stats accumulates across runs.
type Stats struct {
	TotalRuns       uint64
	TokensCleanedUp uint64
	Errors          uint64
	LastRun         time.Time
	LastResult      RunResult
}

// Sweeper runs cleanup on demand ([Sweeper.RunOnce]) or on a ticker
// ([Sweeper.Start]). Runs never overlap.
type Sweeper struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter

	runMu   sync.Mutex
	statsMu sync.Mutex
	stats   Stats

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New builds a Sweeper. Zero config values take defaults: hourly interval,
// 30 day retention, batches of 100, unpaced, five minute run timeout.
func New(cfg Config, deps Deps) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RevokedRetention <= 0 {
		cfg.RevokedRetention = 30 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MaxOpsPerSecond > 0 {
		burst := int(cfg.MaxOpsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxOpsPerSecond), burst)
	}

	return &Sweeper{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With("component", "sweeper"),
		limiter: limiter,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the periodic loop. Calling it more than once has no effect.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		go s.loop()
	})
}

// Stop ends the periodic loop and waits for an in-flight run to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.doneCh
		}
	})
}

func (s *Sweeper) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("cleanup run failed", "error", err)
			}
			cancel()

		case <-s.stopCh:
			return
		}
	}
}

// Stats returns a copy of the accumulated counters.
func (s *Sweeper) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// RunOnce performs one full pass. Per-record failures are counted in the
// result; the returned error is set only when the scan itself fails.
func (s *Sweeper) RunOnce(ctx context.Context) (RunResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.deps.Now()
	res := RunResult{}
	owners := make(map[string]bool)

	var runErr error
	cursor := ""
	for {
		batch, next, err := s.deps.Store.Scan(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			res.Errors++
			runErr = err
			break
		}
		for _, rec := range batch {
			res.Scanned++
			s.sweepRecord(ctx, rec, owners, &res)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if runErr == nil {
		pruned, err := s.deps.Store.PruneFamilyMarkers(ctx, s.deps.Now().Add(-s.cfg.RevokedRetention))
		if err != nil {
			res.Errors++
			s.logger.Error("prune family markers failed", "error", err)
		}
		res.MarkersPruned = pruned
	}

	res.Duration = s.deps.Now().Sub(start)

	s.statsMu.Lock()
	s.stats.TotalRuns++
	s.stats.TokensCleanedUp += uint64(res.Cleaned())
	s.stats.Errors += uint64(res.Errors)
	s.stats.LastRun = start
	s.stats.LastResult = res
	s.statsMu.Unlock()

	s.logger.Info("cleanup run finished",
		"scanned", res.Scanned,
		"expired_revoked", res.ExpiredRevoked,
		"revoked_deleted", res.RevokedDeleted,
		"orphans_deleted", res.OrphansDeleted,
		"markers_pruned", res.MarkersPruned,
		"errors", res.Errors,
		"duration", res.Duration,
	)
	if s.deps.OnRun != nil {
		s.deps.OnRun(ctx, res, runErr)
	}

	return res, runErr
}

func (s *Sweeper) sweepRecord(ctx context.Context, rec token.Record, owners map[string]bool, res *RunResult) {
	now := s.deps.Now()

	if s.deps.UserExists != nil {
		exists, known := owners[rec.UserID]
		if !known {
			var err error
			exists, err = s.deps.UserExists(ctx, rec.UserID)
			if err != nil {
				res.Errors++
				s.logger.Warn("resolve token owner failed", "token_id", rec.ID, "error", err)
				return
			}
			owners[rec.UserID] = exists
		}
		if !exists {
			if s.delete(ctx, rec, res) {
				res.OrphansDeleted++
				s.notify(ctx, ActionOrphanDeleted, rec)
			}
			return
		}
	}

	switch {
	case !rec.IsRevoked && !now.Before(rec.ExpiresAt):
		next, changed := token.ApplyRevoke(rec, now, RevokedBy, token.ReasonExpired)
		if !changed {
			return
		}
		if !s.wait(ctx, res) {
			return
		}
		if err := s.deps.Store.CompareAndSwap(ctx, next, rec.Version); err != nil {
			s.recordWriteError(rec, err, res)
			return
		}
		res.ExpiredRevoked++
		if rec.IsActive && rec.SessionID != "" && s.deps.Sessions != nil {
			if _, err := s.deps.Sessions.Remove(ctx, rec.UserID, rec.SessionID); err != nil {
				res.Errors++
				s.logger.Warn("remove expired session failed", "session_id", rec.SessionID, "error", err)
			}
		}
		s.notify(ctx, ActionExpiredRevoked, next)

	case rec.IsRevoked && !rec.RevokedAt.IsZero() && now.Sub(rec.RevokedAt) > s.cfg.RevokedRetention:
		if s.delete(ctx, rec, res) {
			res.RevokedDeleted++
			s.notify(ctx, ActionRevokedDeleted, rec)
		}
	}
}

func (s *Sweeper) delete(ctx context.Context, rec token.Record, res *RunResult) bool {
	if !s.wait(ctx, res) {
		return false
	}
	if err := s.deps.Store.Delete(ctx, rec.ID, rec.Version); err != nil {
		s.recordWriteError(rec, err, res)
		return false
	}
	return true
}

func (s *Sweeper) wait(ctx context.Context, res *RunResult) bool {
	if err := s.limiter.Wait(ctx); err != nil {
		res.Errors++
		return false
	}
	return true
}

// recordWriteError ignores records that changed or vanished since the scan;
// live traffic owns them now.
func (s *Sweeper) recordWriteError(rec token.Record, err error, res *RunResult) {
	if errors.Is(err, token.ErrConflict) || errors.Is(err, token.ErrNotFound) {
		s.logger.Debug("record changed during sweep", "token_id", rec.ID, "error", err)
		return
	}
	res.Errors++
	s.logger.Warn("sweep write failed", "token_id", rec.ID, "token_family", rec.TokenFamily, "error", err)
}

func (s *Sweeper) notify(ctx context.Context, action Action, rec token.Record) {
	if s.deps.OnAction != nil {
		s.deps.OnAction(ctx, action, rec)
	}
}
