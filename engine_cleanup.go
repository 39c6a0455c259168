package goToken

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goToken/internal/sweeper"
	"github.com/MrEthical07/goToken/token"
)

// CleanupResult counts what one sweep did.
type CleanupResult = sweeper.RunResult

// CleanupStats accumulates over every sweep of an engine.
type CleanupStats = sweeper.Stats

func (e *Engine) newSweeper() *sweeper.Sweeper {
	cfg := e.config.Cleanup
	return sweeper.New(sweeper.Config{
		Interval:         cfg.Interval,
		RevokedRetention: cfg.RevokedRetention,
		BatchSize:        cfg.BatchSize,
		MaxOpsPerSecond:  cfg.MaxOpsPerSecond,
		RunTimeout:       cfg.RunTimeout,
	}, sweeper.Deps{
		Store:      e.store,
		Sessions:   e.sessions,
		UserExists: e.userExists,
		OnAction:   e.onSweep,
		OnRun:      e.onSweepRun,
		Logger:     e.logger,
		Now:        e.now,
	})
}

func (e *Engine) onSweep(_ context.Context, action sweeper.Action, _ token.Record) {
	switch action {
	case sweeper.ActionExpiredRevoked:
		e.metricInc(MetricCleanupExpiredRevoked)
		e.metricRevoked(token.ReasonExpired, 1)
	case sweeper.ActionRevokedDeleted:
		e.metricInc(MetricCleanupRevokedDeleted)
	case sweeper.ActionOrphanDeleted:
		e.metricInc(MetricCleanupOrphansDeleted)
	}
}

func (e *Engine) onSweepRun(ctx context.Context, res sweeper.RunResult, err error) {
	e.metricInc(MetricCleanupRuns)
	e.metricAdd(MetricCleanupErrors, res.Errors)
	e.emitAudit(ctx, auditEventCleanupRun, err == nil, "", "", "", "", err, func() map[string]string {
		return map[string]string{
			"scanned":         fmt.Sprint(res.Scanned),
			"expired_revoked": fmt.Sprint(res.ExpiredRevoked),
			"revoked_deleted": fmt.Sprint(res.RevokedDeleted),
			"orphans_deleted": fmt.Sprint(res.OrphansDeleted),
			"markers_pruned":  fmt.Sprint(res.MarkersPruned),
			"errors":          fmt.Sprint(res.Errors),
		}
	})
}

// RunCleanup describes the runcleanup operation and its observable behavior.
//
// RunCleanup performs one sweep now, whether or not the periodic sweeper is
// enabled. It never mutates a usable record. Per-record failures are
// counted in the result; the error is set only when the scan fails.
func (e *Engine) RunCleanup(ctx context.Context) (CleanupResult, error) {
	if e == nil || e.sweeper == nil {
		return CleanupResult{}, ErrEngineNotReady
	}

	res, err := e.sweeper.RunOnce(ctx)
	if err != nil {
		return res, storeError(err)
	}
	return res, nil
}

// CleanupStats returns the sweeper counters accumulated so far.
func (e *Engine) CleanupStats() CleanupStats {
	if e == nil || e.sweeper == nil {
		return CleanupStats{}
	}
	return e.sweeper.Stats()
}
