package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/metrics/export/internaldefs"
	"github.com/MrEthical07/goToken/token"
)

var (
	ErrNilMeter  = errors.New("otel exporter: nil meter")
	ErrNilSource = errors.New("otel exporter: nil metrics source")
)

// Attribute keys.
const (
	OutcomeKey   = attribute.Key("outcome")
	ReasonKey    = attribute.Key("reason")
	ScopeKey     = attribute.Key("scope")
	EventKey     = attribute.Key("event")
	ActionKey    = attribute.Key("action")
	OperationKey = attribute.Key("operation")
	BoundKey     = attribute.Key("le")
)

// MetricsSource is the part of [goToken.Engine] the exporter reads.
type MetricsSource interface {
	MetricsSnapshot() goToken.MetricsSnapshot
	AuditDropped() uint64
}

// series is one engine counter observed under fixed attributes.
type series struct {
	id   goToken.MetricID
	attr attribute.KeyValue
}

type counterDef struct {
	name   string
	unit   string
	help   string
	series []series
}

var none attribute.KeyValue

var counterDefs = []counterDef{
	{
		name: "gotoken.issuances", unit: "{pair}", help: "Token pair issuance attempts by outcome.",
		series: []series{
			{goToken.MetricIssueSuccess, OutcomeKey.String("success")},
			{goToken.MetricIssueFailure, OutcomeKey.String("failure")},
		},
	},
	{
		name: "gotoken.issuance.policy_denied", unit: "{pair}", help: "Issuances denied by the security policy.",
		series: []series{{goToken.MetricPolicyDenied, none}},
	},
	{
		name: "gotoken.issuance.flagged", unit: "{pair}", help: "Issuances that raised a heuristics flag.",
		series: []series{{goToken.MetricSuspiciousActivity, none}},
	},
	{
		name: "gotoken.rotations", unit: "{rotation}", help: "Refresh token rotations by outcome.",
		series: []series{
			{goToken.MetricRotateSuccess, OutcomeKey.String("success")},
			{goToken.MetricRotateFailure, OutcomeKey.String("failure")},
		},
	},
	{
		name: "gotoken.rotation.reuse_detected", unit: "{token}", help: "Replayed refresh tokens; each revoked its family.",
		series: []series{{goToken.MetricReuseDetected, none}},
	},
	{
		name: "gotoken.rotation.conflicts", unit: "{rotation}", help: "Rotations that lost a concurrent exchange of the same token.",
		series: []series{{goToken.MetricRotateConflict, none}},
	},
	{
		name: "gotoken.rotation.throttled", unit: "{rotation}", help: "Rotations refused by the per-family throttle.",
		series: []series{{goToken.MetricRefreshRateLimited, none}},
	},
	{
		name: "gotoken.revocation.operations", unit: "{operation}", help: "Bulk revocations by scope.",
		series: []series{
			{goToken.MetricFamilyRevoked, ScopeKey.String("family")},
			{goToken.MetricUserRevoked, ScopeKey.String("user")},
		},
	},
	{
		name: "gotoken.sessions", unit: "{session}", help: "Device session registry changes by event.",
		series: []series{
			{goToken.MetricSessionCreated, EventKey.String("created")},
			{goToken.MetricSessionRemoved, EventKey.String("removed")},
		},
	},
	{
		name: "gotoken.session.evictions", unit: "{session}", help: "Sessions evicted by the concurrent session cap.",
		series: []series{{goToken.MetricSessionEvicted, none}},
	},
	{
		name: "gotoken.cleanup.runs", unit: "{run}", help: "Cleanup sweeper runs.",
		series: []series{{goToken.MetricCleanupRuns, none}},
	},
	{
		name: "gotoken.cleanup.records", unit: "{record}", help: "Records the sweeper changed, by action.",
		series: []series{
			{goToken.MetricCleanupExpiredRevoked, ActionKey.String("expired_revoked")},
			{goToken.MetricCleanupRevokedDeleted, ActionKey.String("revoked_deleted")},
			{goToken.MetricCleanupOrphansDeleted, ActionKey.String("orphan_deleted")},
		},
	},
	{
		name: "gotoken.cleanup.errors", unit: "{record}", help: "Per-record sweeper failures.",
		series: []series{{goToken.MetricCleanupErrors, none}},
	},
}

var latencyOperations = []struct {
	id        goToken.MetricID
	operation string
}{
	{goToken.MetricIssueLatency, "issue"},
	{goToken.MetricRotateLatency, "rotate"},
}

type observedCounter struct {
	instrument metric.Int64ObservableCounter
	ids        []goToken.MetricID
	opts       []metric.ObserveOption
}

type observedLatency struct {
	id      goToken.MetricID
	buckets [8]metric.ObserveOption
	count   metric.ObserveOption
}

// Exporter observes engine metrics through asynchronous instruments. One
// callback reads a snapshot per collection cycle.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration

	counters     []observedCounter
	revocations  metric.Int64ObservableCounter
	reasons      []token.RevokeReason
	reasonOpts   []metric.ObserveOption
	latency      metric.Int64ObservableGauge
	latencyCount metric.Int64ObservableGauge
	latencies    []observedLatency
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers instruments for engine on meter.
func NewExporter(meter metric.Meter, engine *goToken.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource registers instruments for a custom [MetricsSource].
func NewExporterFromSource(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source, reasons: token.Reasons()}
	observables := make([]metric.Observable, 0, len(counterDefs)+4)

	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithUnit(def.unit), metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("otel exporter: create counter %s: %w", def.name, err)
		}
		c := observedCounter{instrument: ins}
		for _, s := range def.series {
			c.ids = append(c.ids, s.id)
			if s.attr.Key == "" {
				c.opts = append(c.opts, nil)
				continue
			}
			c.opts = append(c.opts, metric.WithAttributes(s.attr))
		}
		e.counters = append(e.counters, c)
		observables = append(observables, ins)
	}

	var err error
	e.revocations, err = meter.Int64ObservableCounter(
		"gotoken.revocations",
		metric.WithUnit("{record}"),
		metric.WithDescription("Revoked refresh token records by reason."),
	)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: create revocations counter: %w", err)
	}
	for _, r := range e.reasons {
		e.reasonOpts = append(e.reasonOpts, metric.WithAttributes(ReasonKey.String(string(r))))
	}

	e.latency, err = meter.Int64ObservableGauge(
		"gotoken.latency.bucket",
		metric.WithUnit("{sample}"),
		metric.WithDescription("Cumulative latency bucket counts in seconds, by operation and upper bound."),
	)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: create latency gauge: %w", err)
	}
	e.latencyCount, err = meter.Int64ObservableGauge(
		"gotoken.latency.count",
		metric.WithUnit("{sample}"),
		metric.WithDescription("Latency samples by operation."),
	)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: create latency count gauge: %w", err)
	}
	for _, op := range latencyOperations {
		l := observedLatency{id: op.id, count: metric.WithAttributes(OperationKey.String(op.operation))}
		for i, le := range internaldefs.HistogramBoundLabels {
			l.buckets[i] = metric.WithAttributes(OperationKey.String(op.operation), BoundKey.String(le))
		}
		e.latencies = append(e.latencies, l)
	}

	e.auditDropped, err = meter.Int64ObservableCounter(
		"gotoken.audit.dropped",
		metric.WithUnit("{event}"),
		metric.WithDescription("Audit events dropped under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: create audit dropped counter: %w", err)
	}
	observables = append(observables, e.revocations, e.latency, e.latencyCount, e.auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		for i, id := range c.ids {
			value := int64(snapshot.Counters[id])
			if c.opts[i] == nil {
				o.ObserveInt64(c.instrument, value)
				continue
			}
			o.ObserveInt64(c.instrument, value, c.opts[i])
		}
	}

	for i, r := range e.reasons {
		if n, ok := snapshot.Revocations[r]; ok {
			o.ObserveInt64(e.revocations, int64(n), e.reasonOpts[i])
		}
	}

	// Histograms are absent unless latency recording is on.
	for _, l := range e.latencies {
		raw, ok := snapshot.Histograms[l.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, v := range cumulative {
			o.ObserveInt64(e.latency, int64(v), l.buckets[i])
		}
		o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]), l.count)
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
