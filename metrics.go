package goToken

import (
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goToken/token"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricIssueSuccess counts issued token pairs.
	MetricIssueSuccess MetricID = iota
	// MetricIssueFailure counts refused or failed issuances.
	MetricIssueFailure
	// MetricRotateSuccess counts successful rotations.
	MetricRotateSuccess
	// MetricRotateFailure counts failed rotations of every kind.
	MetricRotateFailure
	// MetricRotateConflict counts rotations that lost the race for one token.
	MetricRotateConflict
	// MetricReuseDetected counts replayed refresh tokens.
	MetricReuseDetected
	// MetricRefreshRateLimited counts throttled rotations.
	MetricRefreshRateLimited
	// MetricTokenRevoked counts records revoked through any scope.
	MetricTokenRevoked
	// MetricFamilyRevoked counts family revocations.
	MetricFamilyRevoked
	// MetricUserRevoked counts revoke-all operations.
	MetricUserRevoked
	// MetricSessionCreated counts registered sessions.
	MetricSessionCreated
	// MetricSessionEvicted counts sessions evicted by the concurrency cap.
	MetricSessionEvicted
	// MetricSessionRemoved counts explicitly removed sessions.
	MetricSessionRemoved
	// MetricSuspiciousActivity counts issuances that raised a heuristics flag.
	MetricSuspiciousActivity
	// MetricPolicyDenied counts issuances denied by the security policy.
	MetricPolicyDenied
	// MetricCleanupRuns counts sweeper runs.
	MetricCleanupRuns
	// MetricCleanupExpiredRevoked counts expired records the sweeper revoked.
	MetricCleanupExpiredRevoked
	// MetricCleanupRevokedDeleted counts revoked records deleted after retention.
	MetricCleanupRevokedDeleted
	// MetricCleanupOrphansDeleted counts records deleted because the owner was gone.
	MetricCleanupOrphansDeleted
	// MetricCleanupErrors counts per-record sweeper failures.
	MetricCleanupErrors
	// MetricIssueLatency is the issuance latency histogram.
	MetricIssueLatency
	// MetricRotateLatency is the rotation latency histogram.
	MetricRotateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters and latency histograms.
// A nil or disabled *Metrics ignores every call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
	revoked       []paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
// Revocations holds revoked record counts per reason.
type MetricsSnapshot struct {
	Counters    map[MetricID]uint64
	Histograms  map[MetricID][]uint64
	Revocations map[token.RevokeReason]uint64
}

var revokeReasons = token.Reasons()

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// Latency histograms are only recorded when both Enabled and
// EnableLatencyHistograms are set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
		revoked:       make([]paddedCounter, len(revokeReasons)),
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// AddRevoked adds n revoked records under reason. Unknown reasons are ignored.
func (m *Metrics) AddRevoked(reason token.RevokeReason, n uint64) {
	if m == nil || !m.enabled || n == 0 {
		return
	}
	for i, r := range revokeReasons {
		if r == reason && i < len(m.revoked) {
			atomic.AddUint64(&m.revoked[i].value, n)
			return
		}
	}
}

// Observe records d into the histogram id. Ids that are not histograms are
// ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of the counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// A disabled instance returns empty maps. Histograms are only present when
// latency recording is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:    map[MetricID]uint64{},
			Histograms:  map[MetricID][]uint64{},
			Revocations: map[token.RevokeReason]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:    make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:  make(map[MetricID][]uint64, 2),
		Revocations: make(map[token.RevokeReason]uint64, len(revokeReasons)),
	}

	for i := range m.revoked {
		s.Revocations[revokeReasons[i]] = atomic.LoadUint64(&m.revoked[i].value)
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricIssueLatency, MetricRotateLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricIssueLatency || id == MetricRotateLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
