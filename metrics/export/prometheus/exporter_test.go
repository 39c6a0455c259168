package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/metrics/export/internaldefs"
	"github.com/MrEthical07/goToken/token"
)

type fakeSource struct {
	snapshot goToken.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goToken.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func populatedSource() fakeSource {
	return fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters: map[goToken.MetricID]uint64{
				goToken.MetricRotateSuccess: 7,
				goToken.MetricReuseDetected: 1,
			},
			Histograms: map[goToken.MetricID][]uint64{
				goToken.MetricRotateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestCollectNothingWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters:   map[goToken.MetricID]uint64{},
			Histograms: map[goToken.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp); n != 0 {
		t.Fatalf("expected no metrics for a disabled source, got %d", n)
	}
}

func TestCollectCounters(t *testing.T) {
	exp := NewExporterFromSource(populatedSource())

	// Every counter, one histogram present in the snapshot, audit dropped.
	if n, want := testutil.CollectAndCount(exp), len(internaldefs.CounterDefs)+2; n != want {
		t.Fatalf("expected %d metrics, got %d", want, n)
	}

	expected := `
# HELP gotoken_rotate_success_total Successful refresh token rotations.
# TYPE gotoken_rotate_success_total counter
gotoken_rotate_success_total 7
# HELP gotoken_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE gotoken_audit_dropped_total counter
gotoken_audit_dropped_total 2
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected), "gotoken_rotate_success_total", "gotoken_audit_dropped_total"); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}
}

func TestCollectRevocationsByReason(t *testing.T) {
	src := populatedSource()
	src.snapshot.Revocations = map[token.RevokeReason]uint64{
		token.ReasonSecurityBreach:       3,
		token.ReasonSessionLimitExceeded: 1,
		token.ReasonUserLogout:           0,
	}
	exp := NewExporterFromSource(src)

	expected := `
# HELP gotoken_revoked_records_total Revoked refresh token records by reason.
# TYPE gotoken_revoked_records_total counter
gotoken_revoked_records_total{reason="security_breach"} 3
gotoken_revoked_records_total{reason="session_limit_exceeded"} 1
gotoken_revoked_records_total{reason="user_logout"} 0
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected), internaldefs.RevocationsName); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}
}

func TestCollectHistogramIsCumulative(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewExporterFromSource(populatedSource())); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "gotoken_rotate_latency_seconds" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 36 {
			t.Fatalf("expected 36 samples, got %d", h.GetSampleCount())
		}
		buckets := h.GetBucket()
		last := len(internaldefs.HistogramUpperBounds) - 1
		if len(buckets) <= last {
			t.Fatalf("expected %d finite buckets, got %d", last+1, len(buckets))
		}
		if buckets[0].GetUpperBound() != 0.005 || buckets[0].GetCumulativeCount() != 1 {
			t.Fatalf("unexpected first bucket: %v", buckets[0])
		}
		if buckets[last].GetUpperBound() != 0.5 || buckets[last].GetCumulativeCount() != 28 {
			t.Fatalf("expected 0.5 bucket at 28, got %v", buckets[last])
		}
		return
	}
	t.Fatal("rotate latency histogram not gathered")
}

func TestHandlerServesTextFormat(t *testing.T) {
	exp := NewExporterFromSource(populatedSource())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected text content type, got %q", got)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "gotoken_reuse_detected_total 1") {
		t.Fatalf("expected reuse counter in output, got:\n%s", body)
	}
}

func BenchmarkCollect(b *testing.B) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewExporterFromSource(populatedSource()))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := reg.Gather(); err != nil {
			b.Fatal(err)
		}
	}
}
