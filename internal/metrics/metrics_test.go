package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cidwatch/internal/evidence"
)

func TestObserveProbe(t *testing.T) {
	m := New()
	lat := int64(250)
	m.ObserveProbe(evidence.ProbeResult{Gateway: "https://ipfs.io", OK: true, LatencyMs: &lat})
	m.ObserveProbe(evidence.ProbeResult{Gateway: "https://ipfs.io", Err: evidence.ReasonPtr(evidence.ReasonTimeout)})
	m.ObserveProbe(evidence.ProbeResult{Gateway: "https://ipfs.io", Err: evidence.ReasonPtr(evidence.ReasonTimeout)})

	if got := testutil.ToFloat64(m.probes.WithLabelValues("https://ipfs.io", "ok")); got != 1 {
		t.Errorf("ok probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.probes.WithLabelValues("https://ipfs.io", "timeout")); got != 2 {
		t.Errorf("timeout probes = %v, want 2", got)
	}
}

func TestObserveLedgerAndCycles(t *testing.T) {
	m := New()
	m.ObserveLedger("record_cycle", nil)
	m.ObserveLedger("record_cycle", errors.New("unfunded"))
	m.ObserveCycle("BREACH")
	m.SetConsecutiveBreaches("bafy", 3)

	if got := testutil.ToFloat64(m.ledgerOps.WithLabelValues("record_cycle", "rejected")); got != 1 {
		t.Errorf("rejected transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("BREACH")); got != 1 {
		t.Errorf("breach cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.breaches.WithLabelValues("bafy")); got != 3 {
		t.Errorf("consecutive breaches gauge = %v, want 3", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveProbe(evidence.ProbeResult{Gateway: "g", OK: true})
	m.ObserveCycle("OK")
	m.ObservePublish("ok")
	m.ObserveLedger("fund_stake", nil)
	m.SetConsecutiveBreaches("bafy", 1)
}

func TestHandler_ServesExposition(t *testing.T) {
	m := New()
	m.ObservePublish("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `cidwatch_publish_attempts_total{outcome="ok"} 1`) {
		t.Errorf("exposition missing publish counter:\n%s", body)
	}
}
