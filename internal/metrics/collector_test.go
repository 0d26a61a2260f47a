package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_CounterIsShared(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "help", "")
	b := c.Counter("x_total", "help", "")
	a.Inc()
	b.Add(2)
	if a.Value() != 3 || a != b {
		t.Errorf("expected one shared counter with value 3, got %d", a.Value())
	}
}

func TestCollector_HandlerRendersExposition(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("relay_dropped_total", "Dropped", `reason="no_match"`).Add(4)
	c.Counter("relay_dropped_total", "Dropped", `reason="quoted_excluded"`).Inc()
	c.Gauge("relay_connected", "Connected", "").Set(1)
	h := c.Histogram("relay_latency_seconds", "Latency", "", []float64{1, math.Inf(1)})
	h.Observe(0.5)
	h.Observe(3)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"mentionrelay_uptime_seconds ",
		`relay_dropped_total{reason="no_match"} 4`,
		`relay_dropped_total{reason="quoted_excluded"} 1`,
		"# TYPE relay_connected gauge",
		"relay_connected 1",
		`relay_latency_seconds_bucket{le="1"} 1`,
		`relay_latency_seconds_bucket{le="+Inf"} 2`,
		"relay_latency_seconds_count 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Count(body, "# HELP relay_dropped_total") != 1 {
		t.Error("HELP line should be written once per metric name")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type = %q", ct)
	}
}

func TestDropped_PerReason(t *testing.T) {
	a := Dropped("test_reason_a")
	a.Inc()
	if Dropped("test_reason_a").Value() != 1 {
		t.Error("same reason should return the same counter")
	}
	if Dropped("test_reason_b") == a {
		t.Error("different reasons should not share a counter")
	}
}
