package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInMemoryCollector(t *testing.T) {
	c := NewInMemoryCollector()

	t.Run("Counter", func(t *testing.T) {
		c.CounterInc(PromotionsTotal.Name, "status", "success")
		c.CounterInc(PromotionsTotal.Name, "status", "success")
		c.CounterAdd(PromotionsTotal.Name, 5, "status", "success")

		if got := c.GetCounter(PromotionsTotal.Name, "status", "success"); got != 7 {
			t.Errorf("Counter = %v, want 7", got)
		}
		if got := c.GetCounter(PromotionsTotal.Name, "status", "failed"); got != 0 {
			t.Errorf("other label = %v, want 0", got)
		}
	})

	t.Run("Gauge", func(t *testing.T) {
		c.GaugeSet(OutboxPending.Name, 42)
		c.GaugeInc(OutboxPending.Name)
		c.GaugeDec(OutboxPending.Name)
		c.GaugeDec(OutboxPending.Name)
		if got := c.GetGauge(OutboxPending.Name); got != 41 {
			t.Errorf("Gauge = %v, want 41", got)
		}
	})

	t.Run("Histogram", func(t *testing.T) {
		c.HistogramObserve(HTTPRequestDuration.Name, 0.1, "method", "GET", "resource", "risks")
		c.HistogramObserve(HTTPRequestDuration.Name, 0.2, "method", "GET", "resource", "risks")
		if got := c.GetHistogram(HTTPRequestDuration.Name, "method", "GET", "resource", "risks"); len(got) != 2 {
			t.Errorf("Histogram observations = %d, want 2", len(got))
		}
	})

	t.Run("Reset", func(t *testing.T) {
		c.Reset()
		if c.GetCounter(PromotionsTotal.Name, "status", "success") != 0 {
			t.Error("Counter should be 0 after reset")
		}
	})
}

func TestNopCollector(t *testing.T) {
	c := OrNop(nil)
	c.CounterInc("x")
	c.GaugeSet("x", 1)
	c.HistogramObserve("x", 1)
	c.Reset()
	if c.Handler() == nil {
		t.Error("Handler should not be nil")
	}
}

func TestPrometheusCollector(t *testing.T) {
	c := NewPrometheusCollector(&PrometheusConfig{
		Registry:               prometheus.NewRegistry(),
		RegisterDefaultMetrics: true,
	})

	c.CounterInc(PromotionsTotal.Name, "status", "success")
	c.CounterInc(PromotionsTotal.Name, "status", "success")
	c.GaugeSet(DashboardScore.Name, 73, "client", "c1", "kind", "overall")
	c.HistogramObserve(HTTPRequestDuration.Name, 0.3, "method", "GET", "resource", "risks")
	c.CounterInc("unregistered_metric")

	if got, err := testutil.GatherAndCount(c.Registry(), PromotionsTotal.Name); err != nil || got != 1 {
		t.Errorf("series count = %d (%v), want 1", got, err)
	}

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`grc_promotions_total{status="success"} 2`,
		`grc_dashboard_score{client="c1",kind="overall"} 73`,
		`grc_http_request_duration_seconds_count{method="GET",resource="risks"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	c.Reset()
	if got := testutil.ToFloat64(c.counters[PromotionsTotal.Name].WithLabelValues("success")); got != 0 {
		t.Errorf("counter after reset = %v", got)
	}
}

func TestPrometheusCollector_RegisterTwice(t *testing.T) {
	c := NewPrometheusCollector(&PrometheusConfig{Registry: prometheus.NewRegistry()})
	if err := c.Register(MappingWrites); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.Register(MappingWrites); err != nil {
		t.Errorf("second register should be a no-op, got %v", err)
	}
	if err := c.Register(MetricDefinition{Name: "x", Type: "summary"}); err == nil {
		t.Error("unsupported type should fail")
	}
}

func TestTimer(t *testing.T) {
	c := NewInMemoryCollector()
	timer := NewTimer(c, HTTPRequestDuration.Name, "method", "GET")
	time.Sleep(5 * time.Millisecond)
	if d := timer.ObserveDuration(); d < 5*time.Millisecond {
		t.Errorf("duration = %v", d)
	}
	if len(c.GetHistogram(HTTPRequestDuration.Name, "method", "GET")) != 1 {
		t.Error("expected one observation")
	}
}

func TestPrometheusCollector_LabelsByName(t *testing.T) {
	c := NewPrometheusCollector(&PrometheusConfig{Registry: prometheus.NewRegistry()})
	if err := c.Register(MappingWrites); err != nil {
		t.Fatal(err)
	}

	c.CounterInc(MappingWrites.Name, "status", "success", "table", "risk_to_objective")
	c.CounterInc(MappingWrites.Name, "table", "risk_to_objective", "status", "success")
	c.CounterInc(MappingWrites.Name, "table", "risk_to_objective")
	c.CounterInc(MappingWrites.Name, "table", "risk_to_objective", "status", "success", "extra", "x")

	got := testutil.ToFloat64(c.counters[MappingWrites.Name].WithLabelValues("risk_to_objective", "success"))
	if got != 2 {
		t.Errorf("counter = %v, want 2 (mismatched label sets are dropped)", got)
	}
}
