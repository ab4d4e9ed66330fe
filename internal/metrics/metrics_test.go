package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordsAdmissionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.RateLimitRejected("submit")
	c.RateLimitRejected("submit")
	c.CacheLookup("hit")
	c.AuthDecision("forbidden")
	c.ObserveRequest("GET", "/api/v1/forms/{formId}", 200, 10*time.Millisecond)

	if got := testutil.ToFloat64(c.RateLimited.WithLabelValues("submit")); got != 2 {
		t.Errorf("rate limited = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.CacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Requests.WithLabelValues("GET", "/api/v1/forms/{formId}", "200")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}

func TestCollector_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	if first.Requests != second.Requests {
		t.Error("expected the already registered counter to be reused")
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RateLimitRejected("x")
	c.CacheLookup("hit")
	c.RequestStarted()
	c.RequestFinished()
	c.ObserveRequest("GET", "/", 200, time.Millisecond)
}
