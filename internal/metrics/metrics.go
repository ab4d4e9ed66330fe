package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fastsubmit"

// Collector holds the prometheus collectors for HTTP traffic and admission
// control. A nil *Collector is valid and records nothing.
type Collector struct {
	Requests      *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	InFlight      prometheus.Gauge
	RateLimited   *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	AuthDecisions *prometheus.CounterVec
}

// NewCollector registers every collector with reg (prometheus.DefaultRegisterer
// when nil). Collectors already registered under the same name are reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests partitioned by method, route, and status code.",
	}, []string{"method", "route", "status"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Histogram of HTTP request latencies in seconds partitioned by method, route, and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"}))
	if err != nil {
		return nil, err
	}

	inFlight, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	}))
	if err != nil {
		return nil, err
	}

	rateLimited, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter, by limit class.",
	}, []string{"class"}))
	if err != nil {
		return nil, err
	}

	cacheLookups, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "key_cache_lookups_total",
		Help:      "API key resolution lookups by result (hit, miss, unknown, error).",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	authDecisions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "authorization_decisions_total",
		Help:      "Ownership guard outcomes by kind.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		Requests:      requests,
		Duration:      duration,
		InFlight:      inFlight,
		RateLimited:   rateLimited,
		CacheLookups:  cacheLookups,
		AuthDecisions: authDecisions,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}
	c.Requests.With(labels).Inc()
	c.Duration.With(labels).Observe(elapsed.Seconds())
}

func (c *Collector) RequestStarted() {
	if c != nil {
		c.InFlight.Inc()
	}
}

func (c *Collector) RequestFinished() {
	if c != nil {
		c.InFlight.Dec()
	}
}

func (c *Collector) RateLimitRejected(class string) {
	if c != nil {
		c.RateLimited.WithLabelValues(class).Inc()
	}
}

func (c *Collector) CacheLookup(result string) {
	if c != nil {
		c.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (c *Collector) AuthDecision(outcome string) {
	if c != nil {
		c.AuthDecisions.WithLabelValues(outcome).Inc()
	}
}
