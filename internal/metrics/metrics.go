// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry. All recording methods accept a nil receiver.
type Collector struct {
	registry *prometheus.Registry

	LLMCalls      *prometheus.CounterVec
	LLMDuration   *prometheus.HistogramVec
	BreakerState  *prometheus.GaugeVec
	Routes        *prometheus.CounterVec
	NodesCreated  *prometheus.CounterVec
	OracleCalls   *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	SessionsAlive prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM gateway calls by call site and outcome.",
		}, []string{"site", "outcome"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "LLM gateway call latency (time to first chunk for streams).",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"site"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "llm_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Classifier outcomes by result and failing stage.",
		}, []string{"result", "stage"}),
		NodesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "taxonomy_nodes_created_total",
			Help:      "Taxonomy nodes inserted by the generator.",
		}, []string{"level"}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Birth chart calculator calls by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SessionsAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_alive",
			Help:      "Sessions held by the in-memory store.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.LLMCalls, c.LLMDuration, c.BreakerState, c.Routes, c.NodesCreated,
		c.OracleCalls, c.HTTPRequests, c.HTTPDuration, c.SessionsAlive,
	)
	return c
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveLLM(site, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.LLMCalls.WithLabelValues(site, outcome).Inc()
	c.LLMDuration.WithLabelValues(site).Observe(d.Seconds())
}

func (c *Collector) SetBreakerState(name string, state float64) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(state)
}

func (c *Collector) ObserveRoute(result string, stage int) {
	if c == nil {
		return
	}
	label := "none"
	if stage > 0 {
		label = strconv.Itoa(stage)
	}
	c.Routes.WithLabelValues(result, label).Inc()
}

func (c *Collector) NodeCreated(level string) {
	if c == nil {
		return
	}
	c.NodesCreated.WithLabelValues(level).Inc()
}

func (c *Collector) ObserveOracle(outcome string) {
	if c == nil {
		return
	}
	c.OracleCalls.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.SessionsAlive.Set(float64(n))
}
