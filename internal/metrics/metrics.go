// Package metrics holds the Prometheus collectors for analysis requests,
// presence runs and LLM calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "queryarc"

// Metrics is a set of collectors registered on one registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	analyzeRequests *prometheus.CounterVec
	analyzeScore    prometheus.Histogram
	runs            *prometheus.CounterVec
	runItems        *prometheus.CounterVec
	runFlushes      prometheus.Counter
	llmCalls        *prometheus.CounterVec
	llmRetries      prometheus.Counter
	llmLatency      prometheus.Histogram
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analyzeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyze_requests_total",
			Help:      "Single-page analyses by outcome (ok or error kind).",
		}, []string{"outcome"}),
		analyzeScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyze_final_score",
			Help:      "Distribution of recomputed final scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_runs_total",
			Help:      "Presence runs by terminal status.",
		}, []string{"status"}),
		runItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_run_items_total",
			Help:      "Run items by outcome (answered or error type).",
		}, []string{"outcome"}),
		runFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_flushes_total",
			Help:      "Batched run item inserts.",
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM calls by caller and outcome.",
		}, []string{"caller", "outcome"}),
		llmRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "LLM call retries after a retryable failure.",
		}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_seconds",
			Help:      "End-to-end LLM call latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	m.registry.MustRegister(
		m.analyzeRequests, m.analyzeScore,
		m.runs, m.runItems, m.runFlushes,
		m.llmCalls, m.llmRetries, m.llmLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAnalyze records one single-page analysis. score is ignored when
// outcome is not "ok".
func (m *Metrics) ObserveAnalyze(outcome string, score int) {
	if m == nil {
		return
	}
	m.analyzeRequests.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.analyzeScore.Observe(float64(score))
	}
}

// ObserveRun records a run reaching a terminal status.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// ObserveRunItem records one materialised cell.
func (m *Metrics) ObserveRunItem(outcome string) {
	if m == nil {
		return
	}
	m.runItems.WithLabelValues(outcome).Inc()
}

// ObserveFlush records one batched insert.
func (m *Metrics) ObserveFlush() {
	if m == nil {
		return
	}
	m.runFlushes.Inc()
}

// ObserveLLMCall records one logical call, retries included.
func (m *Metrics) ObserveLLMCall(caller, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(caller, outcome).Inc()
	m.llmLatency.Observe(elapsed.Seconds())
}

// ObserveRetry records one retry.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.llmRetries.Inc()
}
