// Package metrics exposes Prometheus collectors for evolution runs and the
// rating service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tudstk/songwriter-copilot/internal/model"
)

const namespace = "songwriter"

type Metrics struct {
	registry          *prometheus.Registry
	generations       prometheus.Counter
	bestFitness       *prometheus.GaugeVec
	meanFitness       *prometheus.GaugeVec
	ratingsSubmitted  prometheus.Counter
	ratingsConsumed   prometheus.Counter
	generationSeconds prometheus.Histogram
	sessions          prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generations evaluated across all runs.",
		}),
		bestFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best fitness of the latest generation of a run.",
		}, []string{"run_id"}),
		meanFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_fitness",
			Help:      "Mean fitness of the latest generation of a run.",
		}, []string{"run_id"}),
		ratingsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_submitted_total",
			Help:      "Ratings accepted from listeners.",
		}),
		ratingsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_consumed_total",
			Help:      "Ratings used as fitness values.",
		}),
		generationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent evaluating and breeding one generation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Evolution sessions held by the rating service.",
		}),
	}
	m.registry.MustRegister(
		m.generations,
		m.bestFitness,
		m.meanFitness,
		m.ratingsSubmitted,
		m.ratingsConsumed,
		m.generationSeconds,
		m.sessions,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveGeneration(runID string, diag model.GenerationDiagnostics, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.Inc()
	m.bestFitness.With(prometheus.Labels{"run_id": runID}).Set(diag.BestFitness)
	m.meanFitness.With(prometheus.Labels{"run_id": runID}).Set(diag.MeanFitness)
	m.generationSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) RatingSubmitted() {
	if m == nil {
		return
	}
	m.ratingsSubmitted.Inc()
}

func (m *Metrics) RatingsConsumed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ratingsConsumed.Add(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// Forget drops the per-run series of a finished run.
func (m *Metrics) Forget(runID string) {
	if m == nil {
		return
	}
	m.bestFitness.DeleteLabelValues(runID)
	m.meanFitness.DeleteLabelValues(runID)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
