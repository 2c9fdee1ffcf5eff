package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nightlights"

// Metrics holds the Prometheus collectors of the job harness.
type Metrics struct {
	JobRuns        *prometheus.CounterVec   // labels: job, outcome={success,skipped,error}
	JobDuration    *prometheus.HistogramVec // labels: job
	ResolverStates *prometheus.CounterVec   // labels: state={fresh,stale}
	Recomputations prometheus.Counter
	Exports        *prometheus.CounterVec // labels: kind={raster,table}, outcome={success,error}
	Retries        prometheus.Counter
	CalibrationR2  prometheus.Gauge
	DroppedSamples prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of a job run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"job"}),
		ResolverStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_states_total",
			Help:      "Harmonized asset state observed before recomputation.",
		}, []string{"state"}),
		Recomputations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harmonized_recomputations_total",
			Help:      "Harmonized years recomputed and persisted.",
		}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Store exports by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried attempts after transient failures.",
		}),
		CalibrationR2: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_r2",
			Help:      "Coefficient of determination of the last calibration fit.",
		}),
		DroppedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibration_dropped_samples_total",
			Help:      "Sample rows excluded from the regression.",
		}),
	}
}

// NewMetrics creates the collectors and registers them with reg, the
// default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := newMetrics()
	reg.MustRegister(
		m.JobRuns,
		m.JobDuration,
		m.ResolverStates,
		m.Recomputations,
		m.Exports,
		m.Retries,
		m.CalibrationR2,
		m.DroppedSamples,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
