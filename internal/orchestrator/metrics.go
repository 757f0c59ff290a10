package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes orchestrator counters to Prometheus.
type Metrics struct {
	CyclesTotal     prometheus.Counter
	JobsTotal       *prometheus.CounterVec
	ActiveJobs      prometheus.Gauge
	PromotionsTotal prometheus.Counter
	JobDuration     prometheus.Histogram
}

// NewMetrics registers orchestrator collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "retrainer",
			Name:      "cycles_total",
			Help:      "Number of completed scheduling cycles.",
		}),
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrainer",
			Name:      "jobs_total",
			Help:      "Number of finished jobs by outcome.",
		}, []string{"outcome"}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "retrainer",
			Name:      "active_jobs",
			Help:      "Number of jobs currently queued or running.",
		}),
		PromotionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "retrainer",
			Name:      "promotions_total",
			Help:      "Number of champion promotions.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "retrainer",
			Name:      "job_duration_seconds",
			Help:      "Replay job wall-clock duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}
