package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 流水线指标
type Metrics struct {
	JobsTotal     *prometheus.CounterVec
	JobsInFlight  prometheus.Gauge
	QueueDepth    prometheus.Gauge
	StepDuration  *prometheus.HistogramVec
	CostUSD       prometheus.Counter
	ArchiveErrors prometheus.Counter
}

// NewMetrics 创建指标；reg 为 nil 时不注册
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Finished pipeline jobs by final status",
		}, []string{"status"}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed by a worker",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Submitted jobs waiting for a worker",
		}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Producer call duration by step",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"step"}),
		CostUSD: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cost_usd_total",
			Help:      "Accumulated model cost in USD",
		}),
		ArchiveErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "archive_errors_total",
			Help:      "Failed event log exports",
		}),
	}
}
