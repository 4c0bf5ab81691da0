package insight

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 洞察监听器指标
type Metrics struct {
	Extractions       prometheus.Counter
	ExtractionErrors  prometheus.Counter
	InsightsEmitted   *prometheus.CounterVec
	InsightsDeduped   prometheus.Counter
	Resubscribes      prometheus.Counter
	ListenersActive   prometheus.Gauge
	ExtractionSeconds prometheus.Histogram
}

// NewMetrics 创建指标；reg 为 nil 时不注册
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: namespace, Subsystem: "insight", Name: name, Help: help}
	}
	return &Metrics{
		Extractions:      f.NewCounter(opts("extractions_total", "Extraction calls made")),
		ExtractionErrors: f.NewCounter(opts("extraction_errors_total", "Extraction calls that failed and produced no insights")),
		InsightsEmitted: f.NewCounterVec(
			opts("insights_emitted_total", "Insights emitted, by category"),
			[]string{"category"},
		),
		InsightsDeduped: f.NewCounter(opts("insights_deduped_total", "Candidate insights suppressed by the fingerprint cache")),
		Resubscribes:    f.NewCounter(opts("resubscribes_total", "Listener resubscriptions after being dropped as a slow consumer")),
		ListenersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "insight",
			Name:      "listeners_active",
			Help:      "Running insight listeners",
		}),
		ExtractionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "insight",
			Name:      "extraction_duration_seconds",
			Help:      "Extraction call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}
