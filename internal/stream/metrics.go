package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 流管理器指标
type Metrics struct {
	EventsEmitted      *prometheus.CounterVec
	EventsRejected     prometheus.Counter
	PersistErrors      prometheus.Counter
	MarshalDropped     prometheus.Counter
	SubscribersActive  prometheus.Gauge
	SubscribersDropped prometheus.Counter
	JobsEvicted        prometheus.Counter
}

// NewMetrics 创建指标并注册到 reg；reg 为 nil 时只创建不注册（测试用）
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsEmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "events_emitted_total",
				Help:      "Events accepted by the stream manager, by type",
			},
			[]string{"type"},
		),
		EventsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_rejected_total",
			Help:      "Events emitted for a job that already finished",
		}),
		PersistErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "persist_errors_total",
			Help:      "Failed event log appends or status write-throughs",
		}),
		MarshalDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "marshal_dropped_total",
			Help:      "Cross-goroutine emits dropped because the coordination loop was not running",
		}),
		SubscribersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers_active",
			Help:      "Currently registered subscribers",
		}),
		SubscribersDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers removed because their queue was full",
		}),
		JobsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "jobs_evicted_total",
			Help:      "Finished jobs released from memory by the retention sweep",
		}),
	}
}
