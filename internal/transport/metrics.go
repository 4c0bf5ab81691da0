package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 推送连接指标
type Metrics struct {
	Connections *prometheus.GaugeVec   // transport
	Frames      *prometheus.CounterVec // transport, kind
	Resumes     *prometheus.CounterVec // transport
}

// NewMetrics 创建指标；reg 为 nil 时不注册
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Open streaming connections",
		}, []string{"transport"}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames written to clients",
		}, []string{"transport", "kind"}),
		Resumes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "resumes_total",
			Help:      "Connections that resumed after a last-seen event id",
		}, []string{"transport"}),
	}
}
