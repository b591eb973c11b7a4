package hostfuncs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the dispatcher.
type Metrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	denials *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extsandbox",
			Subsystem: "hostcall",
			Name:      "calls_total",
			Help:      "Hostcalls by op and outcome code.",
		}, []string{"op", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "extsandbox",
			Subsystem: "hostcall",
			Name:      "duration_seconds",
			Help:      "Hostcall wall time by op.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"op"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extsandbox",
			Subsystem: "hostcall",
			Name:      "denials_total",
			Help:      "Denied hostcalls by capability and policy reason.",
		}, []string{"capability", "reason"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.calls, m.latency, m.denials} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(op, code string, elapsed time.Duration) {
	m.calls.WithLabelValues(op, code).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) denied(capability, reason string) {
	m.denials.WithLabelValues(capability, reason).Inc()
}
