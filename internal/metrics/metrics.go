// Package metrics exposes Prometheus collectors for the ingestion path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evalboard/evalboard/internal/admission"
)

const namespace = "evalboard"

// AdmissionMetrics records admission outcomes. It implements
// admission.Observer.
type AdmissionMetrics struct {
	decisions *prometheus.CounterVec
	duration  prometheus.Histogram
}

var _ admission.Observer = (*AdmissionMetrics)(nil)

// NewAdmissionMetrics creates the collectors and registers them with reg.
func NewAdmissionMetrics(reg prometheus.Registerer) *AdmissionMetrics {
	m := &AdmissionMetrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "decisions_total",
				Help:      "Count of ingestion calls by decision and reason.",
			},
			[]string{"decision", "reason"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "duration_seconds",
				Help:      "Time spent deciding and persisting one ingestion call.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(m.decisions, m.duration)
	return m
}

// ObserveAdmission implements admission.Observer.
func (m *AdmissionMetrics) ObserveAdmission(res admission.Result, err error, elapsed time.Duration) {
	decision, reason := labels(res, err)
	m.decisions.WithLabelValues(decision, reason).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func labels(res admission.Result, err error) (string, string) {
	if err != nil {
		return "rejected", string(admission.KindOf(err))
	}
	switch res.Decision {
	case admission.Skipped:
		return string(admission.Skipped), res.Reason
	default:
		return string(admission.Accepted), ""
	}
}
