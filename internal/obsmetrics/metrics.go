// Package obsmetrics exposes runtime observability as Prometheus
// metrics, mounted on the same HTTP server as the control surface (§4.J)
// behind /metrics.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every gauge/counter this runtime publishes. Each field
// maps onto a specific component: lifecycle state, per-model publish
// sequence, per-buffer occupancy, interaction tick latency, and trainer
// iteration counts.
type Metrics struct {
	LifecycleState   *prometheus.GaugeVec
	PublishSeq       *prometheus.GaugeVec
	BufferOccupancy  *prometheus.GaugeVec
	TickLatencySecs  prometheus.Histogram
	TrainerIterations *prometheus.CounterVec
	Overruns         *prometheus.CounterVec
}

// New registers every metric against reg and returns the bundle. Callers
// typically pass prometheus.NewRegistry() per-runtime instance, or
// prometheus.DefaultRegisterer for a singleton process.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LifecycleState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pamiq",
			Name:      "lifecycle_state",
			Help:      "Current LifecycleState as a one-hot gauge per state label.",
		}, []string{"state"}),
		PublishSeq: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pamiq",
			Name:      "model_publish_seq",
			Help:      "Current publish_seq of each model registry entry.",
		}, []string{"model"}),
		BufferOccupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pamiq",
			Name:      "buffer_occupancy",
			Help:      "Current resident tuple count of each data buffer.",
		}, []string{"buffer"}),
		TickLatencySecs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pamiq",
			Name:      "interaction_tick_latency_seconds",
			Help:      "Wall-clock duration of each interaction loop tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		TrainerIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pamiq",
			Name:      "trainer_iterations_total",
			Help:      "Count of train() invocations per trainer.",
		}, []string{"trainer"}),
		Overruns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pamiq",
			Name:      "interaction_overruns_total",
			Help:      "Count of fixed-interval scheduler overrun corrections per loop.",
		}, []string{"loop"}),
	}
}

// SetLifecycleState flips the one-hot lifecycle_state gauge: the given
// state's label is set to 1, every other known state label to 0.
func (m *Metrics) SetLifecycleState(current string, allStates []string) {
	for _, s := range allStates {
		if s == current {
			m.LifecycleState.WithLabelValues(s).Set(1)
		} else {
			m.LifecycleState.WithLabelValues(s).Set(0)
		}
	}
}
