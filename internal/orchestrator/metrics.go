package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report API call activity.
type Metrics struct {
	dispatches   *prometheus.CounterVec
	redirects    *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once so several
// orchestrators in one process share them.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Tests pass a fresh registry. Registration errors other than an identical
// collector already being registered panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	dispatches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadbridge",
			Subsystem: "orchestrator",
			Name:      "dispatches_total",
			Help:      "Transport requests sent, including redirect follow-ups.",
		},
		[]string{"operation"},
	)
	redirects := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadbridge",
			Subsystem: "orchestrator",
			Name:      "redirects_total",
			Help:      "Redirect responses chased on behalf of a logical call.",
		},
		[]string{"operation"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadbridge",
			Subsystem: "orchestrator",
			Name:      "outcomes_total",
			Help:      "Terminal outcomes of logical calls.",
		},
		[]string{"operation", "outcome"},
	)
	callDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cadbridge",
			Subsystem: "orchestrator",
			Name:      "call_duration_seconds",
			Help:      "Time from issue to terminal outcome of a logical call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cadbridge",
			Subsystem: "orchestrator",
			Name:      "calls_in_flight",
			Help:      "Logical calls issued but not yet resolved.",
		},
	)

	collectors := []prometheus.Collector{dispatches, redirects, outcomes, callDuration, inFlight}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					callDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case dispatches:
						dispatches = already.ExistingCollector.(*prometheus.CounterVec)
					case redirects:
						redirects = already.ExistingCollector.(*prometheus.CounterVec)
					case outcomes:
						outcomes = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					inFlight = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		dispatches:   dispatches,
		redirects:    redirects,
		outcomes:     outcomes,
		callDuration: callDuration,
		inFlight:     inFlight,
	}
}

// IncDispatch counts one transport request.
func (m *Metrics) IncDispatch(operation string) {
	if m == nil || m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(operation).Inc()
}

// IncRedirect counts one chased redirect.
func (m *Metrics) IncRedirect(operation string) {
	if m == nil || m.redirects == nil {
		return
	}
	m.redirects.WithLabelValues(operation).Inc()
}

// CallStarted marks a logical call as in flight.
func (m *Metrics) CallStarted() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

// CallFinished records the terminal outcome of a logical call.
func (m *Metrics) CallFinished(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if m.inFlight != nil {
		m.inFlight.Dec()
	}
	if m.outcomes != nil {
		m.outcomes.WithLabelValues(operation, outcome).Inc()
	}
	if m.callDuration != nil {
		m.callDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
	}
}
