// Package metrics exposes hunt measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricelens"

// Recorder collects device, perception, session and search metrics on its
// own registry.
type Recorder struct {
	registry *prometheus.Registry

	deviceOps      *prometheus.CounterVec
	deviceDuration *prometheus.HistogramVec
	observations   *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	candidates     *prometheus.CounterVec
}

// NewRecorder creates a Recorder with Go runtime and process collectors
// registered alongside the hunt metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		deviceOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_operations_total",
				Help:      "Device operations by kind and result",
			},
			[]string{"op", "result"},
		),
		deviceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "device_operation_duration_seconds",
				Help:      "Device operation latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"op", "result"},
		),
		observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observations_total",
				Help:      "Screen observations by kind",
			},
			[]string{"kind"},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Finished hunt sessions by outcome",
			},
			[]string{"outcome"},
		),
		candidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_candidates_total",
				Help:      "Candidates returned by marketplace search",
			},
			[]string{"marketplace"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.deviceOps, r.deviceDuration, r.observations, r.sessions, r.candidates,
	)
	return r
}

func (r *Recorder) ObserveDeviceOp(op string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.deviceOps.WithLabelValues(op, result).Inc()
	r.deviceDuration.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

func (r *Recorder) IncObservation(kind string) {
	r.observations.WithLabelValues(kind).Inc()
}

func (r *Recorder) IncSession(outcome string) {
	r.sessions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) AddCandidates(marketplace string, n int) {
	if n <= 0 {
		return
	}
	r.candidates.WithLabelValues(marketplace).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

var _ domain.MetricsRecorder = (*Recorder)(nil)
