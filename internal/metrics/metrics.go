// Package metrics records execution counters for engine calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call modes.
const (
	ModeSingle = "single"
	ModeFanOut = "fanout"
)

// Call outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTransport = "transport_error"
	OutcomeInvalid   = "invalid"
)

// Recorder holds the engine collectors on a dedicated registry.
type Recorder struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	hostsQueried prometheus.Counter
	hostsFailed  prometheus.Counter
	remoteErrors *prometheus.CounterVec
}

// New registers the engine collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetcmd",
			Name:      "calls_total",
			Help:      "Engine calls by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetcmd",
			Name:      "call_duration_seconds",
			Help:      "Wall time of engine calls including session setup.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		hostsQueried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetcmd",
			Name:      "hosts_queried_total",
			Help:      "Hosts that produced a block in fan-out output.",
		}),
		hostsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetcmd",
			Name:      "hosts_failed_total",
			Help:      "Hosts the multiplexer reported as failed.",
		}),
		remoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetcmd",
			Name:      "remote_errors_total",
			Help:      "Known failure phrases detected in remote output.",
		}, []string{"phrase"}),
	}
}

// ObserveCall records one finished call.
func (r *Recorder) ObserveCall(mode, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.calls.WithLabelValues(mode, outcome).Inc()
	r.duration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveHosts records fan-out host counts.
func (r *Recorder) ObserveHosts(queried, failed int) {
	if r == nil {
		return
	}
	r.hostsQueried.Add(float64(queried))
	r.hostsFailed.Add(float64(failed))
}

// ObserveRemoteError records a detected failure phrase.
func (r *Recorder) ObserveRemoteError(phrase string) {
	if r == nil {
		return
	}
	r.remoteErrors.WithLabelValues(phrase).Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the current values in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
