// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters and histograms the bridge and RPC handlers
// report against.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	BridgeDuration   *prometheus.HistogramVec
	ChildFailures    *prometheus.CounterVec
	BytesToChild     prometheus.Counter
	BytesFromChild   prometheus.Counter
}

// New registers and returns a Metrics bundle against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gittornado_requests_total",
			Help: "Total requests handed to the process bridge, labelled by rpc and status (always \"handled\").",
		}, []string{"rpc", "status"}),
		BridgeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gittornado_bridge_duration_seconds",
			Help:    "Wall-clock duration of a process bridge from spawn to finish.",
			Buckets: prometheus.DefBuckets,
		}, []string{"rpc"}),
		ChildFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gittornado_child_failures_total",
			Help: "Child git processes that exited with stderr output or a spawn failure.",
		}, []string{"rpc", "reason"}),
		BytesToChild: factory.NewCounter(prometheus.CounterOpts{
			Name: "gittornado_bytes_to_child_total",
			Help: "Total bytes written to child stdin across all bridges.",
		}),
		BytesFromChild: factory.NewCounter(prometheus.CounterOpts{
			Name: "gittornado_bytes_from_child_total",
			Help: "Total bytes read from child stdout across all bridges.",
		}),
	}
}
