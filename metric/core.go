package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the recorder's core observability metrics. Domain
// components (worker pool, backends) register their own metrics through
// the MetricsRegistrar interface instead of adding fields here.
type Metrics struct {
	// Session metrics
	SessionsActive   prometheus.Gauge
	SamplesRecorded  *prometheus.CounterVec
	BytesRecorded    *prometheus.CounterVec
	SamplesDiscarded *prometheus.CounterVec

	// Flush pipeline metrics
	BufferOverloads  *prometheus.CounterVec
	FlushesCompleted *prometheus.CounterVec
	FlushErrors      *prometheus.CounterVec

	// Bus metrics
	BusConnected  prometheus.Gauge
	BusReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core recorder metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "busrecorder",
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Number of recording sessions in a non-terminal state",
			},
		),

		SamplesRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "busrecorder",
				Subsystem: "samples",
				Name:      "recorded_total",
				Help:      "Total samples successfully written to the backend",
			},
			[]string{"topic"},
		),

		BytesRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "busrecorder",
				Subsystem: "samples",
				Name:      "recorded_bytes_total",
				Help:      "Total payload bytes successfully written to the backend",
			},
			[]string{"topic"},
		),

		SamplesDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "busrecorder",
				Subsystem: "samples",
				Name:      "discarded_total",
				Help:      "Samples discarded at the subscriber callback",
			},
			[]string{"reason"},
		),

		BufferOverloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "busrecorder",
				Subsystem: "buffer",
				Name:      "overloads_total",
				Help:      "Swap rollbacks caused by a full flush queue",
			},
			[]string{"topic"},
		),

		FlushesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "busrecorder",
				Subsystem: "flush",
				Name:      "completed_total",
				Help:      "Flush tasks written to the backend",
			},
			[]string{"status"},
		),

		FlushErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "busrecorder",
				Subsystem: "flush",
				Name:      "errors_total",
				Help:      "Flush tasks dropped after permanent failure or retry exhaustion",
			},
			[]string{"class"},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "busrecorder",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Bus connection status (1=connected, 0=disconnected)",
			},
		),

		BusReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "busrecorder",
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Total bus reconnection events",
			},
		),
	}
}
