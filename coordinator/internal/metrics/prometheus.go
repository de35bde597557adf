package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Replace protocol metrics
	ReplaceStarted     prometheus.Counter
	ReplaceCompleted   prometheus.Counter
	ReplaceInvalidated prometheus.Counter
	ReplaceDuration    prometheus.Histogram
	ReplacePhase       prometheus.Gauge
	StaleAcks          *prometheus.CounterVec

	// Topology metrics
	RingNodes      *prometheus.GaugeVec
	MembershipSize *prometheus.GaugeVec
	RingAdoptions  *prometheus.CounterVec

	// Outbound RPC metrics
	RPCErrors *prometheus.CounterVec
}

// NewMetrics creates and registers Prometheus metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"method"},
		),

		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordinator_request_duration_seconds",
				Help:    "Duration of request processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		RequestErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_request_errors_total",
				Help: "Total number of request errors",
			},
			[]string{"method", "code"},
		),

		ReplaceStarted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_replace_started_total",
				Help: "Total number of replace epochs started",
			},
		),

		ReplaceCompleted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_replace_completed_total",
				Help: "Total number of replace epochs that reached the end of the delete phase",
			},
		),

		ReplaceInvalidated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_replace_invalidated_total",
				Help: "Total number of replace epochs invalidated by membership changes",
			},
		),

		ReplaceDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coordinator_replace_duration_seconds",
				Help:    "Duration of completed replace epochs",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
			},
		),

		ReplacePhase: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_replace_phase",
				Help: "Current replace phase (0 idle, 1 copy, 2 delete)",
			},
		),

		StaleAcks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_replace_stale_acks_total",
				Help: "Acknowledgements ignored because their epoch is not live",
			},
			[]string{"phase"},
		),

		RingNodes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coordinator_ring_nodes",
				Help: "Physical nodes on each ring by status",
			},
			[]string{"ring", "status"},
		),

		MembershipSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coordinator_membership_size",
				Help: "Connected data nodes by membership set",
			},
			[]string{"set"},
		),

		RingAdoptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_ring_adoptions_total",
				Help: "Rings adopted from a peer",
			},
			[]string{"ring"},
		),

		RPCErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_rpc_errors_total",
				Help: "Outbound RPC failures",
			},
			[]string{"method"},
		),
	}
}
