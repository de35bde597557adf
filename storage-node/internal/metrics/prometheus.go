package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pairdb"
	subsystem = "storage"
)

// Metrics holds all Prometheus metrics for the storage node
type Metrics struct {
	// Data path
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec
	StaleWrites     prometheus.Counter
	ForwardsTotal   *prometheus.CounterVec

	// Bulk transfer
	TransferEntries  *prometheus.CounterVec
	TransferBytes    *prometheus.CounterVec
	TransferErrors   *prometheus.CounterVec
	TransferDuration prometheus.Histogram
	TransferTasks    *prometheus.CounterVec

	// Replace participation
	ReplaceStarts        *prometheus.CounterVec
	ReplacePhaseDuration *prometheus.HistogramVec
	ReplaceAcks          *prometheus.CounterVec
	KeysCopied           prometheus.Counter
	KeysEvicted          prometheus.Counter
	RingAdoptions        *prometheus.CounterVec
	KeepAliveFailures    *prometheus.CounterVec

	// Memtable
	Entries             prometheus.Gauge
	Tombstones          prometheus.Gauge
	LiveBytes           prometheus.Gauge
	TombstoneBytes      prometheus.Gauge
	TombstonesCollected *prometheus.CounterVec

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
	PoolTasks        *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer, nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		})
	}
	counterVec := func(name, help string, keys ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		}, keys)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		})
	}

	return &Metrics{
		RequestsTotal: counterVec("requests_total", "Total number of RPC requests", "method"),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "request_duration_seconds",
			Help:        "Histogram of RPC request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		RequestErrors: counterVec("request_errors_total", "Total number of failed RPC requests", "method", "code"),
		StaleWrites:   counter("stale_writes_total", "Writes rejected because a newer entry or tombstone was stored"),
		ForwardsTotal: counterVec("forwards_total", "Writes forwarded to other replicas", "result"),

		TransferEntries: counterVec("transfer_entries_total", "Entries moved over the bulk transfer channel", "direction"),
		TransferBytes:   counterVec("transfer_bytes_total", "Uncompressed payload bytes moved over the bulk transfer channel", "direction"),
		TransferErrors:  counterVec("transfer_errors_total", "Failed bulk transfer sessions", "direction"),
		TransferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "transfer_duration_seconds",
			Help:        "Duration of outgoing bulk transfer sessions",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		TransferTasks: counterVec("transfer_tasks_total", "Bulk transfer worker pool tasks", "result"),

		ReplaceStarts: counterVec("replace_starts_total", "Replace phase start commands received", "phase", "outcome"),
		ReplacePhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "replace_phase_duration_seconds",
			Help:        "Time spent executing a replace phase",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"phase"}),
		ReplaceAcks:       counterVec("replace_acks_total", "Replace end acknowledgements sent to coordinators", "phase", "result"),
		KeysCopied:        counter("replace_keys_copied_total", "Keys streamed to new replicas during copy phases"),
		KeysEvicted:       counter("replace_keys_evicted_total", "Keys tombstoned during delete phases"),
		RingAdoptions:     counterVec("ring_adoptions_total", "Rings adopted from coordinators", "ring"),
		KeepAliveFailures: counterVec("keepalive_failures_total", "Failed keepalives per coordinator", "coordinator"),

		Entries:             gauge("memtable_entries", "Live entries held in memory"),
		Tombstones:          gauge("memtable_tombstones", "Tombstones held in memory"),
		LiveBytes:           gauge("memtable_live_bytes", "Estimated bytes of live entries"),
		TombstoneBytes:      gauge("memtable_tombstone_bytes", "Estimated bytes of tombstones"),
		TombstonesCollected: counterVec("tombstones_collected_total", "Tombstones dropped by garbage collection", "reason"),

		MemoryUsageBytes: gauge("memory_usage_bytes", "Heap bytes allocated"),
		GoroutinesTotal:  gauge("goroutines", "Number of goroutines"),
		PoolTasks: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "pool_task_duration_seconds",
			Help:        "Worker pool task durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"pool", "result"}),
	}
}

// PoolObserver returns a worker pool OnTaskDone hook for the named pool
func (m *Metrics) PoolObserver(pool string) func(err error, d time.Duration) {
	return func(err error, d time.Duration) {
		result := "success"
		if err != nil {
			result = "failure"
		}
		m.PoolTasks.WithLabelValues(pool, result).Observe(d.Seconds())
	}
}

// RecordRequest records one RPC with its outcome code
func (m *Metrics) RecordRequest(method string, seconds float64, code string) {
	m.RequestsTotal.WithLabelValues(method).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
	if code != "OK" {
		m.RequestErrors.WithLabelValues(method, code).Inc()
	}
}

// RecordTransfer records one bulk transfer session
func (m *Metrics) RecordTransfer(direction string, entries int, bytes int64, err error) {
	if err != nil {
		m.TransferErrors.WithLabelValues(direction).Inc()
		return
	}
	m.TransferEntries.WithLabelValues(direction).Add(float64(entries))
	m.TransferBytes.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateMemTable publishes memtable gauges
func (m *Metrics) UpdateMemTable(entries, tombstones int, liveBytes, tombstoneBytes int64) {
	m.Entries.Set(float64(entries))
	m.Tombstones.Set(float64(tombstones))
	m.LiveBytes.Set(float64(liveBytes))
	m.TombstoneBytes.Set(float64(tombstoneBytes))
}

// RecordTombstoneGC records tombstones dropped by one collection pass
func (m *Metrics) RecordTombstoneGC(expired, evicted int) {
	m.TombstonesCollected.WithLabelValues("expired").Add(float64(expired))
	m.TombstonesCollected.WithLabelValues("budget").Add(float64(evicted))
}

// UpdateSystemStats publishes runtime statistics
func (m *Metrics) UpdateSystemStats(memoryUsage int64, goroutines int) {
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
