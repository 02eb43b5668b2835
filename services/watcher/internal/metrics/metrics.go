package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpwatch_poll_cycles_total",
			Help: "Total number of poll cycles by result",
		},
		[]string{"result"},
	)

	ChangesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpwatch_changes_detected_total",
			Help: "Number of registry changes detected by type",
		},
		[]string{"type"},
	)

	RegistryRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpwatch_registry_request_duration_seconds",
			Help:    "Duration of registry list requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// SnapshotServers tracks the size of the last observed snapshot
	SnapshotServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpwatch_snapshot_servers",
			Help: "Server count in the most recent snapshot",
		},
	)
)

func Init() {
	prometheus.MustRegister(PollCycles, ChangesDetected, RegistryRequestDuration, SnapshotServers)
}
