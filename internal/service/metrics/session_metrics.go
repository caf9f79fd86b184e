package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "runguard",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently held in memory",
		},
	)

	SessionsHalted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "runguard",
			Subsystem: "session",
			Name:      "halted_total",
			Help:      "Sessions halted by an invariant violation",
		},
	)

	SnapshotLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "runguard",
			Subsystem: "session",
			Name:      "snapshot_seconds",
			Help:      "Latency of snapshot save, load and restore",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	SnapshotErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runguard",
			Subsystem: "session",
			Name:      "snapshot_errors_total",
			Help:      "Snapshot failures by operation",
		},
		[]string{"operation"},
	)
)

// Register adds the session collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(SessionsActive, SessionsHalted, SnapshotLatency, SnapshotErrors)
	})
}
