// Package metrics provides the Prometheus counters and histograms the WAL
// uses to report append throughput, fsync latency, rotations and recovery
// duration. It deliberately stays a thin wrapper over client_golang rather
// than the full OpenTelemetry SDK: the WAL is a library with no HTTP
// server of its own, so there's nothing here for a trace exporter to hang
// off of.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// readCounter extracts the current value of a simple (non-vector)
// counter. client_golang has no direct getter, so this goes through the
// same Write-to-protobuf path the registry's own scrape handler uses.
func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// WAL holds every metric the write-ahead log emits. A nil *WAL is valid
// and records nothing, so callers that don't care about metrics can pass
// one in without checking for nil.
type WAL struct {
	appendTotal     *prometheus.CounterVec
	appendDuration  *prometheus.HistogramVec
	fsyncDuration   prometheus.Histogram
	rotationTotal   prometheus.Counter
	checkpointTotal prometheus.Counter
	recoveryRuns    prometheus.Counter
	recoverySeconds prometheus.Histogram
}

// New registers a fresh set of WAL metrics on reg. Passing a dedicated
// *prometheus.Registry (rather than the global one) keeps repeated test
// runs from colliding on metric registration.
func New(reg prometheus.Registerer, namespace string) *WAL {
	m := &WAL{
		appendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "append_total",
			Help:      "Number of log entries appended, by entry type.",
		}, []string{"type"}),
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "append_duration_seconds",
			Help:      "Latency of a single append, by entry type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		fsyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "fsync_duration_seconds",
			Help:      "Latency of the fsync issued on transaction commit and on checkpoint.",
			Buckets:   prometheus.DefBuckets,
		}),
		rotationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "rotation_total",
			Help:      "Number of times the current log file flipped.",
		}),
		checkpointTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "checkpoint_total",
			Help:      "Number of CHECKPOINT entries appended.",
		}),
		recoveryRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "recovery_runs_total",
			Help:      "Number of times the recovery engine ran.",
		}),
		recoverySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "recovery_duration_seconds",
			Help:      "Wall-clock duration of a full recovery pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.appendTotal, m.appendDuration, m.fsyncDuration,
		m.rotationTotal, m.checkpointTotal, m.recoveryRuns, m.recoverySeconds,
	)
	return m
}

// NewUnregistered builds a *WAL backed by its own private registry, for
// tests and callers that don't want to touch the global registry.
func NewUnregistered() *WAL {
	return New(prometheus.NewRegistry(), "")
}

func (m *WAL) ObserveAppend(entryType string, seconds float64) {
	if m == nil {
		return
	}
	m.appendTotal.WithLabelValues(entryType).Inc()
	m.appendDuration.WithLabelValues(entryType).Observe(seconds)
}

func (m *WAL) ObserveFsync(seconds float64) {
	if m == nil {
		return
	}
	m.fsyncDuration.Observe(seconds)
}

func (m *WAL) IncRotation() {
	if m == nil {
		return
	}
	m.rotationTotal.Inc()
}

func (m *WAL) IncCheckpoint() {
	if m == nil {
		return
	}
	m.checkpointTotal.Inc()
}

func (m *WAL) ObserveRecovery(seconds float64) {
	if m == nil {
		return
	}
	m.recoveryRuns.Inc()
	m.recoverySeconds.Observe(seconds)
}

// Snapshot is a point-in-time read of the counters, for callers that want
// to log or inspect them without scraping the Prometheus registry.
type Snapshot struct {
	Appends     map[string]float64
	Rotations   float64
	Checkpoints float64
	RecoveryRuns float64
}

// Snapshot gathers the current counter values. Histograms are omitted:
// they're meant to be scraped, not read back programmatically.
func (m *WAL) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{Appends: map[string]float64{}}
	}
	snap := Snapshot{Appends: map[string]float64{}}
	metricCh := make(chan prometheus.Metric, 16)
	go func() {
		m.appendTotal.Collect(metricCh)
		close(metricCh)
	}()
	for metric := range metricCh {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		for _, lp := range pb.Label {
			if lp.GetName() == "type" {
				snap.Appends[lp.GetValue()] = pb.GetCounter().GetValue()
			}
		}
	}
	snap.Rotations = readCounter(m.rotationTotal)
	snap.Checkpoints = readCounter(m.checkpointTotal)
	snap.RecoveryRuns = readCounter(m.recoveryRuns)
	return snap
}
