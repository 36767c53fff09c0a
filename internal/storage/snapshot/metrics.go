package snapshot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds snapshot collectors. A nil *Metrics records nothing.
type Metrics struct {
	publishes        *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	bootstraps       *prometheus.CounterVec
	bootstrapSeconds *prometheus.HistogramVec
	sweepDeleted     *prometheus.CounterVec
	sweeps           *prometheus.CounterVec
	logChunks        *prometheus.CounterVec
	logBytes         *prometheus.CounterVec
	replayChunks     *prometheus.CounterVec
	replayTruncated  *prometheus.CounterVec
}

// NewMetrics creates snapshot collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "snapshot",
			Name:      "publish_total",
			Help:      "Checkpoint publishes by result.",
		}, []string{"store", "result"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metastore",
			Subsystem: "snapshot",
			Name:      "publish_duration_seconds",
			Help:      "Time to upload a checkpoint and write the pointer.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"store"}),
		bootstraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "snapshot",
			Name:      "bootstrap_total",
			Help:      "Store bootstraps by mode and result.",
		}, []string{"store", "mode", "result"}),
		bootstrapSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metastore",
			Subsystem: "snapshot",
			Name:      "bootstrap_duration_seconds",
			Help:      "Time to bootstrap a store.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"store", "mode"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "snapshot",
			Name:      "sweep_total",
			Help:      "Retention sweeps that reached the delete pass.",
		}, []string{"store"}),
		sweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "snapshot",
			Name:      "sweep_deleted_files_total",
			Help:      "Remote files deleted by retention sweeps.",
		}, []string{"store"}),
		logChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "wal",
			Name:      "chunks_uploaded_total",
			Help:      "WAL chunks uploaded.",
		}, []string{"store"}),
		logBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "wal",
			Name:      "uploaded_bytes_total",
			Help:      "WAL bytes uploaded.",
		}, []string{"store"}),
		replayChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "wal",
			Name:      "replayed_chunks_total",
			Help:      "WAL chunks applied during replay.",
		}, []string{"store"}),
		replayTruncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "wal",
			Name:      "replay_truncations_total",
			Help:      "Replays stopped early by a corrupted chunk.",
		}, []string{"store"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.publishes, m.publishDuration,
			m.bootstraps, m.bootstrapSeconds,
			m.sweeps, m.sweepDeleted,
			m.logChunks, m.logBytes,
			m.replayChunks, m.replayTruncated,
		)
	}
	return m
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) observePublish(store string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(store, resultLabel(err)).Inc()
	if err == nil {
		m.publishDuration.WithLabelValues(store).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) observeBootstrap(store, mode string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.bootstraps.WithLabelValues(store, mode, resultLabel(err)).Inc()
	m.bootstrapSeconds.WithLabelValues(store, mode).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeSweep(store string, deleted int) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(store).Inc()
	m.sweepDeleted.WithLabelValues(store).Add(float64(deleted))
}

func (m *Metrics) observeLogUpload(store string, size int64) {
	if m == nil {
		return
	}
	m.logChunks.WithLabelValues(store).Inc()
	m.logBytes.WithLabelValues(store).Add(float64(size))
}

func (m *Metrics) observeReplay(store string, applied int) {
	if m == nil {
		return
	}
	m.replayChunks.WithLabelValues(store).Add(float64(applied))
}

func (m *Metrics) observeReplayTruncated(store string) {
	if m == nil {
		return
	}
	m.replayTruncated.WithLabelValues(store).Inc()
}
