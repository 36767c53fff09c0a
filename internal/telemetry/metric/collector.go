package metric

import "github.com/prometheus/client_golang/prometheus"

// StoreSample is the state of one store at scrape time.
type StoreSample struct {
	Name             string
	SnapshotID       uint64
	LastCheckpointAt int64 // Unix milliseconds
	WALPendingOps    int
	WALNextSeq       uint64
	WALFlushErrors   uint64
}

// Collector reports store state gathered on every scrape.
type Collector struct {
	source func() []StoreSample

	snapshotID     *prometheus.Desc
	lastCheckpoint *prometheus.Desc
	pendingOps     *prometheus.Desc
	nextSeq        *prometheus.Desc
	flushErrors    *prometheus.Desc
}

// NewCollector creates a collector reading samples from source.
func NewCollector(source func() []StoreSample) *Collector {
	labels := []string{"store"}
	return &Collector{
		source: source,
		snapshotID: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "snapshot_id"),
			"Id (Unix ms) of the snapshot the WAL is currently written against.",
			labels, nil),
		lastCheckpoint: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "last_checkpoint_timestamp_seconds"),
			"Unix time of the last successful checkpoint.",
			labels, nil),
		pendingOps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "wal", "pending_ops"),
			"Operations buffered and not yet uploaded.",
			labels, nil),
		nextSeq: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "wal", "next_seq"),
			"Sequence number of the next WAL chunk.",
			labels, nil),
		flushErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "wal", "flush_errors"),
			"Failed WAL uploads since start.",
			labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.snapshotID
	ch <- c.lastCheckpoint
	ch <- c.pendingOps
	ch <- c.nextSeq
	ch <- c.flushErrors
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source() {
		ch <- prometheus.MustNewConstMetric(c.snapshotID, prometheus.GaugeValue, float64(s.SnapshotID), s.Name)
		ch <- prometheus.MustNewConstMetric(c.lastCheckpoint, prometheus.GaugeValue, float64(s.LastCheckpointAt)/1000, s.Name)
		ch <- prometheus.MustNewConstMetric(c.pendingOps, prometheus.GaugeValue, float64(s.WALPendingOps), s.Name)
		ch <- prometheus.MustNewConstMetric(c.nextSeq, prometheus.GaugeValue, float64(s.WALNextSeq), s.Name)
		ch <- prometheus.MustNewConstMetric(c.flushErrors, prometheus.CounterValue, float64(s.WALFlushErrors), s.Name)
	}
}
