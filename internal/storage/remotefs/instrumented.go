package remotefs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors used by Instrumented.
type Metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

// NewMetrics creates and registers remote store collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "remotefs",
			Name:      "operations_total",
			Help:      "Remote store operations by operation and result",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metastore",
			Subsystem: "remotefs",
			Name:      "operation_duration_seconds",
			Help:      "Remote store operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metastore",
			Subsystem: "remotefs",
			Name:      "bytes_total",
			Help:      "Bytes uploaded to the remote store",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.duration, m.bytes)
	}
	return m
}

func (m *Metrics) observe(op Op, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(string(op), result).Inc()
	m.duration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}

// Instrumented decorates a RemoteFS with Prometheus metrics.
type Instrumented struct {
	inner   RemoteFS
	metrics *Metrics
}

// Instrument wraps inner so every call is counted and timed.
func Instrument(inner RemoteFS, metrics *Metrics) *Instrumented {
	return &Instrumented{inner: inner, metrics: metrics}
}

// Unwrap returns the decorated backend.
func (i *Instrumented) Unwrap() RemoteFS { return i.inner }

func (i *Instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	names, err := i.inner.List(ctx, prefix)
	i.metrics.observe(OpList, start, err)
	return names, err
}

func (i *Instrumented) ListByPage(ctx context.Context, prefix string) PageIterator {
	return &instrumentedIterator{inner: i.inner.ListByPage(ctx, prefix), metrics: i.metrics}
}

type instrumentedIterator struct {
	inner   PageIterator
	metrics *Metrics
}

func (it *instrumentedIterator) Next(ctx context.Context) ([]string, error) {
	start := time.Now()
	page, err := it.inner.Next(ctx)
	if errors.Is(err, io.EOF) {
		return page, err
	}
	it.metrics.observe(OpListByPage, start, err)
	return page, err
}

func (i *Instrumented) ListWithMetadata(ctx context.Context, prefix string) ([]FileInfo, error) {
	start := time.Now()
	infos, err := i.inner.ListWithMetadata(ctx, prefix)
	i.metrics.observe(OpListWithMetadata, start, err)
	return infos, err
}

func (i *Instrumented) UploadFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	start := time.Now()
	n, err := i.inner.UploadFile(ctx, localPath, remotePath)
	i.metrics.observe(OpUpload, start, err)
	if err == nil {
		i.metrics.bytes.WithLabelValues(string(OpUpload)).Add(float64(n))
	}
	return n, err
}

func (i *Instrumented) DownloadFile(ctx context.Context, remotePath string, rng *Range) (string, error) {
	start := time.Now()
	p, err := i.inner.DownloadFile(ctx, remotePath, rng)
	i.metrics.observe(OpDownload, start, err)
	return p, err
}

func (i *Instrumented) DeleteFile(ctx context.Context, remotePath string) error {
	start := time.Now()
	err := i.inner.DeleteFile(ctx, remotePath)
	i.metrics.observe(OpDelete, start, err)
	return err
}

func (i *Instrumented) LocalFile(remotePath string) (string, error) {
	return i.inner.LocalFile(remotePath)
}

func (i *Instrumented) UploadsDir() (string, error) {
	return i.inner.UploadsDir()
}

var _ RemoteFS = (*Instrumented)(nil)
