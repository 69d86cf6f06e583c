package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acerpal"

// Snapshot save outcomes
const (
	SnapshotWritten   = "written"
	SnapshotSkipped   = "skipped"   // Lock held by another writer
	SnapshotUnchanged = "unchanged" // Nothing to persist
	SnapshotFailed    = "failed"
)

// Metrics holds the service's prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	activeDownloads  prometheus.Gauge
	pendingDownloads prometheus.Gauge
	queueCapacity    prometheus.Gauge
	jobsSubmitted    prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	bytesDownloaded  prometheus.Counter
	snapshotSaves    *prometheus.CounterVec
	upstreamRequests *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_active",
			Help:      "Downloads currently running.",
		}),
		pendingDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_pending",
			Help:      "Downloads waiting for a free slot.",
		}),
		queueCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_capacity",
			Help:      "Maximum concurrent downloads.",
		}),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the admission queue.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to disk by all downloads.",
		}),
		snapshotSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Snapshot save attempts by outcome.",
		}, []string{"result"}),
		upstreamRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of catalog API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeDownloads,
		m.pendingDownloads,
		m.queueCapacity,
		m.jobsSubmitted,
		m.jobsFinished,
		m.bytesDownloaded,
		m.snapshotSaves,
		m.upstreamRequests,
	)
	return m
}

// Handler exposes the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetQueue records the admission queue occupancy
func (m *Metrics) SetQueue(active, pending, capacity int) {
	if m == nil {
		return
	}
	m.activeDownloads.Set(float64(active))
	m.pendingDownloads.Set(float64(pending))
	m.queueCapacity.Set(float64(capacity))
}

func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}
	m.jobsSubmitted.Inc()
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) AddBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesDownloaded.Add(float64(n))
}

func (m *Metrics) SnapshotSave(result string) {
	if m == nil {
		return
	}
	m.snapshotSaves.WithLabelValues(result).Inc()
}

// ObserveUpstream records one catalog API call
func (m *Metrics) ObserveUpstream(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}
