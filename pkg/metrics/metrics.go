// Package metrics exposes the self-diagnostic counters of a core on its own
// prometheus registry, so independent cores never collide on registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used as the "reason" label.
const (
	ReasonCapacity = "capacity"
	ReasonEncoding = "encoding"
	ReasonStorage  = "storage"
	ReasonConsent  = "consent"
)

// Upload outcomes used as the "outcome" label.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetry     = "retry"
	OutcomeDropped   = "dropped"
)

const namespace = "telemetry"

// Metrics groups every collector of one core.
type Metrics struct {
	registry *prometheus.Registry

	EventsWritten    *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	FilesCreated     *prometheus.CounterVec
	BytesWritten     *prometheus.CounterVec
	BatchesUploaded  *prometheus.CounterVec
	BatchesTruncated *prometheus.CounterVec
	FilesPurged      *prometheus.CounterVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_written_total",
			Help:      "Events appended to a batch file.",
		}, []string{"feature"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not persisted, by reason.",
		}, []string{"feature", "reason"}),
		FilesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_created_total",
			Help:      "Batch files created by rotation.",
		}, []string{"feature"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Framed bytes appended to batch files.",
		}, []string{"feature"}),
		BatchesUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_uploaded_total",
			Help:      "Upload attempts, by outcome.",
		}, []string{"feature", "outcome"}),
		BatchesTruncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_truncated_total",
			Help:      "Batch files read with a torn trailing block.",
		}, []string{"feature"}),
		FilesPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_purged_total",
			Help:      "Batch files deleted without upload (stale or consent denied).",
		}, []string{"feature"}),
	}
	m.registry.MustRegister(
		m.EventsWritten,
		m.EventsDropped,
		m.FilesCreated,
		m.BytesWritten,
		m.BatchesUploaded,
		m.BatchesTruncated,
		m.FilesPurged,
	)
	return m
}

// Registry returns the underlying registry, e.g. to add process collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Feature returns the collectors curried for one feature. A nil receiver
// yields a no-op recorder.
func (m *Metrics) Feature(name string) *FeatureRecorder {
	if m == nil {
		return nil
	}
	return &FeatureRecorder{m: m, feature: name}
}

// FeatureRecorder records for one feature. All methods are nil-safe.
type FeatureRecorder struct {
	m       *Metrics
	feature string
}

func (r *FeatureRecorder) Written(bytes int) {
	if r == nil {
		return
	}
	r.m.EventsWritten.WithLabelValues(r.feature).Inc()
	r.m.BytesWritten.WithLabelValues(r.feature).Add(float64(bytes))
}

func (r *FeatureRecorder) Dropped(reason string) {
	if r == nil {
		return
	}
	r.m.EventsDropped.WithLabelValues(r.feature, reason).Inc()
}

func (r *FeatureRecorder) FileCreated() {
	if r == nil {
		return
	}
	r.m.FilesCreated.WithLabelValues(r.feature).Inc()
}

func (r *FeatureRecorder) Uploaded(outcome string) {
	if r == nil {
		return
	}
	r.m.BatchesUploaded.WithLabelValues(r.feature, outcome).Inc()
}

func (r *FeatureRecorder) Truncated() {
	if r == nil {
		return
	}
	r.m.BatchesTruncated.WithLabelValues(r.feature).Inc()
}

func (r *FeatureRecorder) Purged(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.m.FilesPurged.WithLabelValues(r.feature).Add(float64(n))
}
