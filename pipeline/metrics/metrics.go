// Package metrics exports pipeline metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter holds the pipeline metric instruments behind one registry.
// A nil Exporter is valid; its recording methods are no-ops, so callers
// carry it without guards.
type Exporter struct {
	registry *prometheus.Registry

	ingested *prometheus.CounterVec

	parseLatency *prometheus.HistogramVec
	parseResults *prometheus.CounterVec

	mediaBytes      prometheus.Counter
	mediaTranscodes *prometheus.CounterVec

	pushes       *prometheus.CounterVec
	pushLatency  *prometheus.HistogramVec
	queueClaimed prometheus.Counter

	eventsPublished *prometheus.CounterVec
	sseSubscribers  prometheus.Gauge
}

// Config configures the exporter.
type Config struct {
	// Registry to use; nil creates a fresh one.
	Registry *prometheus.Registry
	// LatencyBuckets for parse and push histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}
}

// NewExporter creates the exporter and registers all instruments.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkhoard",
			Subsystem: "ingest",
			Name:      "contents_total",
			Help:      "Total ingested URLs by platform and dedup outcome",
		},
		[]string{"platform", "outcome"},
	)

	e.parseLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "linkhoard",
			Subsystem: "parse",
			Name:      "latency_seconds",
			Help:      "Adapter parse latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"platform"},
	)
	e.parseResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkhoard",
			Subsystem: "parse",
			Name:      "results_total",
			Help:      "Parse task outcomes by platform and status",
		},
		[]string{"platform", "status"},
	)

	e.mediaBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkhoard",
			Subsystem: "media",
			Name:      "archived_bytes_total",
			Help:      "Total bytes written to the blob store",
		},
	)
	e.mediaTranscodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkhoard",
			Subsystem: "media",
			Name:      "transcodes_total",
			Help:      "Image transcodes by kind and status",
		},
		[]string{"kind", "status"},
	)

	e.pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkhoard",
			Subsystem: "distribution",
			Name:      "pushes_total",
			Help:      "Push attempts by sink platform and status",
		},
		[]string{"platform", "status"},
	)
	e.pushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "linkhoard",
			Subsystem: "distribution",
			Name:      "push_latency_seconds",
			Help:      "Sink push latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"platform"},
	)
	e.queueClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkhoard",
			Subsystem: "distribution",
			Name:      "items_claimed_total",
			Help:      "Queue items claimed by distribution workers",
		},
	)

	e.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkhoard",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events written to the outbox by type",
		},
		[]string{"type"},
	)
	e.sseSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "linkhoard",
			Subsystem: "events",
			Name:      "sse_subscribers",
			Help:      "Connected SSE subscribers",
		},
	)

	registry.MustRegister(
		e.ingested,
		e.parseLatency,
		e.parseResults,
		e.mediaBytes,
		e.mediaTranscodes,
		e.pushes,
		e.pushLatency,
		e.queueClaimed,
		e.eventsPublished,
		e.sseSubscribers,
	)
	return e
}

// RecordIngest counts one ingest. outcome is "created" or "dedup".
func (e *Exporter) RecordIngest(platform, outcome string) {
	if e == nil {
		return
	}
	e.ingested.WithLabelValues(platform, outcome).Inc()
}

// RecordParse counts one parse task outcome and its latency.
func (e *Exporter) RecordParse(platform string, latency time.Duration, status string) {
	if e == nil {
		return
	}
	e.parseLatency.WithLabelValues(platform).Observe(latency.Seconds())
	e.parseResults.WithLabelValues(platform, status).Inc()
}

// RecordMediaArchived counts bytes written to the blob store.
func (e *Exporter) RecordMediaArchived(bytes int64) {
	if e == nil {
		return
	}
	e.mediaBytes.Add(float64(bytes))
}

// RecordTranscode counts one image transcode. kind is "still" or
// "animated".
func (e *Exporter) RecordTranscode(kind string, success bool) {
	if e == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	e.mediaTranscodes.WithLabelValues(kind, status).Inc()
}

// RecordPush counts one push attempt and its latency.
func (e *Exporter) RecordPush(platform string, latency time.Duration, success bool) {
	if e == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	e.pushes.WithLabelValues(platform, status).Inc()
	e.pushLatency.WithLabelValues(platform).Observe(latency.Seconds())
}

// RecordClaimed counts queue items claimed by a worker.
func (e *Exporter) RecordClaimed(count int) {
	if e == nil {
		return
	}
	e.queueClaimed.Add(float64(count))
}

// RecordEvent counts one published event.
func (e *Exporter) RecordEvent(eventType string) {
	if e == nil {
		return
	}
	e.eventsPublished.WithLabelValues(eventType).Inc()
}

// AddSSESubscriber tracks subscriber connects (+1) and disconnects (-1).
func (e *Exporter) AddSSESubscriber(delta int) {
	if e == nil {
		return
	}
	e.sseSubscribers.Add(float64(delta))
}

// Handler serves the registry in Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
