package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	webhooks        *prometheus.CounterVec
	answerLatency   prometheus.Histogram
	answerDeadline  prometheus.Counter
	recordingsSaved *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	archive         *prometheus.CounterVec
}

// New creates the instruments on a dedicated registry, together with the
// standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemail_webhooks_total",
			Help: "Webhooks handled, by webhook kind and outcome (ok, invalid, error).",
		}, []string{"webhook", "outcome"}),
		answerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemail_answer_duration_seconds",
			Help:    "Time spent producing the answer webhook response.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}),
		answerDeadline: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicemail_answer_deadline_exceeded_total",
			Help: "Answer webhooks that took longer than the provider deadline.",
		}),
		recordingsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemail_recordings_saved_total",
			Help: "Recording metadata rows written, by recording status.",
		}, []string{"status"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemail_anomalies_total",
			Help: "Accepted webhooks that did not match the call lifecycle, by type.",
		}, []string{"type"}),
		archive: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemail_archive_jobs_total",
			Help: "Recording archive jobs, by outcome (ok, failed, dropped, throttled).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhooks, m.answerLatency, m.answerDeadline, m.recordingsSaved, m.anomalies, m.archive,
	)
	return m
}

func (m *Metrics) Webhook(webhook, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(webhook, outcome).Inc()
}

func (m *Metrics) ObserveAnswer(d time.Duration, deadlineExceeded bool) {
	if m == nil {
		return
	}
	m.answerLatency.Observe(d.Seconds())
	if deadlineExceeded {
		m.answerDeadline.Inc()
	}
}

func (m *Metrics) RecordingSaved(status string) {
	if m == nil {
		return
	}
	m.recordingsSaved.WithLabelValues(status).Inc()
}

func (m *Metrics) Anomaly(typ string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(typ).Inc()
}

func (m *Metrics) ArchiveJob(outcome string) {
	if m == nil {
		return
	}
	m.archive.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
