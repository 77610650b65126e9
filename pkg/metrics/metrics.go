// Package metrics provides Prometheus instrumentation for upload handling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "formdata"

// Metrics holds the upload collectors.
type Metrics struct {
	UploadsTotal   *prometheus.CounterVec
	PartsTotal     *prometheus.CounterVec
	PartBytesTotal *prometheus.CounterVec
	UploadDuration prometheus.Histogram
	DecodeErrors   *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg leaves them unregistered,
// which suits tests and the CLI commands.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UploadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Total number of upload requests by result",
			},
			[]string{"status"},
		),
		PartsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parts_total",
				Help:      "Total number of decoded parts",
			},
			[]string{"kind"},
		),
		PartBytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "part_bytes_total",
				Help:      "Total number of decoded body bytes",
			},
			[]string{"kind"},
		),
		UploadDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time spent decoding and storing an upload",
				Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
		),
		DecodeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Total number of failed decodes by reason",
			},
			[]string{"reason"},
		),
	}
}

// RecordPart counts one part of the given kind ("file" or "value").
func (m *Metrics) RecordPart(kind string, size int64) {
	if m == nil {
		return
	}
	m.PartsTotal.WithLabelValues(kind).Inc()
	m.PartBytesTotal.WithLabelValues(kind).Add(float64(size))
}

// RecordUpload records the outcome of one request.
func (m *Metrics) RecordUpload(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(status).Inc()
	m.UploadDuration.Observe(duration.Seconds())
}

// RecordDecodeError counts a failed decode.
func (m *Metrics) RecordDecodeError(reason string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(reason).Inc()
}
