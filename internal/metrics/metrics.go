// Package metrics holds the Prometheus collectors of the recognizer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recognition outcomes.
const (
	OutcomeMatch            = "match"
	OutcomeNoMatch          = "no_match"
	OutcomeRecognitionError = "recognition_error"
	OutcomeAudioError       = "audio_error"
	OutcomeSetupError       = "setup_error"
	OutcomeOtherError       = "error"
)

// Artwork fetch results.
const (
	ArtworkOK     = "ok"
	ArtworkFailed = "failed"
	ArtworkNone   = "none"
)

type Metrics struct {
	Recognitions   *prometheus.CounterVec
	ArtworkFetches *prometheus.CounterVec
	HistorySize    prometheus.Gauge
	TimeToResult   prometheus.Histogram
	Listening      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Recognitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enseek_recognitions_total",
				Help: "Recognition attempts by outcome.",
			},
			[]string{"outcome"},
		),
		ArtworkFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enseek_artwork_fetches_total",
				Help: "Artwork downloads by result.",
			},
			[]string{"result"},
		),
		HistorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enseek_history_songs",
			Help: "Songs currently stored in the history.",
		}),
		TimeToResult: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "enseek_time_to_result_seconds",
			Help:    "Time from start of listening to a match or no-match.",
			Buckets: []float64{1, 2, 4, 8, 12, 20, 30, 60},
		}),
		Listening: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enseek_listening",
			Help: "1 while the microphone is being captured.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(m.Recognitions, m.ArtworkFetches, m.HistorySize, m.TimeToResult, m.Listening)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
