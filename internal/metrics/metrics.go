// Package metrics holds the Prometheus collectors for the inference path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "emotion_api"

// Failure reasons.
const (
	ReasonInvalidContentType = "invalid_content_type"
	ReasonMissingFile        = "missing_file"
	ReasonTooLarge           = "too_large"
	ReasonDecode             = "decode"
	ReasonInference          = "inference"
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	predictions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	inference   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Successful predictions by emotion label.",
		}, []string{"emotion"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_failures_total",
			Help:      "Rejected or failed prediction requests by reason.",
		}, []string{"reason"}),
		inference: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Time spent in the model forward pass.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

func (m *Metrics) ObservePrediction(emotion string, inference time.Duration) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(emotion).Inc()
	m.inference.Observe(inference.Seconds())
}

func (m *Metrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}
