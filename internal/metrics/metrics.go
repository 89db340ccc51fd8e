// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "senas_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"path", "method", "status"},
	)
	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "senas_api_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// Inference
	predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "senas_predictions_total",
			Help: "Predictions by outcome",
		},
		[]string{"outcome"},
	)
	predictDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "senas_predict_duration_seconds",
			Help:    "Time spent encoding and classifying one observation",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)
	modelReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "senas_model_ready",
			Help: "1 when a model artifact is loaded",
		},
	)
	modelLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "senas_model_loads_total",
			Help: "Model artifact load attempts",
		},
		[]string{"result"},
	)

	// Training
	trainingEpochs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "senas_training_epochs_total",
			Help: "Completed training epochs",
		},
	)
	trainingMonitored = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "senas_training_monitored_value",
			Help: "Monitored value of the most recent epoch",
		},
		[]string{"metric"},
	)

	// Corpus preparation
	augmentedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "senas_augment_frames_total",
			Help: "Frames written during corpus preparation",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(apiRequests, apiDuration)
	prometheus.MustRegister(predictions, predictDuration, modelReady, modelLoads)
	prometheus.MustRegister(trainingEpochs, trainingMonitored)
	prometheus.MustRegister(augmentedFrames)
}

// ObserveRequest records one HTTP request.
func ObserveRequest(path, method string, status int, elapsed time.Duration) {
	apiRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	apiDuration.WithLabelValues(path, method).Observe(elapsed.Seconds())
}

// ObservePrediction records one Predict call. outcome is "ok" or an error kind.
func ObservePrediction(outcome string, elapsed time.Duration) {
	predictions.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		predictDuration.Observe(elapsed.Seconds())
	}
}

// SetModelReady updates the readiness gauge and counts the load attempt.
func SetModelReady(ready bool) {
	if ready {
		modelReady.Set(1)
		modelLoads.WithLabelValues("ok").Inc()
		return
	}
	modelReady.Set(0)
	modelLoads.WithLabelValues("error").Inc()
}

// ObserveEpoch records a finished training epoch and the value of the
// metric its run monitors.
func ObserveEpoch(metric string, value float64) {
	trainingEpochs.Inc()
	trainingMonitored.WithLabelValues(metric).Set(value)
}

// AddAugmentedFrames counts frames written for class.
func AddAugmentedFrames(class string, n int) {
	augmentedFrames.WithLabelValues(class).Add(float64(n))
}
