package server

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botd",
			Subsystem: "generate",
			Name:      "requests_total",
			Help:      "Generation requests by outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "botd",
			Subsystem: "generate",
			Name:      "duration_seconds",
			Help:      "Time spent in the engine generating one candidate batch",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, generationDuration)
}
