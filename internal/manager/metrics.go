package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botd",
			Subsystem: "session",
			Name:      "loads_total",
			Help:      "Session loads by result",
		},
		[]string{"result"},
	)

	sessionRecyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botd",
			Subsystem: "session",
			Name:      "recycles_total",
			Help:      "Sessions torn down and rebuilt after reaching the recycle threshold",
		},
	)

	sessionLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "botd",
			Subsystem: "session",
			Name:      "load_duration_seconds",
			Help:      "Time spent loading a session",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	sessionServed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botd",
			Subsystem: "session",
			Name:      "served_requests",
			Help:      "Requests served by the live session since its load",
		},
	)
)

func init() {
	prometheus.MustRegister(sessionLoadsTotal, sessionRecyclesTotal, sessionLoadDuration, sessionServed)
}
