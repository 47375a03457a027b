package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locationd",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Total number of reconciliation passes by result",
		},
		[]string{"result"},
	)

	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "locationd",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a fleet-wide reconciliation pass in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	devicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locationd",
			Subsystem: "reconcile",
			Name:      "devices_total",
			Help:      "Total number of per-device reconciliations by outcome",
		},
		[]string{"outcome"},
	)

	deviceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locationd",
			Subsystem: "reconcile",
			Name:      "device_failures_total",
			Help:      "Total number of per-device failures by cause",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		passesTotal,
		passDuration,
		devicesTotal,
		deviceFailuresTotal,
	)
}
