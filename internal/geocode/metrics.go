package geocode

import (
	"github.com/prometheus/client_golang/prometheus"
)

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "locationd",
		Subsystem: "geocode",
		Name:      "requests_total",
		Help:      "Total number of reverse-geocoding requests by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}
