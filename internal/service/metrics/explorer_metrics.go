// Package metrics holds the prometheus collectors of the explorer endpoints
// and the stream hub.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ExplorerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fluxdash",
			Subsystem: "explorer",
			Name:      "latency_seconds",
			Help:      "Latency of explorer endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ExplorerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fluxdash",
			Subsystem: "explorer",
			Name:      "errors_total",
			Help:      "Errors by explorer endpoint",
		},
		[]string{"endpoint"},
	)

	StreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fluxdash",
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Connected websocket subscribers",
		},
	)

	StreamDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fluxdash",
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Subscribers dropped for falling behind",
		},
	)
)

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(ExplorerLatency, ExplorerErrors, StreamSubscribers, StreamDropped)
	})
}
