package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetchedRows *prometheus.CounterVec
	storedRows  *prometheus.CounterVec
	removedRows *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	lastFlux    *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New creates a Prometheus recorder registered on the default registry.
func New() *Recorder {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the recorder's collectors on reg.
func NewWith(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fetchedRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxdash_rows_fetched_total",
				Help: "Observations loaded, by source",
			},
			[]string{"source"},
		),
		storedRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxdash_rows_stored_total",
				Help: "Observations handed to a backend",
			},
			[]string{"backend"},
		),
		removedRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxdash_outliers_removed_total",
				Help: "Rows removed by outlier filters",
			},
			[]string{"model"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxdash_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastFlux: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluxdash_last_flux_sfu",
				Help: "Most recent flux value in solar flux units",
			},
			[]string{"field"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxdash_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordFetch(source string, rows int) {
	r.fetchedRows.WithLabelValues(source).Add(float64(rows))
}

func (r *Recorder) RecordStored(backend string, rows int) {
	r.storedRows.WithLabelValues(backend).Add(float64(rows))
}

func (r *Recorder) RecordRemoved(model string, rows int) {
	r.removedRows.WithLabelValues(model).Add(float64(rows))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastFlux(field string, value float64) {
	r.lastFlux.WithLabelValues(field).Set(value)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything. Used when metrics are disabled.
type Nop struct{}

func (Nop) RecordFetch(string, int)        {}
func (Nop) RecordStored(string, int)       {}
func (Nop) RecordRemoved(string, int)      {}
func (Nop) RecordError(string)             {}
func (Nop) RecordLastFlux(string, float64) {}
func (Nop) RecordLatency(string, float64)  {}
