package models

import (
	"time"

	"FluxDash/internal/services/cleaning"
)

// Record field names shared by the cleaning layer, storage and the API.
const (
	FieldTime         = "time"
	FieldObservedFlux = "observed_flux"
	FieldAdjustedFlux = "adjusted_flux"
)

// Series sources.
const (
	SourceUpstream = "upstream"
	SourceCache    = "cache"
	SourceStorage  = "storage"
)

// Observation is one daily Penticton 10.7cm flux reading in solar flux units.
// A nil flux means the upstream row carried no value.
type Observation struct {
	Time         time.Time `json:"time"`
	ObservedFlux *float64  `json:"observed_flux"`
	AdjustedFlux *float64  `json:"adjusted_flux"`
}

// Series is an ordered (ascending time) set of observations for one dataset.
type Series struct {
	Dataset      string        `json:"dataset"`
	Source       string        `json:"source"`
	FetchedAt    time.Time     `json:"fetched_at"`
	Observations []Observation `json:"observations"`
}

// Len returns number of observations.
func (s *Series) Len() int { return len(s.Observations) }

// Last returns the newest observation, if any.
func (s *Series) Last() (Observation, bool) {
	if len(s.Observations) == 0 {
		return Observation{}, false
	}
	return s.Observations[len(s.Observations)-1], true
}

// Between returns observations with from <= t <= to. Zero bounds are open.
func (s *Series) Between(from, to time.Time) []Observation {
	out := make([]Observation, 0, len(s.Observations))
	for _, o := range s.Observations {
		if !from.IsZero() && o.Time.Before(from) {
			continue
		}
		if !to.IsZero() && o.Time.After(to) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Record converts the observation into an open record for the cleaning layer.
// Missing values are stored as nil so they pass through the filters.
func (o Observation) Record() cleaning.Record {
	r := cleaning.Record{
		FieldTime:         o.Time.UnixMilli(),
		FieldObservedFlux: nil,
		FieldAdjustedFlux: nil,
	}
	if o.ObservedFlux != nil {
		r[FieldObservedFlux] = *o.ObservedFlux
	}
	if o.AdjustedFlux != nil {
		r[FieldAdjustedFlux] = *o.AdjustedFlux
	}
	return r
}

// ObservationFromRecord is the inverse of Observation.Record.
func ObservationFromRecord(r cleaning.Record) Observation {
	var o Observation
	if ms, ok := cleaning.Numeric(r, FieldTime); ok {
		o.Time = time.UnixMilli(int64(ms)).UTC()
	}
	if v, ok := cleaning.Numeric(r, FieldObservedFlux); ok {
		o.ObservedFlux = &v
	}
	if v, ok := cleaning.Numeric(r, FieldAdjustedFlux); ok {
		o.AdjustedFlux = &v
	}
	return o
}

// Records converts observations to records, preserving order.
func Records(obs []Observation) []cleaning.Record {
	out := make([]cleaning.Record, len(obs))
	for i, o := range obs {
		out[i] = o.Record()
	}
	return out
}

// ChartSeries is the line-chart shape: parallel arrays keyed by index.
type ChartSeries struct {
	Dataset       string     `json:"dataset"`
	Field         string     `json:"field"`
	Source        string     `json:"source"`
	Model         string     `json:"model,omitempty"`
	Window        int        `json:"window,omitempty"`
	Times         []int64    `json:"times"`
	Values        []*float64 `json:"values"`
	MovingAverage []*float64 `json:"moving_average,omitempty"`
	Total         int        `json:"total"`
	Removed       int        `json:"removed"`
}

// GridRow is one row of the tabular view.
type GridRow struct {
	Time          time.Time `json:"time"`
	ObservedFlux  *float64  `json:"observed_flux"`
	AdjustedFlux  *float64  `json:"adjusted_flux"`
	MovingAverage *float64  `json:"moving_average,omitempty"`
}

// Summary holds headline statistics for one field.
type Summary struct {
	Dataset   string    `json:"dataset"`
	Field     string    `json:"field"`
	Source    string    `json:"source"`
	Count     int       `json:"count"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
	LastValue *float64  `json:"last_value"`
	Min       *float64  `json:"min"`
	Max       *float64  `json:"max"`
	Mean      *float64  `json:"mean"`
	Avg27     *float64  `json:"avg_27d"`
	Avg81     *float64  `json:"avg_81d"`
}

// SeriesEvent is pushed to stream subscribers whenever the series refreshes.
type SeriesEvent struct {
	Type      string       `json:"type"`
	Dataset   string       `json:"dataset"`
	Count     int          `json:"count"`
	Added     int          `json:"added"`
	Last      *Observation `json:"last,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
