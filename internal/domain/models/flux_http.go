package models

import "time"

// Requests for flux HTTP endpoints. Defined in domain for consistency and reuse.

type SeriesRequest struct {
	Field          string  `query:"field" json:"field" default:"observed_flux" validate:"oneof=observed_flux adjusted_flux"`
	RemoveOutliers bool    `query:"outliers" json:"outliers"`
	Model          string  `query:"model" json:"model" default:"iqr" validate:"oneof=iqr rolling"`
	RollingWindow  int     `query:"rolling_window" json:"rolling_window" default:"10" validate:"gte=1,lte=365"`
	Threshold      float64 `query:"threshold" json:"threshold" default:"2" validate:"gt=0,lte=10"`
	MovingAverage  bool    `query:"ma" json:"ma"`
	Window         int     `query:"window" json:"window" default:"27" validate:"oneof=3 7 14 27 81"`
	From           string  `query:"from" json:"from"`
	To             string  `query:"to" json:"to"`
}

type RowsRequest struct {
	SeriesRequest
	Page  int `query:"page" json:"page" default:"1" validate:"gte=1"`
	Limit int `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type SummaryRequest struct {
	Field string `query:"field" json:"field" default:"observed_flux" validate:"oneof=observed_flux adjusted_flux"`
}

// CleanOptions is the transport-free form of SeriesRequest.
type CleanOptions struct {
	Field          string
	RemoveOutliers bool
	Model          string
	RollingWindow  int
	Threshold      float64
	MovingAverage  bool
	Window         int
	From           time.Time
	To             time.Time
}
