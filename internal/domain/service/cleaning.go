package service

import "FluxDash/internal/services/cleaning"

// Outlier models selectable from the dashboard.
const (
	ModelIQR     = "iqr"
	ModelRolling = "rolling"
)

// OutlierRemover removes outliers at key from an ordered record sequence.
// The result is an order-preserving subsequence of data.
type OutlierRemover interface {
	Remove(data []cleaning.Record, key string) []cleaning.Record
}

// NewOutlierRemover returns the remover for model. Unknown models fall back to IQR.
func NewOutlierRemover(model string, window int, threshold float64) OutlierRemover {
	if model == ModelRolling {
		f := cleaning.NewRollingFilter()
		if window > 0 {
			f.Window = window
		}
		if threshold > 0 {
			f.Threshold = threshold
		}
		return f
	}
	return cleaning.IQRRemover{}
}

var (
	_ OutlierRemover = cleaning.IQRRemover{}
	_ OutlierRemover = cleaning.RollingFilter{}
)
