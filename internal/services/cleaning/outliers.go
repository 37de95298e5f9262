package cleaning

import (
	"math"
	"slices"
)

const (
	// DefaultRollingWindow is the trailing window used by the rolling filter.
	DefaultRollingWindow = 10
	// DefaultRollingThreshold is the number of standard deviations tolerated.
	DefaultRollingThreshold = 2.0

	iqrFence = 1.5
)

// IQROutlierRemover drops records whose value at key lies outside the Tukey
// fences [Q1-1.5*IQR, Q3+1.5*IQR] computed over the whole sequence.
// Records with a non-numeric value at key are always kept. NaN counts as
// non-numeric, so it is kept too. When fewer than two numeric values exist the
// input is returned unchanged.
func IQROutlierRemover[S ~[]R, R ~map[string]V, V any](data S, key string) S {
	if len(data) == 0 {
		return S{}
	}

	values := make([]float64, 0, len(data))
	for _, d := range data {
		if v, ok := Numeric[R, V](d, key); ok {
			values = append(values, v)
		}
	}
	slices.Sort(values)

	q1, ok1 := Quantile(values, 0.25)
	q3, ok3 := Quantile(values, 0.75)
	if !ok1 || !ok3 {
		return slices.Clone(data)
	}

	iqr := q3 - q1
	lower := q1 - iqrFence*iqr
	upper := q3 + iqrFence*iqr

	out := make(S, 0, len(data))
	for _, d := range data {
		v, ok := Numeric[R, V](d, key)
		if !ok || (v >= lower && v <= upper) {
			out = append(out, d)
		}
	}
	return out
}

// MovingAverageOutlierRemover drops records that deviate from the mean of the
// trailing window ending at them by more than threshold sample standard
// deviations. The decision for index i only looks at records [i-window+1, i].
// Records are kept whenever the window statistics are undefined or the
// deviation is zero.
func MovingAverageOutlierRemover[S ~[]R, R ~map[string]V, V any](data S, key string, window int, threshold float64) S {
	if len(data) == 0 {
		return S{}
	}

	out := make(S, 0, len(data))
	buf := make([]float64, 0, max(window, 0))
	for i, d := range data {
		v, ok := Numeric[R, V](d, key)
		if !ok {
			out = append(out, d)
			continue
		}

		buf = buf[:0]
		for j := max(0, i-window+1); j <= i; j++ {
			if x, ok := Numeric[R, V](data[j], key); ok {
				buf = append(buf, x)
			}
		}
		mean, okMean := Mean(buf)
		std, okStd := Deviation(buf)
		if !okMean || !okStd || std == 0 || math.Abs(v-mean) <= threshold*std {
			out = append(out, d)
		}
	}
	return out
}

// RollingFilter is the rolling-window outlier model with its tunables.
type RollingFilter struct {
	Window    int
	Threshold float64
}

// NewRollingFilter returns a filter with the default window and threshold.
func NewRollingFilter() RollingFilter {
	return RollingFilter{Window: DefaultRollingWindow, Threshold: DefaultRollingThreshold}
}

// Remove applies MovingAverageOutlierRemover with the filter settings.
func (f RollingFilter) Remove(data []Record, key string) []Record {
	return MovingAverageOutlierRemover(data, key, f.Window, f.Threshold)
}

// IQRRemover is the interquartile-range outlier model.
type IQRRemover struct{}

// Remove applies IQROutlierRemover.
func (IQRRemover) Remove(data []Record, key string) []Record {
	return IQROutlierRemover(data, key)
}
