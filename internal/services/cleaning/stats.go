package cleaning

import "math"

// Quantile returns the p-quantile of an ascending slice using linear
// interpolation between order statistics (h = (n-1)p).
// It is undefined for fewer than two values.
func Quantile(sorted []float64, p float64) (float64, bool) {
	n := len(sorted)
	if n < 2 || math.IsNaN(p) {
		return 0, false
	}
	if p <= 0 {
		return sorted[0], true
	}
	if p >= 1 {
		return sorted[n-1], true
	}
	h := float64(n-1) * p
	i := int(math.Floor(h))
	lo, hi := sorted[i], sorted[i+1]
	return lo + (hi-lo)*(h-float64(i)), true
}

// Mean is undefined for an empty slice.
func Mean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

// Deviation returns the sample standard deviation (n-1 denominator).
// It is undefined for fewer than two values.
func Deviation(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	mean, _ := Mean(xs)
	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1)), true
}
