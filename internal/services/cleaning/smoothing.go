package cleaning

// MovingAverage returns, for each position, the mean of the window values at
// key ending at that position. Positions without a full window are nil, as
// are positions whose window holds a non-numeric value. A window below one
// yields an empty result.
func MovingAverage[S ~[]R, R ~map[string]V, V any](data S, key string, window int) []*float64 {
	if window < 1 {
		return []*float64{}
	}

	out := make([]*float64, len(data))
	for i := window - 1; i < len(data); i++ {
		sum := 0.0
		complete := true
		for j := i - window + 1; j <= i; j++ {
			v, ok := Numeric[R, V](data[j], key)
			if !ok {
				complete = false
				break
			}
			sum += v
		}
		if complete {
			avg := sum / float64(window)
			out[i] = &avg
		}
	}
	return out
}
