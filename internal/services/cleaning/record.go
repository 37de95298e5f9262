// Package cleaning holds the signal-cleaning utilities applied to flux series
// before they are charted: outlier removal and trailing moving averages.
//
// All functions are pure. They never mutate the input records and they keep
// every field of a retained record, so callers may carry arbitrary extra
// columns alongside the one being cleaned.
package cleaning

import (
	"encoding/json"
	"math"
)

// Record is an open row keyed by field name.
type Record map[string]any

// Numeric reports the value stored at key as a float64. Values that are
// missing, nil, NaN or not a Go number are reported as non-numeric.
func Numeric[R ~map[string]V, V any](r R, key string) (float64, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	return toFloat(any(v))
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		p, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
