package cleaning_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"FluxDash/internal/services/cleaning"
)

func records(key string, values ...any) []cleaning.Record {
	out := make([]cleaning.Record, len(values))
	for i, v := range values {
		out[i] = cleaning.Record{"id": i, key: v}
	}
	return out
}

func ids(rs []cleaning.Record) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r["id"].(int)
	}
	return out
}

type IQRSuite struct {
	suite.Suite
}

func (s *IQRSuite) TestDropsFarOutlier() {
	in := records("v", 10, 12, 11, 13, 1000)
	out := cleaning.IQROutlierRemover(in, "v")
	require.Equal(s.T(), []int{0, 1, 2, 3}, ids(out), "1000 lies above Q3 + 1.5*IQR")
}

func (s *IQRSuite) TestEmpty() {
	out := cleaning.IQROutlierRemover([]cleaning.Record{}, "v")
	require.NotNil(s.T(), out)
	require.Empty(s.T(), out)

	out = cleaning.IQROutlierRemover([]cleaning.Record(nil), "v")
	require.NotNil(s.T(), out)
	require.Empty(s.T(), out)
}

func (s *IQRSuite) TestTooFewNumericReturnsInput() {
	in := records("v", 42, "n/a", nil, true)
	out := cleaning.IQROutlierRemover(in, "v")
	require.Equal(s.T(), in, out)

	in = records("v", "a", "b")
	require.Equal(s.T(), in, cleaning.IQROutlierRemover(in, "v"))
}

func (s *IQRSuite) TestNonNumericAlwaysKept() {
	in := records("v", 10, "n/a", 11, nil, 12, 13, 900)
	out := cleaning.IQROutlierRemover(in, "v")
	require.Equal(s.T(), []int{0, 1, 2, 3, 4, 5}, ids(out))
}

func (s *IQRSuite) TestZeroSpreadKeepsOnlyConstant() {
	in := records("v", 5, 5, 5, 5, 5, 7, "x")
	out := cleaning.IQROutlierRemover(in, "v")
	require.Equal(s.T(), []int{0, 1, 2, 3, 4, 6}, ids(out))
}

func (s *IQRSuite) TestBoundsInclusive() {
	// sorted -1,2,3,4,7: Q1=2 Q3=4 IQR=2 => fences [-1, 7]
	in := records("v", 2, 3, 4, 7, -1)
	require.Equal(s.T(), ids(in), ids(cleaning.IQROutlierRemover(in, "v")))

	in = records("v", 2, 3, 4, 7.0001, -1)
	require.Equal(s.T(), []int{0, 1, 2, 4}, ids(cleaning.IQROutlierRemover(in, "v")))
}

func (s *IQRSuite) TestSubsequenceAndNoMutation() {
	in := records("v", 3, 100, 4, -80, 5, 4, 3, 6)
	snapshot := make([]cleaning.Record, len(in))
	copy(snapshot, in)

	out := cleaning.IQROutlierRemover(in, "v")
	require.Equal(s.T(), snapshot, in, "input must not be reordered")
	require.True(s.T(), isSubsequence(ids(in), ids(out)))
	require.Equal(s.T(), []int{0, 2, 4, 5, 6, 7}, ids(out))
}

func TestIQRSuite(t *testing.T) {
	suite.Run(t, new(IQRSuite))
}

func TestMovingAverageOutlierRemover(t *testing.T) {
	t.Run("drops spike", func(t *testing.T) {
		in := records("v", 10, 10, 11, 10, 9, 10, 11, 10, 10, 50)
		out := cleaning.MovingAverageOutlierRemover(in, "v", cleaning.DefaultRollingWindow, cleaning.DefaultRollingThreshold)
		require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, ids(out))
	})

	t.Run("zero deviation keeps", func(t *testing.T) {
		in := records("v", 4, 4, 4, 4)
		out := cleaning.MovingAverageOutlierRemover(in, "v", 3, 2)
		require.Equal(t, ids(in), ids(out))
	})

	t.Run("first record has undefined deviation", func(t *testing.T) {
		in := records("v", 1000, 1, 1)
		out := cleaning.MovingAverageOutlierRemover(in, "v", 10, 0.1)
		require.Equal(t, 0, ids(out)[0])
	})

	t.Run("non numeric passes through", func(t *testing.T) {
		in := records("v", 10, "gap", nil, 10, 11, 10)
		out := cleaning.MovingAverageOutlierRemover(in, "v", 4, 2)
		require.Equal(t, ids(in), ids(out))
	})

	t.Run("empty", func(t *testing.T) {
		out := cleaning.MovingAverageOutlierRemover([]cleaning.Record(nil), "v", 10, 2)
		require.NotNil(t, out)
		require.Empty(t, out)
	})

	t.Run("window below one keeps everything", func(t *testing.T) {
		in := records("v", 1, 500, 2, -300)
		require.Equal(t, ids(in), ids(cleaning.MovingAverageOutlierRemover(in, "v", 0, 2)))
	})

	t.Run("causal", func(t *testing.T) {
		base := records("v", 10, 11, 10, 12, 30, 11, 10, 9)
		changed := records("v", 10, 11, 10, 12, 30, -5000, 8000, 1)

		full := ids(cleaning.MovingAverageOutlierRemover(base, "v", 4, 1))
		alt := ids(cleaning.MovingAverageOutlierRemover(changed, "v", 4, 1))
		require.Equal(t, prefixBelow(full, 5), prefixBelow(alt, 5),
			"decisions at or before index 4 must not see later records")
	})
}

func TestNaNIsKeptByBothFilters(t *testing.T) {
	in := records("v", 10, 12, 11, 13, math.NaN())
	require.Equal(t, []int{0, 1, 2, 3, 4}, ids(cleaning.IQROutlierRemover(in, "v")))
	require.Equal(t, []int{0, 1, 2, 3, 4}, ids(cleaning.MovingAverageOutlierRemover(in, "v", 3, 2)))
}

func TestRollingFilterDefaults(t *testing.T) {
	f := cleaning.NewRollingFilter()
	require.Equal(t, 10, f.Window)
	require.Equal(t, 2.0, f.Threshold)

	in := records("v", 10, 10, 11, 10, 9, 10, 11, 10, 10, 50)
	require.Len(t, f.Remove(in, "v"), 9)
	require.Len(t, cleaning.IQRRemover{}.Remove(in, "v"), 9)
}

func TestNumeric(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float", 1.5, 1.5, true},
		{"int", 3, 3, true},
		{"uint8", uint8(7), 7, true},
		{"json number", json.Number("2.25"), 2.25, true},
		{"bad json number", json.Number("x"), 0, false},
		{"nan", math.NaN(), 0, false},
		{"string", "1", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := cleaning.Numeric(cleaning.Record{"v": tc.in}, "v")
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}

	_, ok := cleaning.Numeric(cleaning.Record{}, "v")
	require.False(t, ok)
}

func isSubsequence(full, sub []int) bool {
	j := 0
	for _, x := range full {
		if j < len(sub) && sub[j] == x {
			j++
		}
	}
	return j == len(sub)
}

func prefixBelow(xs []int, limit int) []int {
	out := []int{}
	for _, x := range xs {
		if x < limit {
			out = append(out, x)
		}
	}
	return out
}
