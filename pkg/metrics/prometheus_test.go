package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWith(reg)

	r.RecordFetch("upstream", 30)
	r.RecordFetch("upstream", 2)
	r.RecordRemoved("iqr", 3)
	r.RecordLastFlux("observed_flux", 152.4)
	r.RecordError("fetch")

	assert.Equal(t, 32.0, testutil.ToFloat64(r.fetchedRows.WithLabelValues("upstream")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.removedRows.WithLabelValues("iqr")))
	assert.Equal(t, 152.4, testutil.ToFloat64(r.lastFlux.WithLabelValues("observed_flux")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("fetch")))
}
