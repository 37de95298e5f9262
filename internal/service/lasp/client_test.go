package lasp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xhttp "FluxDash/pkg/http"
)

const sample = `{"penticton_radio_flux":{"data":[
	[-694742400000, 97.6, 94.2],
	[-694656000000, null, 96.1],
	[-694569600000, 103.2],
	[null, 1, 2],
	[1]
]}}`

func TestParse(t *testing.T) {
	obs, skipped, err := Parse([]byte(sample), DefaultDataset)
	require.NoError(t, err)

	assert.Equal(t, 2, skipped)
	require.Len(t, obs, 3)
	assert.Equal(t, time.Date(1947, 12, 27, 0, 0, 0, 0, time.UTC), obs[0].Time)
	assert.Equal(t, 97.6, *obs[0].ObservedFlux)
	assert.Equal(t, 94.2, *obs[0].AdjustedFlux)
	assert.Nil(t, obs[1].ObservedFlux)
	assert.Nil(t, obs[2].AdjustedFlux)
}

func TestParseMixedCells(t *testing.T) {
	body := `{"x":{"data":[
		[1000, 70.1, 71.2],
		[2000, "NaN", 72.0],
		[3000, 69.0, true],
		["soon", 1, 2],
		[4000, {"v":1}, 73.5]
	]}}`
	obs, skipped, err := Parse([]byte(body), "x")
	require.NoError(t, err)

	assert.Equal(t, 1, skipped)
	require.Len(t, obs, 4)
	assert.Equal(t, 70.1, *obs[0].ObservedFlux)
	assert.Nil(t, obs[1].ObservedFlux)
	assert.Equal(t, 72.0, *obs[1].AdjustedFlux)
	assert.Equal(t, 69.0, *obs[2].ObservedFlux)
	assert.Nil(t, obs[2].AdjustedFlux)
	assert.Nil(t, obs[3].ObservedFlux)
	assert.Equal(t, int64(4000), obs[3].Time.UnixMilli())
}

func TestParseSortsByTime(t *testing.T) {
	body := `{"x":{"data":[[2000,2,2],[1000,1,1]]}}`
	obs, _, err := Parse([]byte(body), "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), obs[0].Time.UnixMilli())
}

func TestParseMissingDataset(t *testing.T) {
	_, _, err := Parse([]byte(`{"other":{"data":[]}}`), DefaultDataset)
	assert.ErrorContains(t, err, "missing")

	_, _, err = Parse([]byte(`not json`), DefaultDataset)
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/latis/dap/", "", nil, xhttp.WithRetries(0, 0))
	from := time.Date(1947, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := c.Fetch(context.Background(), from, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "/latis/dap/penticton_radio_flux.jsond", gotPath)
	assert.True(t, strings.HasPrefix(gotQuery, "time>=1947-01-01"))
	assert.NotContains(t, gotQuery, "time<=")
	assert.Equal(t, DefaultDataset, s.Dataset)
	assert.Equal(t, "upstream", s.Source)
	assert.Equal(t, 3, s.Len())
}

func TestFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, DefaultDataset, nil, xhttp.WithRetries(1, time.Millisecond))
	_, err := c.Fetch(context.Background(), time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "lasp fetch")
}

func TestSelection(t *testing.T) {
	assert.Empty(t, selection(time.Time{}, time.Time{}))
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "time<=2024-01-02T00%3A00%3A00Z", selection(time.Time{}, to))
}
