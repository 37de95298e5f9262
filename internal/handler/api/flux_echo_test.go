package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FluxDash/internal/middleware"
	"FluxDash/internal/testutil"
	"FluxDash/internal/usecase"
	pkgcache "FluxDash/pkg/cache"
	"FluxDash/pkg/config"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	e      *echo.Echo
	source *testutil.Source
	store  *testutil.Storage
	cache  *pkgcache.MemoryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, nil)
}

// newFixtureWithLocker uses locker for the collect lock, or the series cache when nil.
func newFixtureWithLocker(t *testing.T, locker pkgcache.Service) *fixture {
	t.Helper()
	f := &fixture{
		source: testutil.NewSource(testutil.DailySeries(testutil.Day(2024, 1, 1),
			testutil.F(70), testutil.F(71), testutil.F(72), testutil.F(73), testutil.F(74), testutil.F(500))),
		store: testutil.NewStorage(),
		cache: pkgcache.NewMemoryCache(),
		e:     echo.New(),
	}
	t.Cleanup(func() { f.cache.Close() })

	if locker == nil {
		locker = f.cache
	}
	m := testutil.NewMetrics()
	exp := usecase.NewFluxExplorer(f.source, f.cache, m, usecase.WithStorageFallback(f.store, 100))
	proc := usecase.NewFluxProcessor(config.BackendClickHouse, nil, f.store, m, 100)
	col := usecase.NewFluxCollector(f.source, exp, middleware.NewObservationPipeline(proc, m), locker, m,
		usecase.WithInterval(0))
	NewFluxEchoHandler(nil, exp, col).WithHealthStorage(config.BackendClickHouse, f.store).RegisterRoutes(f.e)
	return f
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestSeriesEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/api/flux/series?outliers=true&ma=true&window=3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=900", rec.Header().Get(echo.HeaderCacheControl))

	var chart struct {
		Field         string     `json:"field"`
		Total         int        `json:"total"`
		Removed       int        `json:"removed"`
		Values        []*float64 `json:"values"`
		MovingAverage []*float64 `json:"moving_average"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &chart))
	assert.Equal(t, "observed_flux", chart.Field)
	assert.Equal(t, 5, chart.Total)
	assert.Equal(t, 1, chart.Removed)
	require.Len(t, chart.MovingAverage, 5)
	assert.Nil(t, chart.MovingAverage[1])
	assert.InDelta(t, 73.0, *chart.MovingAverage[4], 1e-9)
}

func TestSeriesValidation(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/flux/series?window=5&model=kalman")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var verrs []struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &verrs))
	require.Len(t, verrs, 2)
	fields := []string{verrs[0].Field, verrs[1].Field}
	assert.ElementsMatch(t, []string{"model", "window"}, fields)
	assert.Equal(t, "ERR_ONEOF", verrs[0].Code)

	rec, env = f.do(t, http.MethodGet, "/api/flux/series?from=2024-02-01&to=2024-01-01")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_INVALID_RANGE")

	rec, _ = f.do(t, http.MethodGet, "/api/flux/series?threshold=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.source.Calls())
}

func TestRowsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/api/flux/rows?page=2&limit=4&from=2024-01-01")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Rows []struct {
			Time         time.Time `json:"time"`
			ObservedFlux *float64  `json:"observed_flux"`
		} `json:"rows"`
		Total int `json:"total"`
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 6, list.Total)
	assert.Equal(t, 2, list.Page)
	require.Len(t, list.Rows, 2)
	assert.Equal(t, testutil.Day(2024, 1, 2), list.Rows[0].Time)
	assert.Equal(t, 70.0, *list.Rows[1].ObservedFlux)
}

func TestSummaryEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodGet, "/api/flux/summary?field=adjusted_flux")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum struct {
		Field string  `json:"field"`
		Count int     `json:"count"`
		Max   float64 `json:"max"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sum))
	assert.Equal(t, "adjusted_flux", sum.Field)
	assert.Equal(t, 6, sum.Count)
	assert.InDelta(t, 485.0, sum.Max, 1e-9)
}

func TestUnavailableIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.source.Set(nil, errors.New("upstream 503"))

	rec, env := f.do(t, http.MethodGet, "/api/flux/series")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, http.StatusBadGateway, env.Status)
	assert.Contains(t, string(env.Data), "ERR_UPSTREAM")
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, env := f.do(t, http.MethodPost, "/api/flux/refresh")
	require.Equal(t, http.StatusOK, rec.Code)

	var ev struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
		Added int    `json:"added"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, usecase.EventSeriesRefreshed, ev.Type)
	assert.Equal(t, 6, ev.Count)
	assert.Equal(t, 6, ev.Added)
	assert.Equal(t, 6, f.store.Len("penticton_radio_flux"))

	ok, err := f.cache.TryLock(context.Background(), "lock:collect:penticton_radio_flux", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	rec, env = f.do(t, http.MethodPost, "/api/flux/refresh")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_CONFLICT")
}

func TestRefreshUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.source.Set(nil, errors.New("timeout"))
	rec, _ := f.do(t, http.MethodPost, "/api/flux/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type brokenLocker struct {
	*pkgcache.MemoryCache
}

func (brokenLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestRefreshLockErrorIsInternal(t *testing.T) {
	locker := brokenLocker{pkgcache.NewMemoryCache()}
	t.Cleanup(func() { locker.Close() })
	f := newFixtureWithLocker(t, locker)

	rec, env := f.do(t, http.MethodPost, "/api/flux/refresh")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, string(env.Data), "ERR_UPSTREAM")
	assert.Zero(t, f.source.Calls())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.store.Err = errors.New("down")
	rec, env := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "degraded")
}
