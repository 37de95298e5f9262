package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FluxDash/internal/domain/models"
	"FluxDash/internal/middleware"
	"FluxDash/internal/testutil"
	pkgcache "FluxDash/pkg/cache"
	"FluxDash/pkg/config"
)

type collectorFixture struct {
	source  *testutil.Source
	store   *testutil.Storage
	cache   *pkgcache.MemoryCache
	metrics *testutil.Metrics
	bc      *testutil.Broadcaster
	exp     *FluxExplorer
	col     *FluxCollector
}

func newCollectorFixture(t *testing.T, opts ...CollectorOption) *collectorFixture {
	t.Helper()
	f := &collectorFixture{
		source:  testutil.NewSource(sevenDays()),
		store:   testutil.NewStorage(),
		cache:   pkgcache.NewMemoryCache(),
		metrics: testutil.NewMetrics(),
		bc:      &testutil.Broadcaster{},
	}
	t.Cleanup(func() { f.cache.Close() })

	proc := NewFluxProcessor(config.BackendClickHouse, nil, f.store, f.metrics, 100)
	pipe := middleware.NewObservationPipeline(proc, f.metrics)
	f.exp = NewFluxExplorer(f.source, f.cache, f.metrics)
	opts = append([]CollectorOption{WithBroadcaster(f.bc), WithSeedStorage(f.store), WithInterval(0)}, opts...)
	f.col = NewFluxCollector(f.source, f.exp, pipe, f.cache, f.metrics, opts...)
	return f
}

func TestCollectorCollect(t *testing.T) {
	f := newCollectorFixture(t)
	ctx := context.Background()

	ev, err := f.col.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventSeriesRefreshed, ev.Type)
	assert.Equal(t, dataset, ev.Dataset)
	assert.Equal(t, 7, ev.Count)
	assert.Equal(t, 7, ev.Added)
	require.NotNil(t, ev.Last)
	assert.Equal(t, testutil.Day(2024, 3, 7), ev.Last.Time)

	assert.Equal(t, 7, f.store.Len(dataset))
	assert.Equal(t, 155.0, f.metrics.LastFlux[models.FieldObservedFlux])
	require.Len(t, f.bc.Events(), 1)

	// the cache now serves the collected series
	s, err := f.exp.LoadSeries(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, s.Source)
	assert.Equal(t, 1, f.source.Calls())

	ev, err = f.col.Collect(ctx)
	require.NoError(t, err)
	assert.Zero(t, ev.Added)
	assert.Len(t, f.bc.Events(), 2)
}

func TestCollectorBusy(t *testing.T) {
	f := newCollectorFixture(t)
	ctx := context.Background()

	ok, err := f.cache.TryLock(ctx, "lock:collect:"+dataset, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.col.Collect(ctx)
	assert.ErrorIs(t, err, ErrCollectBusy)
	assert.Zero(t, f.source.Calls())
}

func TestCollectorFetchError(t *testing.T) {
	f := newCollectorFixture(t)
	f.source.Set(nil, errors.New("timeout"))

	_, err := f.col.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, f.bc.Events())
	assert.Equal(t, 1, f.metrics.ErrorCount("collect_fetch"))

	// lock released after failure
	f.source.Set(sevenDays(), nil)
	_, err = f.col.Collect(context.Background())
	assert.NoError(t, err)
}

func TestCollectorSeedsFromStorage(t *testing.T) {
	f := newCollectorFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.StoreBatch(ctx, dataset, sevenDays()[:5]))

	require.NoError(t, f.col.Start(ctx))
	defer f.col.Stop()

	ev, err := f.col.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Added)
	assert.Error(t, f.col.Start(ctx), "already running")
}

func TestCollectorScheduledPoll(t *testing.T) {
	f := newCollectorFixture(t, WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.col.Start(ctx))
	assert.Eventually(t, func() bool { return len(f.bc.Events()) >= 2 }, time.Second, 5*time.Millisecond)

	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	require.NoError(t, f.col.Shutdown(sctx))

	n := f.source.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, f.source.Calls())
}
