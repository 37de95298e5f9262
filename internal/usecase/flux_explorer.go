package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
	"FluxDash/internal/domain/service"
	"FluxDash/internal/services/cleaning"
	pkgcache "FluxDash/pkg/cache"
	applogger "FluxDash/pkg/logger"
)

// ErrUnavailable is returned when neither the upstream source nor storage
// can provide the series.
var ErrUnavailable = errors.New("flux series unavailable")

// FluxExplorer loads the flux series and shapes it for the chart and grid views.
type FluxExplorer struct {
	source       domrepo.FluxSource
	store        domrepo.Storage
	cache        pkgcache.Service
	metrics      domrepo.Metrics
	log          *applogger.Logger
	ttl          time.Duration
	fallbackRows int
	rollWindow   int
	rollThresh   float64
	group        singleflight.Group
}

type ExplorerOption func(*FluxExplorer)

// WithStorageFallback enables reading the newest rows from storage when the
// upstream fetch fails.
func WithStorageFallback(store domrepo.Storage, rows int) ExplorerOption {
	return func(e *FluxExplorer) {
		e.store = store
		if rows > 0 {
			e.fallbackRows = rows
		}
	}
}

func WithCacheTTL(ttl time.Duration) ExplorerOption {
	return func(e *FluxExplorer) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithRollingDefaults sets the rolling model parameters used when a request leaves them unset.
func WithRollingDefaults(window int, threshold float64) ExplorerOption {
	return func(e *FluxExplorer) {
		if window > 0 {
			e.rollWindow = window
		}
		if threshold > 0 {
			e.rollThresh = threshold
		}
	}
}

func WithExplorerLogger(l *applogger.Logger) ExplorerOption {
	return func(e *FluxExplorer) {
		if l != nil {
			e.log = l
		}
	}
}

func NewFluxExplorer(source domrepo.FluxSource, cache pkgcache.Service, metrics domrepo.Metrics, opts ...ExplorerOption) *FluxExplorer {
	e := &FluxExplorer{
		source:       source,
		cache:        cache,
		metrics:      metrics,
		log:          applogger.Nop(),
		ttl:          15 * time.Minute,
		fallbackRows: 50000,
		rollWindow:   10,
		rollThresh:   2,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("explorer")
	return e
}

// Dataset returns the dataset served by the explorer.
func (e *FluxExplorer) Dataset() string { return e.source.Dataset() }

// CacheTTL returns how long a loaded series stays fresh.
func (e *FluxExplorer) CacheTTL() time.Duration { return e.ttl }

func (e *FluxExplorer) cacheKey() string {
	return pkgcache.GenerateKeyWithParams("series", e.source.Dataset())
}

// LoadSeries returns the series from cache, then upstream, then storage.
// Concurrent upstream loads share one fetch.
func (e *FluxExplorer) LoadSeries(ctx context.Context) (*models.Series, error) {
	key := e.cacheKey()

	var cached models.Series
	err := e.cache.Get(ctx, key, &cached)
	if err == nil {
		cached.Source = models.SourceCache
		e.metrics.RecordFetch(models.SourceCache, cached.Len())
		return &cached, nil
	}
	if !errors.Is(err, pkgcache.ErrCacheMiss) {
		e.metrics.RecordError("cache_get")
		e.log.Warn("cache get failed", applogger.String("key", key), applogger.Error(err))
	}

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.fetchUpstream(context.WithoutCancel(ctx))
	})
	if err == nil {
		return v.(*models.Series), nil
	}

	e.metrics.RecordError("upstream_fetch")
	e.log.Warn("upstream fetch failed", applogger.String("dataset", e.source.Dataset()), applogger.Error(err))

	s, ferr := e.fromStorage(ctx)
	if ferr != nil {
		return nil, fmt.Errorf("%w: upstream: %v; storage: %v", ErrUnavailable, err, ferr)
	}
	return s, nil
}

func (e *FluxExplorer) fetchUpstream(ctx context.Context) (*models.Series, error) {
	start := time.Now()
	s, err := e.source.Fetch(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordFetch(models.SourceUpstream, s.Len())
	e.metrics.RecordLatency("upstream_fetch", time.Since(start).Seconds())

	if err := e.cache.Set(ctx, e.cacheKey(), s, e.ttl); err != nil {
		e.metrics.RecordError("cache_set")
		e.log.Warn("cache set failed", applogger.Error(err))
	}
	return s, nil
}

func (e *FluxExplorer) fromStorage(ctx context.Context) (*models.Series, error) {
	if e.store == nil {
		return nil, errors.New("no storage configured")
	}
	obs, err := e.store.Latest(ctx, e.source.Dataset(), e.fallbackRows)
	if err != nil {
		e.metrics.RecordError("storage_fallback")
		return nil, err
	}
	if len(obs) == 0 {
		return nil, errors.New("storage empty")
	}
	e.metrics.RecordFetch(models.SourceStorage, len(obs))
	e.log.Info("serving series from storage", applogger.Int("rows", len(obs)))
	return &models.Series{
		Dataset:      e.source.Dataset(),
		Source:       models.SourceStorage,
		FetchedAt:    time.Now().UTC(),
		Observations: obs,
	}, nil
}

// Refresh drops the cached series and loads it again.
func (e *FluxExplorer) Refresh(ctx context.Context) (*models.Series, error) {
	if err := e.cache.Delete(ctx, e.cacheKey()); err != nil {
		e.log.Warn("cache delete failed", applogger.Error(err))
	}
	return e.LoadSeries(ctx)
}

// Prime stores s as the cached series.
func (e *FluxExplorer) Prime(ctx context.Context, s *models.Series) error {
	return e.cache.Set(ctx, e.cacheKey(), s, e.ttl)
}

// clean windows the series and removes outliers when requested.
func (e *FluxExplorer) clean(s *models.Series, opts models.CleanOptions) (recs []cleaning.Record, removed int) {
	start := time.Now()
	recs = models.Records(s.Between(opts.From, opts.To))
	if !opts.RemoveOutliers {
		return recs, 0
	}

	window, threshold := opts.RollingWindow, opts.Threshold
	if window <= 0 {
		window = e.rollWindow
	}
	if threshold <= 0 {
		threshold = e.rollThresh
	}
	model := opts.Model
	if model != service.ModelRolling {
		model = service.ModelIQR
	}

	field := string(domrepo.NormalizeField(opts.Field))
	kept := service.NewOutlierRemover(model, window, threshold).Remove(recs, field)
	removed = len(recs) - len(kept)
	e.metrics.RecordRemoved(model, removed)
	e.metrics.RecordLatency("clean_"+model, time.Since(start).Seconds())
	return kept, removed
}

func movingAverage(recs []cleaning.Record, field string, opts models.CleanOptions) []*float64 {
	if !opts.MovingAverage || opts.Window < 1 {
		return nil
	}
	return cleaning.MovingAverage(recs, field, opts.Window)
}

func numericPtr(r cleaning.Record, field string) *float64 {
	if v, ok := cleaning.Numeric(r, field); ok {
		return &v
	}
	return nil
}

// Chart returns the cleaned series as parallel arrays, oldest first.
func (e *FluxExplorer) Chart(ctx context.Context, opts models.CleanOptions) (*models.ChartSeries, error) {
	s, err := e.LoadSeries(ctx)
	if err != nil {
		return nil, err
	}
	field := string(domrepo.NormalizeField(opts.Field))
	recs, removed := e.clean(s, opts)

	out := &models.ChartSeries{
		Dataset: s.Dataset,
		Field:   field,
		Source:  s.Source,
		Times:   make([]int64, len(recs)),
		Values:  make([]*float64, len(recs)),
		Total:   len(recs),
		Removed: removed,
	}
	if opts.RemoveOutliers {
		out.Model = opts.Model
	}
	for i, r := range recs {
		if ms, ok := cleaning.Numeric(r, models.FieldTime); ok {
			out.Times[i] = int64(ms)
		}
		out.Values[i] = numericPtr(r, field)
	}
	if ma := movingAverage(recs, field, opts); ma != nil {
		out.MovingAverage = ma
		out.Window = opts.Window
	}
	return out, nil
}

// Rows returns one page of the cleaned series, newest first, and the total row count.
func (e *FluxExplorer) Rows(ctx context.Context, opts models.CleanOptions, page, limit int) ([]models.GridRow, int, error) {
	s, err := e.LoadSeries(ctx)
	if err != nil {
		return nil, 0, err
	}
	field := string(domrepo.NormalizeField(opts.Field))
	recs, _ := e.clean(s, opts)
	ma := movingAverage(recs, field, opts)

	total := len(recs)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 100
	}
	offset := (page - 1) * limit
	if offset >= total {
		return []models.GridRow{}, total, nil
	}
	end := min(offset+limit, total)

	rows := make([]models.GridRow, 0, end-offset)
	for k := offset; k < end; k++ {
		i := total - 1 - k
		o := models.ObservationFromRecord(recs[i])
		row := models.GridRow{Time: o.Time, ObservedFlux: o.ObservedFlux, AdjustedFlux: o.AdjustedFlux}
		if ma != nil {
			row.MovingAverage = ma[i]
		}
		rows = append(rows, row)
	}
	return rows, total, nil
}

// Summary returns headline statistics of field over the whole series.
func (e *FluxExplorer) Summary(ctx context.Context, field string) (*models.Summary, error) {
	s, err := e.LoadSeries(ctx)
	if err != nil {
		return nil, err
	}
	f := string(domrepo.NormalizeField(field))
	out := &models.Summary{Dataset: s.Dataset, Field: f, Source: s.Source, Count: s.Len()}
	if s.Len() == 0 {
		return out, nil
	}
	out.First = s.Observations[0].Time
	out.Last = s.Observations[s.Len()-1].Time

	values := make([]float64, 0, s.Len())
	for _, o := range s.Observations {
		if v, ok := cleaning.Numeric(o.Record(), f); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return out, nil
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	mean, _ := cleaning.Mean(values)
	last := values[len(values)-1]
	out.LastValue, out.Min, out.Max, out.Mean = &last, &lo, &hi, &mean
	out.Avg27 = trailingMean(values, 27)
	out.Avg81 = trailingMean(values, 81)
	return out, nil
}

func trailingMean(values []float64, n int) *float64 {
	if len(values) < n {
		return nil
	}
	m, _ := cleaning.Mean(values[len(values)-n:])
	return &m
}
