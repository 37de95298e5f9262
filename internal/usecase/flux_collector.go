package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
	"FluxDash/internal/middleware"
	pkgcache "FluxDash/pkg/cache"
	applogger "FluxDash/pkg/logger"
)

// EventSeriesRefreshed is broadcast after every successful collection.
const EventSeriesRefreshed = "series.refreshed"

// ErrCollectBusy is returned when another collection holds the lock.
var ErrCollectBusy = errors.New("collection already running")

// FluxCollector polls the source, forwards new observations through the
// pipeline, refreshes the cached series and notifies subscribers.
type FluxCollector struct {
	source      domrepo.FluxSource
	explorer    *FluxExplorer
	pipeline    *middleware.ObservationPipeline
	store       domrepo.Storage
	broadcaster domrepo.Broadcaster
	locker      pkgcache.Service
	metrics     domrepo.Metrics
	log         *applogger.Logger
	interval    time.Duration
	lockTTL     time.Duration
	now         func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type CollectorOption func(*FluxCollector)

// WithInterval sets the poll interval. Zero disables scheduled polling.
func WithInterval(d time.Duration) CollectorOption {
	return func(c *FluxCollector) { c.interval = d }
}

// WithSeedStorage seeds the pipeline cursor from the newest stored observation on Start.
func WithSeedStorage(store domrepo.Storage) CollectorOption {
	return func(c *FluxCollector) { c.store = store }
}

func WithBroadcaster(b domrepo.Broadcaster) CollectorOption {
	return func(c *FluxCollector) { c.broadcaster = b }
}

func WithCollectorLogger(l *applogger.Logger) CollectorOption {
	return func(c *FluxCollector) {
		if l != nil {
			c.log = l
		}
	}
}

func NewFluxCollector(source domrepo.FluxSource, explorer *FluxExplorer, pipeline *middleware.ObservationPipeline,
	locker pkgcache.Service, metrics domrepo.Metrics, opts ...CollectorOption) *FluxCollector {
	c := &FluxCollector{
		source:   source,
		explorer: explorer,
		pipeline: pipeline,
		locker:   locker,
		metrics:  metrics,
		log:      applogger.Nop(),
		interval: time.Hour,
		lockTTL:  time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("collector")
	return c
}

func (c *FluxCollector) lockKey() string {
	return pkgcache.GenerateKey("lock", "collect:"+c.source.Dataset())
}

// Collect runs one collection cycle and returns the broadcast event.
// Downstream failures are buffered by the pipeline and only logged.
func (c *FluxCollector) Collect(ctx context.Context) (*models.SeriesEvent, error) {
	key := c.lockKey()
	ok, err := c.locker.TryLock(ctx, key, c.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("collect lock: %w", err)
	}
	if !ok {
		return nil, ErrCollectBusy
	}
	defer func() {
		if err := c.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			c.log.Warn("collect unlock failed", applogger.Error(err))
		}
	}()

	start := c.now()
	dataset := c.source.Dataset()
	s, err := c.source.Fetch(ctx, time.Time{}, time.Time{})
	if err != nil {
		c.metrics.RecordError("collect_fetch")
		return nil, fmt.Errorf("collect fetch: %w: %w", ErrUnavailable, err)
	}
	c.metrics.RecordFetch(models.SourceUpstream, s.Len())

	added, perr := c.pipeline.Process(ctx, dataset, s.Observations)
	if perr != nil {
		c.log.Warn("collect forward failed, batch buffered",
			applogger.String("dataset", dataset), applogger.Error(perr))
	}

	if err := c.explorer.Prime(ctx, s); err != nil {
		c.metrics.RecordError("cache_set")
		c.log.Warn("collect cache refresh failed", applogger.Error(err))
	}

	ev := models.SeriesEvent{
		Type:      EventSeriesRefreshed,
		Dataset:   dataset,
		Count:     s.Len(),
		Added:     len(added),
		Timestamp: c.now().UTC(),
	}
	if last, ok := s.Last(); ok {
		ev.Last = &last
		if last.ObservedFlux != nil {
			c.metrics.RecordLastFlux(models.FieldObservedFlux, *last.ObservedFlux)
		}
		if last.AdjustedFlux != nil {
			c.metrics.RecordLastFlux(models.FieldAdjustedFlux, *last.AdjustedFlux)
		}
	}
	if c.broadcaster != nil {
		c.broadcaster.Broadcast(ev)
	}

	c.metrics.RecordLatency("collect", c.now().Sub(start).Seconds())
	c.log.Info("collector refresh ok",
		applogger.String("dataset", dataset),
		applogger.Int("rows", s.Len()),
		applogger.Int("added", len(added)),
		applogger.Duration("took", c.now().Sub(start)))
	return &ev, nil
}

// Start seeds the pipeline, starts its flusher and launches the poll loop.
func (c *FluxCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("collector already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.seed(ctx)
	c.pipeline.Start(ctx)

	if c.interval <= 0 {
		c.log.Info("scheduled polling disabled")
		return nil
	}
	c.wg.Add(1)
	go c.loop(ctx)
	c.log.Info("collector started", applogger.Duration("interval", c.interval))
	return nil
}

func (c *FluxCollector) seed(ctx context.Context) {
	if c.store == nil {
		return
	}
	latest, err := c.store.Latest(ctx, c.source.Dataset(), 1)
	if err != nil {
		c.log.Warn("collector seed failed", applogger.Error(err))
		return
	}
	if len(latest) > 0 {
		c.pipeline.Seed(c.source.Dataset(), latest[len(latest)-1].Time)
		c.log.Info("collector seeded", applogger.Time("last", latest[len(latest)-1].Time))
	}
}

func (c *FluxCollector) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.tick(ctx)
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *FluxCollector) tick(ctx context.Context) {
	if _, err := c.Collect(ctx); err != nil {
		if errors.Is(err, ErrCollectBusy) {
			c.log.Debug("collect skipped, lock held")
			return
		}
		c.log.Error("scheduled collect failed", applogger.Error(err))
	}
}

// Stop stops polling and the pipeline flusher.
func (c *FluxCollector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.pipeline.Stop()
	c.log.Info("collector stopped")
}

// Shutdown stops the collector, giving up when ctx is done.
func (c *FluxCollector) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("collector shutdown: %w", ctx.Err())
	}
}
