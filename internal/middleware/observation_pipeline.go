package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
	applogger "FluxDash/pkg/logger"
)

// BatchProc is the minimal processor interface the pipeline needs.
type BatchProc interface {
	ProcessBatch(ctx context.Context, dataset string, obs []models.Observation) error
}

type batch struct {
	dataset string
	obs     []models.Observation
	prev    time.Time
}

// ObservationPipeline sits between the source poller and the processor.
// It validates observations, forwards only those newer than the last
// accepted one per dataset, and buffers batches while downstream fails.
type ObservationPipeline struct {
	proc       BatchProc
	metrics    domrepo.Metrics
	log        *applogger.Logger
	bufSize    int
	bufCh      chan batch
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
	mu         sync.Mutex
	lastSeen   map[string]time.Time
	backoffMin time.Duration
	backoffMax time.Duration
}

type PipelineOption func(*ObservationPipeline)

// WithBufferSize sets how many batches are held while downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *ObservationPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBackoff sets the retry backoff range for buffered batches.
func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *ObservationPipeline) {
		if min > 0 {
			p.backoffMin = min
		}
		if max >= p.backoffMin {
			p.backoffMax = max
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) PipelineOption {
	return func(p *ObservationPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewObservationPipeline creates a new pipeline.
func NewObservationPipeline(proc BatchProc, metrics domrepo.Metrics, opts ...PipelineOption) *ObservationPipeline {
	p := &ObservationPipeline{
		proc:       proc,
		metrics:    metrics,
		log:        applogger.Nop(),
		bufSize:    64,
		lastSeen:   make(map[string]time.Time),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan batch, p.bufSize)
	p.log = p.log.Named("pipeline")
	return p
}

// Seed sets the last accepted time for dataset, typically from storage on startup.
func (p *ObservationPipeline) Seed(dataset string, t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.After(p.lastSeen[dataset]) {
		p.lastSeen[dataset] = t
	}
}

// Last returns the last accepted time for dataset.
func (p *ObservationPipeline) Last(dataset string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen[dataset]
}

// Start launches background flushing of buffered batches. A stopped pipeline
// can be started again.
func (p *ObservationPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.flush(ctx, p.stopCh, p.doneCh)
}

func (p *ObservationPipeline) flush(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	backoff := p.backoffMin
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case b := <-p.bufCh:
			if err := p.proc.ProcessBatch(ctx, b.dataset, b.obs); err != nil {
				p.metrics.RecordError("pipeline_flush")
				backoff = min(backoff*2, p.backoffMax)
				select {
				case <-time.After(backoff):
				case <-stop:
					return
				}
				p.enqueue(b)
				continue
			}
			backoff = p.backoffMin
			p.log.Info("buffered batch flushed",
				applogger.String("dataset", b.dataset),
				applogger.Int("rows", len(b.obs)))
		}
	}
}

// Stop stops the background flushing and waits for it to exit.
func (p *ObservationPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	stop, done := p.stopCh, p.doneCh
	p.mu.Unlock()
	close(stop)
	<-done
}

// Buffered returns the number of batches waiting for downstream.
func (p *ObservationPipeline) Buffered() int { return len(p.bufCh) }

// Process forwards the new, valid part of obs (ascending by time) and
// returns it. On downstream failure the batch is buffered for retry and the
// error is returned alongside the accepted observations.
func (p *ObservationPipeline) Process(ctx context.Context, dataset string, obs []models.Observation) ([]models.Observation, error) {
	start := time.Now()

	p.mu.Lock()
	prev := p.lastSeen[dataset]
	last := prev
	accepted := make([]models.Observation, 0, 16)
	invalid := 0
	for _, o := range obs {
		if err := validateObservation(o); err != nil {
			invalid++
			continue
		}
		if !o.Time.After(last) {
			continue
		}
		accepted = append(accepted, o)
		last = o.Time
	}
	p.lastSeen[dataset] = last
	p.mu.Unlock()

	if invalid > 0 {
		p.metrics.RecordError("pipeline_validate")
		p.log.Warn("invalid observations dropped",
			applogger.String("dataset", dataset), applogger.Int("rows", invalid))
	}
	if len(accepted) == 0 {
		return nil, nil
	}

	if err := p.proc.ProcessBatch(ctx, dataset, accepted); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.enqueue(batch{dataset: dataset, obs: accepted, prev: prev})
		return accepted, fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return accepted, nil
}

// enqueue buffers b without blocking. A dropped batch rewinds the dataset
// cursor so the next poll offers those observations again.
func (p *ObservationPipeline) enqueue(b batch) {
	select {
	case p.bufCh <- b:
	default:
		p.metrics.RecordError("pipeline_buffer_drop")
		p.mu.Lock()
		if b.prev.Before(p.lastSeen[b.dataset]) {
			p.lastSeen[b.dataset] = b.prev
		}
		p.mu.Unlock()
		p.log.Warn("buffer full, batch dropped",
			applogger.String("dataset", b.dataset), applogger.Int("rows", len(b.obs)))
	}
}

func validateObservation(o models.Observation) error {
	if o.Time.IsZero() {
		return fmt.Errorf("time missing")
	}
	for _, v := range []*float64{o.ObservedFlux, o.AdjustedFlux} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("flux not finite")
		}
		if *v < 0 {
			return fmt.Errorf("negative flux")
		}
	}
	return nil
}
