package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
	"FluxDash/pkg/config"
)

// FluxProcessor routes accepted observations to the configured backend.
type FluxProcessor struct {
	pub     domrepo.Publisher
	store   domrepo.Storage
	metrics domrepo.Metrics
	backend string
	batchSz int
}

// NewFluxProcessor returns a processor for backend. pub is required for the
// kafka backend and store for the clickhouse backend; either may be nil otherwise.
func NewFluxProcessor(backend string, pub domrepo.Publisher, store domrepo.Storage, metrics domrepo.Metrics, batchSize int) *FluxProcessor {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &FluxProcessor{pub: pub, store: store, metrics: metrics, backend: backend, batchSz: batchSize}
}

// Backend returns the configured backend type.
func (p *FluxProcessor) Backend() string { return p.backend }

// ProcessBatch forwards obs in chunks of the configured batch size.
func (p *FluxProcessor) ProcessBatch(ctx context.Context, dataset string, obs []models.Observation) error {
	if len(obs) == 0 || p.backend == config.BackendNone {
		return nil
	}
	start := time.Now()
	for i := 0; i < len(obs); i += p.batchSz {
		chunk := obs[i:min(i+p.batchSz, len(obs))]
		if err := p.send(ctx, dataset, chunk); err != nil {
			p.metrics.RecordError("process_" + p.backend)
			return fmt.Errorf("process batch (%s): %w", p.backend, err)
		}
		p.metrics.RecordStored(p.backend, len(chunk))
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

func (p *FluxProcessor) send(ctx context.Context, dataset string, obs []models.Observation) error {
	switch p.backend {
	case config.BackendKafka:
		if p.pub == nil {
			return errors.New("publisher not configured")
		}
		return p.pub.PublishBatch(ctx, dataset, obs)
	case config.BackendClickHouse:
		if p.store == nil {
			return errors.New("storage not configured")
		}
		return p.store.StoreBatch(ctx, dataset, obs)
	default:
		return fmt.Errorf("unknown backend %q", p.backend)
	}
}

// Close releases the publisher. Storage is closed by its owner.
func (p *FluxProcessor) Close() error {
	if p.pub != nil {
		return p.pub.Close()
	}
	return nil
}
