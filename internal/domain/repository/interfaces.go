package repository

import (
	"context"
	"time"

	"FluxDash/internal/domain/models"
)

// FluxSource fetches a full series from the upstream data provider.
type FluxSource interface {
	Fetch(ctx context.Context, from, to time.Time) (*models.Series, error)
	Dataset() string
}

type Publisher interface {
	PublishBatch(ctx context.Context, dataset string, obs []models.Observation) error
	Close() error
}

type Storage interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreBatch(ctx context.Context, dataset string, obs []models.Observation) error
	Query(ctx context.Context, dataset string, from, to time.Time, limit int) ([]models.Observation, error)
	Latest(ctx context.Context, dataset string, n int) ([]models.Observation, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// Broadcaster fans refresh events out to live subscribers.
type Broadcaster interface {
	Broadcast(ev models.SeriesEvent)
}

type Metrics interface {
	RecordFetch(source string, rows int)
	RecordStored(backend string, rows int)
	RecordError(kind string)
	RecordLastFlux(field string, value float64)
	RecordLatency(op string, seconds float64)
	RecordRemoved(model string, rows int)
}
