package usecase

import (
	"context"
	"time"

	"FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
	pkgkafka "FluxDash/pkg/kafka"
)

// KafkaFluxHandler consumes flux messages and writes them to storage.
type KafkaFluxHandler struct {
	topic   string
	storage domrepo.Storage
	metrics domrepo.Metrics
}

func NewKafkaFluxHandler(topic string, storage domrepo.Storage, metrics domrepo.Metrics) *KafkaFluxHandler {
	return &KafkaFluxHandler{topic: topic, storage: storage, metrics: metrics}
}

func (h *KafkaFluxHandler) Topic() string { return h.topic }

// message schema: {dataset, t (ms), obs, adj}
func (h *KafkaFluxHandler) Handle(ctx context.Context, b []byte) error {
	m, err := models.DecodeFluxMessage(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}

	start := time.Now()
	err = h.storage.StoreBatch(ctx, m.Dataset, []models.Observation{m.Observation()})
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordStored("clickhouse", 1)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaFluxHandler)(nil)
