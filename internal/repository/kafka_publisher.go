package repository

import (
	"context"

	"FluxDash/internal/domain/models"
	"FluxDash/internal/domain/repository"
	pkgkafka "FluxDash/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka. Messages are keyed by
// dataset so a dataset stays on one partition and keeps its order.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) PublishBatch(ctx context.Context, dataset string, obs []models.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	return p.producer.PublishBatch(ctx, p.topic, EncodeBatch(dataset, obs))
}

// EncodeBatch maps observations to producer messages.
func EncodeBatch(dataset string, obs []models.Observation) []pkgkafka.Message {
	msgs := make([]pkgkafka.Message, len(obs))
	for i, o := range obs {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(dataset),
			Value:   models.NewFluxMessage(dataset, o),
			Headers: map[string]string{"content_type": "application/json"},
		}
	}
	return msgs
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
