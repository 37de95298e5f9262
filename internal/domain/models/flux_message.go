package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// FluxMessage is the wire form of one observation on the Kafka topic.
type FluxMessage struct {
	Dataset string   `json:"dataset"`
	T       int64    `json:"t"` // unix millis
	Obs     *float64 `json:"obs"`
	Adj     *float64 `json:"adj"`
}

// NewFluxMessage converts an observation for publishing.
func NewFluxMessage(dataset string, o Observation) FluxMessage {
	return FluxMessage{
		Dataset: dataset,
		T:       o.Time.UnixMilli(),
		Obs:     o.ObservedFlux,
		Adj:     o.AdjustedFlux,
	}
}

// Observation converts the message back.
func (m FluxMessage) Observation() Observation {
	return Observation{
		Time:         time.UnixMilli(m.T).UTC(),
		ObservedFlux: m.Obs,
		AdjustedFlux: m.Adj,
	}
}

// DecodeFluxMessage parses and validates a message payload.
func DecodeFluxMessage(data []byte) (FluxMessage, error) {
	var m FluxMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode flux message: %w", err)
	}
	if m.Dataset == "" {
		return m, fmt.Errorf("decode flux message: dataset empty")
	}
	if m.T == 0 {
		return m, fmt.Errorf("decode flux message: time missing")
	}
	return m, nil
}
