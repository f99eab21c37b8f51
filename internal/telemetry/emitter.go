// Package telemetry forwards canonical events received by the ingest server to their sinks.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/producer"
)

// EventEmitter emits canonical events (e.g. to Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

// ProducerEmitter publishes events as JSON through a producer. Messages are keyed by the
// Telegram id so one user's events stay on one partition.
type ProducerEmitter struct {
	producer  producer.Producer
	projectID string
}

// NewProducerEmitter returns an EventEmitter backed by p. projectID is attached as a header.
func NewProducerEmitter(p producer.Producer, projectID string) *ProducerEmitter {
	return &ProducerEmitter{producer: p, projectID: projectID}
}

func (e *ProducerEmitter) Emit(ctx context.Context, event domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("telemetry: marshal event: %w", err)
	}
	return e.producer.Emit(ctx, producer.Message{
		Key:   []byte(event.TelegramID),
		Value: value,
		Headers: map[string]string{
			"event_name": event.EventName,
			"project_id": e.projectID,
		},
	})
}
