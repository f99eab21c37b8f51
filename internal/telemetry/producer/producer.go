// Package producer defines the interface for publishing telemetry payloads (e.g. to Kafka).
package producer

import "context"

// Message is one payload to publish. Headers become transport-level metadata.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer publishes messages. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single message. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, msg Message) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
