package telemetry

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"

	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/envelope"
)

var (
	// ErrMalformedEnvelope is returned when the body is not a {key, iv, body} envelope.
	ErrMalformedEnvelope = errors.New("telemetry: malformed envelope")
	// ErrSealedEnvelope is returned when the envelope cannot be opened with the private key.
	ErrSealedEnvelope = errors.New("telemetry: cannot open envelope")
	// ErrInvalidEvent is returned when the opened plaintext is not an event.
	ErrInvalidEvent = errors.New("telemetry: invalid event")
)

// OpenEvent decodes an envelope, opens it with priv and decodes the canonical event inside.
// Both the HTTP endpoint and the Kafka envelope consumer accept exactly what OpenEvent accepts.
func OpenEvent(priv crypto.PrivateKey, raw []byte) (domain.Event, error) {
	var env envelope.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EncryptedKey == "" || env.EncryptedIV == "" || env.EncryptedBody == "" {
		return domain.Event{}, ErrMalformedEnvelope
	}
	plaintext, err := envelope.Decrypt(priv, env)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrSealedEnvelope, err)
	}
	var event domain.Event
	if err := json.Unmarshal(plaintext, &event); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.EventName == "" {
		return domain.Event{}, fmt.Errorf("%w: missing event_name", ErrInvalidEvent)
	}
	return event, nil
}
