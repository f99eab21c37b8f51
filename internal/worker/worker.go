// Package worker consumes Telemetree Kafka topics. One loop serves both consumers: the
// ingest side opens envelopes published by kafka delivery, and the Loki worker forwards
// canonical events.
package worker

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"telemetree/sdk/internal/telemetry"
	"telemetree/sdk/internal/telemetry/domain"
)

// ErrSkip marks a message the handler deliberately did not forward. Run logs it and moves on.
var ErrSkip = errors.New("worker: message skipped")

// readBackoff is the pause after a failed read so a broken broker does not spin the loop.
const readBackoff = time.Second

// Reader is the subset of *kafka.Reader the loop needs.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Handler processes one message.
type Handler func(ctx context.Context, msg kafka.Message) error

// Run reads messages until ctx is cancelled and hands each to h. Handler failures are
// logged and never stop the loop; offsets are committed by the reader.
func Run(ctx context.Context, r Reader, h Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("worker: kafka read", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readBackoff):
			}
			continue
		}
		switch err := h(ctx, msg); {
		case errors.Is(err, ErrSkip):
			logger.Warn("worker: message skipped", "topic", msg.Topic, "offset", msg.Offset, "reason", err)
		case err != nil:
			logger.Error("worker: message failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// EventSink forwards canonical event messages to emitter. Anything that does not decode
// into an event with a name (an envelope that reached the wrong topic, for instance) is skipped.
func EventSink(emitter telemetry.EventEmitter, timeout time.Duration) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev domain.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return fmt.Errorf("%w: not json: %v", ErrSkip, err)
		}
		if ev.EventName == "" {
			return fmt.Errorf("%w: no event_name", ErrSkip)
		}
		return emit(ctx, emitter, ev, timeout)
	}
}

// EnvelopeSink opens envelopes published by kafka delivery for projectID and forwards the
// events inside to emitter.
func EnvelopeSink(projectID string, priv crypto.PrivateKey, emitter telemetry.EventEmitter, timeout time.Duration) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		if got := header(msg, "x-project-id"); got != projectID {
			return fmt.Errorf("%w: project %q", ErrSkip, got)
		}
		ev, err := telemetry.OpenEvent(priv, msg.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSkip, err)
		}
		return emit(ctx, emitter, ev, timeout)
	}
}

func emit(ctx context.Context, emitter telemetry.EventEmitter, ev domain.Event, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := emitter.Emit(ctx, ev); err != nil {
		return fmt.Errorf("worker: emit %s: %w", ev.EventName, err)
	}
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
