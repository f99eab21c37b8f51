package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"telemetree/sdk/internal/telemetry/producer"
)

// Kafka publishes request bodies to a Kafka topic instead of calling an HTTP endpoint.
// The target URL and method travel as message headers alongside the default headers.
// Credential headers are never written to the topic. A successful write is reported
// as 202 Accepted.
type Kafka struct {
	producer producer.Producer
	opts     atomic.Pointer[Options]
}

// credentialHeaders authenticate HTTP calls and must not be persisted in a topic
// that any consumer group can read.
var credentialHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
}

// NewKafka builds a Kafka transport from opts.KafkaBrokers and opts.KafkaTopic.
func NewKafka(opts Options) (*Kafka, error) {
	p, err := producer.NewKafkaProducer(opts.KafkaBrokers, opts.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	return NewKafkaWithProducer(p, opts), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(p producer.Producer, opts Options) *Kafka {
	t := &Kafka{producer: p}
	o := opts.clone()
	t.opts.Store(&o)
	return t
}

// Send publishes body. Only POST carries a payload; other methods are rejected.
func (t *Kafka) Send(ctx context.Context, url, method string, body []byte) (*Response, error) {
	if method != http.MethodPost {
		return nil, fmt.Errorf("transport: kafka supports POST only, got %s", method)
	}
	opts := t.opts.Load()
	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}
	headers := make(map[string]string, len(opts.Headers)+2)
	for k, v := range opts.Headers {
		if credentialHeaders[strings.ToLower(k)] {
			continue
		}
		headers[k] = v
	}
	headers["x-target-url"] = url
	headers["x-method"] = method
	if err := t.producer.Emit(ctx, producer.Message{Value: body, Headers: headers}); err != nil {
		return nil, fmt.Errorf("transport: kafka publish: %w", err)
	}
	return &Response{Status: http.StatusAccepted, Header: http.Header{}}, nil
}

// Options returns a copy of the current defaults.
func (t *Kafka) Options() Options {
	return t.opts.Load().clone()
}

// SetOptions replaces the defaults for subsequent sends.
func (t *Kafka) SetOptions(opts Options) {
	o := opts.clone()
	t.opts.Store(&o)
}

// WithOptions returns a new Kafka transport sharing the producer.
func (t *Kafka) WithOptions(opts Options) Transport {
	return NewKafkaWithProducer(t.producer, opts)
}

// Close closes the producer.
func (t *Kafka) Close() error {
	return t.producer.Close()
}
