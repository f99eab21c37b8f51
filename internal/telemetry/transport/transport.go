// Package transport performs the network call behind a stable interface so the pipeline
// never depends on a specific request library. Transports never retry.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind selects a concrete transport in GetTransport.
type Kind string

const (
	KindHTTP  Kind = "http"
	KindKafka Kind = "kafka"
)

// ErrUnknownKind is returned by GetTransport for an unsupported Kind.
var ErrUnknownKind = errors.New("transport: unknown kind")

// Options are the defaults applied to every Send.
type Options struct {
	Headers        map[string]string
	RequestTimeout time.Duration

	// Kafka-only settings; ignored by the HTTP transport.
	KafkaBrokers []string
	KafkaTopic   string
}

func (o Options) clone() Options {
	c := o
	c.Headers = make(map[string]string, len(o.Headers))
	for k, v := range o.Headers {
		c.Headers[k] = v
	}
	c.KafkaBrokers = append([]string(nil), o.KafkaBrokers...)
	return c
}

// Response is what a Send returns: a status code and the fully read body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("transport: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

// Transport issues one request per Send.
type Transport interface {
	// Send issues the request; body may be nil. The request is aborted and an error
	// returned when the configured timeout or ctx expires first.
	Send(ctx context.Context, url, method string, body []byte) (*Response, error)
	// Options returns a copy of the current defaults.
	Options() Options
	// SetOptions replaces the defaults for subsequent sends on this instance.
	// Sends already in flight keep the snapshot they started with.
	SetOptions(opts Options)
	// WithOptions returns a new Transport sharing the underlying client with opts as its
	// defaults. The receiver is unchanged.
	WithOptions(opts Options) Transport
	// Close releases resources held by the transport.
	Close() error
}

// Factory builds a Transport; GetTransport is the default.
type Factory func(kind Kind, opts Options) (Transport, error)

// GetTransport returns a new Transport of the given kind. An empty kind means HTTP.
func GetTransport(kind Kind, opts Options) (Transport, error) {
	switch kind {
	case "", KindHTTP:
		return NewHTTP(opts), nil
	case KindKafka:
		return NewKafka(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
