package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// HTTP sends requests with net/http. Options are held as an immutable snapshot behind an
// atomic pointer, so a concurrent SetOptions never exposes a half-updated header set.
type HTTP struct {
	client *http.Client
	opts   atomic.Pointer[Options]
}

// NewHTTP returns an HTTP transport with its own client.
func NewHTTP(opts Options) *HTTP {
	return NewHTTPWithClient(&http.Client{}, opts)
}

// NewHTTPWithClient returns an HTTP transport using client (e.g. an httptest server client).
func NewHTTPWithClient(client *http.Client, opts Options) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	t := &HTTP{client: client}
	o := opts.clone()
	t.opts.Store(&o)
	return t
}

// Send issues one request. Non-2xx statuses are returned as a Response, not an error.
func (t *HTTP) Send(ctx context.Context, url, method string, body []byte) (*Response, error) {
	opts := t.opts.Load()
	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Options returns a copy of the current defaults.
func (t *HTTP) Options() Options {
	return t.opts.Load().clone()
}

// SetOptions replaces the defaults for subsequent sends.
func (t *HTTP) SetOptions(opts Options) {
	o := opts.clone()
	t.opts.Store(&o)
}

// WithOptions returns a new HTTP transport sharing the client.
func (t *HTTP) WithOptions(opts Options) Transport {
	return NewHTTPWithClient(t.client, opts)
}

// Close releases idle connections.
func (t *HTTP) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
