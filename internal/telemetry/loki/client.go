// Package loki provides a client to push canonical events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"telemetree/sdk/internal/telemetry/domain"
)

// ErrNoBaseURL is returned when the client has no Loki URL.
var ErrNoBaseURL = errors.New("loki: base URL is empty")

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values we emit.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Client pushes events to one Loki instance.
type Client struct {
	baseURL string
	http    *http.Client
	job     string
}

// NewClient returns a Client for baseURL (e.g. http://localhost:3100). A nil httpClient
// uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient, job: "telemetree"}
}

// Labels returns the low-cardinality stream labels for ev. Names, ids and params stay in
// the log line.
func Labels(ev domain.Event) map[string]string {
	labels := map[string]string{
		"is_autocapture": strconv.FormatBool(ev.IsAutocapture),
	}
	if ev.Platform != "" {
		labels["platform"] = ev.Platform
	}
	if ev.ChatType != "" {
		labels["chat_type"] = ev.ChatType
	}
	return labels
}

// PushEvent sends a single log line at timestamp with labels added to the stream.
// Returns an error if the HTTP request fails or Loki returns non-2xx.
func (c *Client) PushEvent(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = c.job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}

// Emit pushes ev as one JSON line stamped with the event time, satisfying
// telemetry.EventEmitter.
func (c *Client) Emit(ctx context.Context, ev domain.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("loki: marshal event: %w", err)
	}
	ts := time.Now().UTC()
	if ev.Timestamp > 0 {
		ts = time.Unix(ev.Timestamp, 0).UTC()
	}
	return c.PushEvent(ctx, ts, string(raw), Labels(ev))
}

// Ping checks Loki's /ready endpoint, satisfying the health Pinger.
func (c *Client) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loki: ready returned %s", resp.Status)
	}
	return nil
}
