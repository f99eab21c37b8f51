package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"telemetree/sdk/internal/telemetry/producer"
)

func TestGetTransport_Kinds(t *testing.T) {
	tr, err := GetTransport(KindHTTP, Options{})
	if err != nil {
		t.Fatalf("GetTransport(http): %v", err)
	}
	if _, ok := tr.(*HTTP); !ok {
		t.Errorf("GetTransport(http) = %T, want *HTTP", tr)
	}
	tr, err = GetTransport("", Options{})
	if err != nil {
		t.Fatalf("GetTransport(\"\"): %v", err)
	}
	if _, ok := tr.(*HTTP); !ok {
		t.Errorf("GetTransport(\"\") = %T, want *HTTP", tr)
	}
	if _, err := GetTransport("carrier-pigeon", Options{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind err = %v, want ErrUnknownKind", err)
	}
	if _, err := GetTransport(KindKafka, Options{}); err == nil {
		t.Error("kafka transport without brokers should fail")
	}
}

func TestHTTP_SendAppliesHeadersAndBody(t *testing.T) {
	var gotMethod, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{"host":"https://ingest.example"}`))
	}))
	defer srv.Close()

	tr := NewHTTPWithClient(srv.Client(), Options{Headers: map[string]string{"authorization": "Bearer k"}})
	resp, err := tr.Send(context.Background(), srv.URL, http.MethodPost, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.OK() {
		t.Errorf("Status = %d, want 2xx", resp.Status)
	}
	if gotMethod != http.MethodPost || gotAuth != "Bearer k" || gotBody != `{"a":1}` {
		t.Errorf("server saw method=%q auth=%q body=%q", gotMethod, gotAuth, gotBody)
	}
	var out struct {
		Host string `json:"host"`
	}
	if err := resp.JSON(&out); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if out.Host != "https://ingest.example" {
		t.Errorf("Host = %q", out.Host)
	}
}

func TestHTTP_NonSuccessIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	resp, err := NewHTTPWithClient(srv.Client(), Options{}).Send(context.Background(), srv.URL, http.MethodGet, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Status != http.StatusForbidden || resp.OK() {
		t.Errorf("Status = %d OK = %v", resp.Status, resp.OK())
	}
	if err := resp.JSON(&struct{}{}); err == nil {
		t.Error("JSON of empty body should fail")
	}
}

func TestHTTP_TimeoutAborts(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := NewHTTPWithClient(srv.Client(), Options{RequestTimeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := tr.Send(context.Background(), srv.URL, http.MethodGet, nil)
	if err == nil {
		t.Fatal("Send should fail when the timeout expires")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Send took %v, timeout not honoured", elapsed)
	}
}

func TestHTTP_NoRetry(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewHTTPWithClient(srv.Client(), Options{}).Send(context.Background(), srv.URL, http.MethodPost, []byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1", calls)
	}
}

func TestHTTP_SetOptionsAndWithOptions(t *testing.T) {
	headers := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("authorization") + "|" + r.Header.Get("x-api-key")
	}))
	defer srv.Close()

	base := NewHTTPWithClient(srv.Client(), Options{Headers: map[string]string{"authorization": "Bearer k"}})
	upgraded := base.WithOptions(Options{Headers: map[string]string{"x-api-key": "k"}})

	ctx := context.Background()
	if _, err := base.Send(ctx, srv.URL, http.MethodGet, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := upgraded.Send(ctx, srv.URL, http.MethodGet, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	base.SetOptions(Options{Headers: map[string]string{"x-api-key": "other"}})
	if _, err := base.Send(ctx, srv.URL, http.MethodGet, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []string{"Bearer k|", "|k", "|other"}
	for i, w := range want {
		if got := <-headers; got != w {
			t.Errorf("request %d headers = %q, want %q", i, got, w)
		}
	}
}

func TestOptions_CopyIsolation(t *testing.T) {
	h := map[string]string{"a": "1"}
	tr := NewHTTP(Options{Headers: h})
	h["a"] = "2"
	if tr.Options().Headers["a"] != "1" {
		t.Error("transport should not observe caller mutations of the headers map")
	}
	got := tr.Options()
	got.Headers["a"] = "3"
	if tr.Options().Headers["a"] != "1" {
		t.Error("Options should return a copy")
	}
}

// fakeProducer records published messages.
type fakeProducer struct {
	mu     sync.Mutex
	msgs   []producer.Message
	err    error
	closed bool
}

func (p *fakeProducer) Emit(ctx context.Context, msg producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestKafka_SendPublishesBody(t *testing.T) {
	p := &fakeProducer{}
	tr := NewKafkaWithProducer(p, Options{Headers: map[string]string{"x-project-id": "p1"}})
	resp, err := tr.Send(context.Background(), "https://ingest.example", http.MethodPost, []byte(`{"key":"k"}`))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Status != http.StatusAccepted {
		t.Errorf("Status = %d, want 202", resp.Status)
	}
	if len(p.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(p.msgs))
	}
	msg := p.msgs[0]
	if string(msg.Value) != `{"key":"k"}` {
		t.Errorf("Value = %q", msg.Value)
	}
	if msg.Headers["x-project-id"] != "p1" || msg.Headers["x-target-url"] != "https://ingest.example" {
		t.Errorf("Headers = %v", msg.Headers)
	}
}

func TestKafka_DropsCredentialHeaders(t *testing.T) {
	p := &fakeProducer{}
	tr := NewKafkaWithProducer(p, Options{Headers: map[string]string{
		"x-api-key":     "secret",
		"Authorization": "Bearer secret",
		"x-project-id":  "p1",
	}})
	if _, err := tr.Send(context.Background(), "u", http.MethodPost, []byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h := p.msgs[0].Headers
	for k, v := range h {
		if strings.Contains(v, "secret") {
			t.Errorf("header %s leaked credential %q", k, v)
		}
	}
	if h["x-project-id"] != "p1" {
		t.Errorf("x-project-id = %q, want p1", h["x-project-id"])
	}
}

func TestKafka_RejectsNonPost(t *testing.T) {
	tr := NewKafkaWithProducer(&fakeProducer{}, Options{})
	if _, err := tr.Send(context.Background(), "u", http.MethodGet, nil); err == nil {
		t.Error("GET over kafka should fail")
	}
}

func TestKafka_PublishError(t *testing.T) {
	tr := NewKafkaWithProducer(&fakeProducer{err: errors.New("down")}, Options{})
	if _, err := tr.Send(context.Background(), "u", http.MethodPost, []byte("x")); err == nil {
		t.Error("Send should surface producer errors")
	}
}

func TestKafka_WithOptionsSharesProducer(t *testing.T) {
	p := &fakeProducer{}
	base := NewKafkaWithProducer(p, Options{})
	up := base.WithOptions(Options{Headers: map[string]string{"x-project-id": "p1"}})
	if _, err := up.Send(context.Background(), "u", http.MethodPost, []byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(p.msgs) != 1 || p.msgs[0].Headers["x-project-id"] != "p1" {
		t.Errorf("msgs = %+v", p.msgs)
	}
	if len(base.Options().Headers) != 0 {
		t.Error("WithOptions must not change the receiver")
	}
	if err := up.Close(); err != nil || !p.closed {
		t.Errorf("Close err=%v closed=%v", err, p.closed)
	}
}
