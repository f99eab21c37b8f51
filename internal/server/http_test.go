package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// requestSeries returns the telemetree.ingest.requests totals keyed by route and status.
func requestSeries(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	series := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "telemetree.ingest.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("requests data = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value("http.route")
				status, _ := dp.Attributes.Value("http.status_code")
				series[fmt.Sprintf("%s %d", route.AsString(), status.AsInt64())] += dp.Value
			}
		}
	}
	return series
}

func newTestMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /v1/client/config", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {})
	return mux
}

func TestInstrument_CountsByRouteAndStatus(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	h, err := Instrument(newTestMux(), meter, nil, "/healthz")
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/events", nil),
		httptest.NewRequest(http.MethodPost, "/v1/events", nil),
		httptest.NewRequest(http.MethodGet, "/v1/client/config?project=p1", nil),
		httptest.NewRequest(http.MethodGet, "/healthz", nil),
	} {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	series := requestSeries(t, reader)
	want := map[string]int64{
		"POST /v1/events 202":       2,
		"GET /v1/client/config 200": 1,
	}
	if len(series) != len(want) {
		t.Errorf("series = %v, want %v (healthz skipped)", series, want)
	}
	for k, v := range want {
		if series[k] != v {
			t.Errorf("series[%q] = %d, want %d", k, series[k], v)
		}
	}
}

func TestInstrument_UnmatchedPathsShareOneSeries(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	h, err := Instrument(newTestMux(), meter, nil)
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	for i := 0; i < 100; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, fmt.Sprintf("/junk/%d", i), nil))
	}
	// Wrong method on a known path is unmatched as well.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/v1/events", nil))

	series := requestSeries(t, reader)
	if series["unmatched 404"] != 100 {
		t.Errorf("unmatched 404 = %d, want 100", series["unmatched 404"])
	}
	if series["unmatched 405"] != 1 {
		t.Errorf("unmatched 405 = %d, want 1", series["unmatched 405"])
	}
	if len(series) != 2 {
		t.Errorf("got %d series, want 2: %v", len(series), series)
	}
}

func TestInstrument_PassesThroughResponse(t *testing.T) {
	h, err := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "abc")
		w.WriteHeader(http.StatusTeapot)
	}), nil, nil)
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot || rec.Header().Get("X-Request-Id") != "abc" {
		t.Errorf("code=%d header=%q", rec.Code, rec.Header().Get("X-Request-Id"))
	}
}

func TestClientIP(t *testing.T) {
	testCases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "192.168.1.1"}, "10.0.0.9:1234", "192.168.1.1"},
		{"forwarded list", map[string]string{"X-Forwarded-For": "192.168.1.1, 10.0.0.1"}, "", "192.168.1.1"},
		{"real ip", map[string]string{"X-Real-Ip": "172.16.0.1"}, "", "172.16.0.1"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "192.168.1.1", "X-Real-Ip": "172.16.0.1"}, "", "192.168.1.1"},
		{"remote addr", nil, "10.0.0.9:1234", "10.0.0.9"},
		{"remote without port", nil, "10.0.0.9", "10.0.0.9"},
		{"remote ipv6", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"unknown", nil, "", "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRemoteIP_IgnoresForwardedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	r.Header.Set("X-Real-Ip", "198.51.100.2")
	if got := RemoteIP(r); got != "203.0.113.7" {
		t.Errorf("RemoteIP = %q, want 203.0.113.7", got)
	}
	r.RemoteAddr = ""
	if got := RemoteIP(r); got != "unknown" {
		t.Errorf("RemoteIP = %q, want unknown", got)
	}
}
