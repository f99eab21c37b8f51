// Package server holds the HTTP plumbing shared by the ingest endpoints: request
// instrumentation and client address resolution.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "telemetree/sdk/server"

// unmatchedRoute labels requests no ServeMux pattern matched, so arbitrary paths share
// one metric series.
const unmatchedRoute = "unmatched"

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next with a span, a request counter and a latency histogram per route.
// The route is the ServeMux pattern that served the request (for example
// "POST /v1/events"), or "unmatched". skipPaths are served without instrumentation (e.g. /healthz). A nil meter uses the
// global MeterProvider; a nil logger uses slog.Default().
func Instrument(next http.Handler, meter metric.Meter, logger *slog.Logger, skipPaths ...string) (http.Handler, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	requests, err := meter.Int64Counter("telemetree.ingest.requests",
		metric.WithDescription("HTTP requests served by the ingest server."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("telemetree.ingest.duration",
		metric.WithDescription("HTTP request latency."), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	tracer := otel.Tracer(instrumentationName)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), "HTTP "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(rec, req)

		// ServeMux records the matched pattern on the request it dispatched.
		route := req.Pattern
		if route == "" {
			route = unmatchedRoute
		} else {
			span.SetName(route)
		}

		attrs := metric.WithAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", rec.status),
		)
		requests.Add(ctx, 1, attrs)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		logger.Debug("server: request",
			"route", route,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ClientIP(r),
		)
	}), nil
}

// ClientIP returns the client IP from x-forwarded-for, x-real-ip or the remote address,
// or "unknown". The headers are client-controlled; use it for logs, not for limits.
func ClientIP(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-Ip")); s != "" {
		return s
	}
	return RemoteIP(r)
}

// RemoteIP returns the host part of the connection's remote address, or "unknown".
func RemoteIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
}
