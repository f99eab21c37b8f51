package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/pipeline"
)

// recordCapture stores every Record passed to Emit for assertion.
type recordCapture struct {
	recs []otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.recs = append(r.recs, rec)
}

func newTestObserver(t *testing.T) (*Observer, *sdkmetric.ManualReader, *recordCapture) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	capture := &recordCapture{}
	o, err := newObserver(mp.Meter(instrumentationName), capture)
	if err != nil {
		t.Fatalf("newObserver: %v", err)
	}
	return o, reader, capture
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s data = %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func attrs(rec otellog.Record) map[string]string {
	out := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestObserver_Counters(t *testing.T) {
	o, reader, _ := newTestObserver(t)
	ctx := context.Background()
	ev := domain.NewEvent(domain.NewEventParams{Name: "[TS] Click | Buy", TelegramID: "1"})

	o.EventTracked(ctx, "Click")
	o.EventTracked(ctx, ev.EventName)
	o.EventDropped(ctx, "X", pipeline.DropNoUserID)
	o.EventDelivered(ctx, ev, 20*time.Millisecond)
	o.EventFailed(ctx, ev, errors.New("reset"))

	want := map[string]int64{
		"telemetree.events.tracked":   2,
		"telemetree.events.dropped":   1,
		"telemetree.events.delivered": 1,
		"telemetree.events.failed":    1,
	}
	for name, n := range want {
		if got := counterTotal(t, reader, name); got != n {
			t.Errorf("%s = %d, want %d", name, got, n)
		}
	}
}

func TestObserver_LatencyHistogram(t *testing.T) {
	o, reader, _ := newTestObserver(t)
	o.EventDelivered(context.Background(), domain.Event{EventName: "A"}, 250*time.Millisecond)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "telemetree.delivery.duration" {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok || len(h.DataPoints) != 1 {
				t.Fatalf("histogram data = %+v", m.Data)
			}
			if h.DataPoints[0].Count != 1 || h.DataPoints[0].Sum != 0.25 {
				t.Errorf("histogram point = %+v", h.DataPoints[0])
			}
			found = true
		}
	}
	if !found {
		t.Error("latency histogram not recorded")
	}
}

func TestObserver_LogRecords(t *testing.T) {
	o, _, capture := newTestObserver(t)
	ctx := context.Background()
	ev := domain.Event{EventName: "Click", TelegramID: "7", SessionIdentifier: "s1"}

	o.EventFailed(ctx, ev, errors.New("timeout"))
	o.PhaseChanged(ctx, pipeline.PhaseDegraded)
	o.EventTracked(ctx, "Click")

	if len(capture.recs) != 2 {
		t.Fatalf("emitted %d records, want 2", len(capture.recs))
	}
	failed := capture.recs[0]
	if failed.Severity() != otellog.SeverityError || failed.Body().AsString() != "event delivery failed" {
		t.Errorf("failure record severity=%v body=%q", failed.Severity(), failed.Body().AsString())
	}
	got := attrs(failed)
	if got["event_name"] != "Click" || got["telegram_id"] != "7" || got["session_identifier"] != "s1" || got["error"] != "timeout" {
		t.Errorf("failure attrs = %v", got)
	}
	if failed.Timestamp().IsZero() {
		t.Error("timestamp should be set")
	}
	phase := capture.recs[1]
	if attrs(phase)["phase"] != "degraded" || phase.Severity() != otellog.SeverityError {
		t.Errorf("phase record attrs=%v severity=%v", attrs(phase), phase.Severity())
	}
}

func TestNewObserver_WithProviders(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	lp := sdklog.NewLoggerProvider()
	defer func() {
		_ = mp.Shutdown(context.Background())
		_ = lp.Shutdown(context.Background())
	}()
	o, err := NewObserver(mp, lp)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	o.PhaseChanged(context.Background(), pipeline.PhaseReady)

	o, err = NewObserver(mp, nil)
	if err != nil {
		t.Fatalf("NewObserver without logger: %v", err)
	}
	o.EventFailed(context.Background(), domain.Event{}, errors.New("x"))
}
