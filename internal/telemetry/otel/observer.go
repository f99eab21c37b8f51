package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/pipeline"
)

const instrumentationName = "telemetree/sdk/telemetry"

// recordEmitter is the part of otellog.Logger the observer uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// Observer records pipeline outcomes as OTel metrics and log records.
type Observer struct {
	tracked   metric.Int64Counter
	dropped   metric.Int64Counter
	delivered metric.Int64Counter
	failed    metric.Int64Counter
	latency   metric.Float64Histogram
	logger    recordEmitter
}

var _ pipeline.Observer = (*Observer)(nil)

// NewObserver builds an Observer from the given providers. A nil LoggerProvider disables
// log records; metrics are always recorded.
func NewObserver(mp metric.MeterProvider, lp otellog.LoggerProvider) (*Observer, error) {
	var logger recordEmitter
	if lp != nil {
		logger = lp.Logger(instrumentationName)
	}
	return newObserver(mp.Meter(instrumentationName), logger)
}

func newObserver(meter metric.Meter, logger recordEmitter) (*Observer, error) {
	o := &Observer{logger: logger}
	var err error
	if o.tracked, err = meter.Int64Counter("telemetree.events.tracked",
		metric.WithDescription("Events accepted by Track")); err != nil {
		return nil, err
	}
	if o.dropped, err = meter.Int64Counter("telemetree.events.dropped",
		metric.WithDescription("Events dropped before delivery")); err != nil {
		return nil, err
	}
	if o.delivered, err = meter.Int64Counter("telemetree.events.delivered",
		metric.WithDescription("Events accepted by the ingestion endpoint")); err != nil {
		return nil, err
	}
	if o.failed, err = meter.Int64Counter("telemetree.events.failed",
		metric.WithDescription("Delivery attempts that failed")); err != nil {
		return nil, err
	}
	if o.latency, err = meter.Float64Histogram("telemetree.delivery.duration",
		metric.WithDescription("Encrypt and send latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observer) PhaseChanged(ctx context.Context, phase pipeline.Phase) {
	severity := otellog.SeverityInfo
	if phase == pipeline.PhaseDegraded {
		severity = otellog.SeverityError
	}
	o.emit(ctx, severity, "pipeline phase changed", otellog.String("phase", phase.String()))
}

func (o *Observer) EventTracked(ctx context.Context, name string) {
	o.tracked.Add(ctx, 1, metric.WithAttributes(systemAttr(name)))
}

func (o *Observer) EventDropped(ctx context.Context, name, reason string) {
	o.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason), systemAttr(name)))
	o.emit(ctx, otellog.SeverityWarn, "event dropped",
		otellog.String("event_name", name), otellog.String("reason", reason))
}

func (o *Observer) EventDelivered(ctx context.Context, ev domain.Event, latency time.Duration) {
	attrs := metric.WithAttributes(systemAttr(ev.EventName))
	o.delivered.Add(ctx, 1, attrs)
	o.latency.Record(ctx, latency.Seconds(), attrs)
}

func (o *Observer) EventFailed(ctx context.Context, ev domain.Event, err error) {
	o.failed.Add(ctx, 1, metric.WithAttributes(systemAttr(ev.EventName)))
	o.emit(ctx, otellog.SeverityError, "event delivery failed",
		otellog.String("event_name", ev.EventName),
		otellog.String("telegram_id", ev.TelegramID),
		otellog.String("session_identifier", ev.SessionIdentifier),
		otellog.String("error", err.Error()))
}

func (o *Observer) emit(ctx context.Context, severity otellog.Severity, body string, attrs ...otellog.KeyValue) {
	if o.logger == nil {
		return
	}
	rec := otellog.Record{}
	rec.SetTimestamp(time.Now().UTC())
	rec.SetSeverity(severity)
	rec.SetBody(otellog.StringValue(body))
	rec.AddAttributes(attrs...)
	o.logger.Emit(ctx, rec)
}

// systemAttr labels by system versus caller events; event names are unbounded and stay
// out of metric attributes.
func systemAttr(name string) attribute.KeyValue {
	return attribute.Bool("system", domain.IsSystemEvent(name))
}
