package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/envelope"
)

// Reasons reported to Observer.EventDropped.
const (
	DropNoUserID    = "no_user_id"
	DropQueueClosed = "queue_closed"
	DropNotReady    = "not_ready"
)

// Track builds a canonical event and queues it for delivery. An empty name is the only
// error; an event without a resolvable user id is logged and dropped.
func (b *Builder) Track(name string, properties map[string]any) error {
	if name == "" {
		return ErrEventNameRequired
	}
	ctx := context.Background()
	ev, ok := b.buildEvent(name, properties)
	if !ok {
		b.logger.Warn("telemetry: no user id, event dropped", "event", name)
		b.observer.EventDropped(ctx, name, DropNoUserID)
		return nil
	}
	if _, err := b.queue.Push(ev); err != nil {
		b.logger.Warn("telemetry: event dropped", "event", name, "error", err)
		b.observer.EventDropped(ctx, name, DropQueueClosed)
		return nil
	}
	b.observer.EventTracked(ctx, name)
	return nil
}

func (b *Builder) buildEvent(name string, properties map[string]any) (domain.Event, bool) {
	b.mu.RLock()
	userID := b.data.UserID()
	if userID == "" {
		userID = b.userID
	}
	sessionID := b.sessionID
	path := b.pagePath
	rawQuery := b.pageQuery
	b.mu.RUnlock()
	if userID == "" {
		return domain.Event{}, false
	}

	var user domain.UserDetails
	var language string
	if u := b.data.User; u != nil {
		user = domain.UserDetails{
			Username:    u.Username,
			FirstName:   u.FirstName,
			LastName:    u.LastName,
			IsPremium:   u.IsPremium,
			WriteAccess: u.AllowsWriteToPM,
		}
		language = u.LanguageCode
	}

	query, _ := url.ParseQuery(rawQuery)
	serialized := domain.SerializeQuery(query)
	startParam := b.data.StartParam
	if startParam == "" {
		startParam = serialized
	}
	wallet, _ := properties["wallet"].(string)

	return domain.NewEvent(domain.NewEventParams{
		Name: name,
		User: user,
		Details: domain.EventDetails{
			StartParameter: startParam,
			Path:           path,
			Params:         properties,
		},
		TelegramID:        userID,
		Language:          language,
		Platform:          b.data.Platform,
		ChatType:          b.data.ChatType,
		ChatInstance:      b.data.ChatInstance,
		At:                b.now(),
		Wallet:            wallet,
		SessionIdentifier: sessionID,
	}), true
}

// ProcessEvent encrypts ev and posts it to the configured host. It never returns or
// propagates a failure: errors are logged and reported to the Observer.
func (b *Builder) ProcessEvent(ctx context.Context, ev domain.Event) {
	s := b.state.Load()
	if !s.ready() {
		b.logger.Info("telemetry: pipeline not ready, event not sent", "event", ev.EventName, "phase", s.Phase.String())
		b.observer.EventDropped(ctx, ev.EventName, DropNotReady)
		return
	}

	ctx, span := b.tracer.Start(ctx, "pipeline.deliver", trace.WithAttributes(
		attribute.String("telemetree.event_name", ev.EventName),
	))
	defer span.End()
	start := b.now()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", errProcessPanicked, r)
			span.SetStatus(codes.Error, err.Error())
			b.logger.Error("telemetry: delivery failed", "event", ev.EventName, "error", err)
			b.observer.EventFailed(ctx, ev, err)
		}
	}()

	if err := b.deliver(ctx, s, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Error("telemetry: delivery failed", "event", ev.EventName, "error", err)
		b.observer.EventFailed(ctx, ev, err)
		return
	}
	b.observer.EventDelivered(ctx, ev, b.now().Sub(start))
}

func (b *Builder) deliver(ctx context.Context, s *State, ev domain.Event) error {
	plaintext, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("pipeline: marshal event: %w", err)
	}
	env, err := envelope.EncryptTo(s.recipient, plaintext)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pipeline: marshal envelope: %w", err)
	}
	resp, err := s.Transport.Send(ctx, s.Config.Host, http.MethodPost, body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %d", errDeliveryStatus, resp.Status)
	}
	return nil
}
