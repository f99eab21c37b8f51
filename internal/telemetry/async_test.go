package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/producer"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []domain.Event
	emitErr error
}

func (m *mockEventEmitter) Emit(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events...)
}

func waitEvents(t *testing.T, m *mockEventEmitter, want int) []domain.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := m.getEvents()
		if len(events) >= want || time.Now().After(deadline) {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, context.Background(), domain.Event{EventName: "test"})
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), domain.Event{EventName: "Click", TelegramID: "1"})

	events := waitEvents(t, emitter, 1)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventName != "Click" || events[0].TelegramID != "1" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestEmitAsync_IgnoresRequestCancellation(t *testing.T) {
	emitter := &mockEventEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(emitter, ctx, domain.Event{EventName: "test"})

	if events := waitEvents(t, emitter, 1); len(events) != 1 {
		t.Errorf("expected 1 event after request cancellation, got %d", len(events))
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("broker down")}
	EmitAsync(emitter, context.Background(), domain.Event{EventName: "test"})
	if events := waitEvents(t, emitter, 1); len(events) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(events))
	}
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, context.Background(), domain.Event{EventName: "test"})
		}()
	}
	wg.Wait()
	if events := waitEvents(t, emitter, 10); len(events) != 10 {
		t.Errorf("expected 10 events, got %d", len(events))
	}
}

// fakeProducer records published messages.
type fakeProducer struct {
	mu   sync.Mutex
	msgs []producer.Message
}

func (p *fakeProducer) Emit(ctx context.Context, msg producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestProducerEmitter_Emit(t *testing.T) {
	p := &fakeProducer{}
	ev := domain.Event{EventName: "Click", TelegramID: "42", Platform: "ios"}
	if err := NewProducerEmitter(p, "p1").Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(p.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(p.msgs))
	}
	msg := p.msgs[0]
	if string(msg.Key) != "42" {
		t.Errorf("Key = %q, want 42", msg.Key)
	}
	if msg.Headers["event_name"] != "Click" || msg.Headers["project_id"] != "p1" {
		t.Errorf("Headers = %v", msg.Headers)
	}
	var got domain.Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("Value: %v", err)
	}
	if got.Platform != "ios" {
		t.Errorf("Platform = %q", got.Platform)
	}
}
