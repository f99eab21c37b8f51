package pipeline

import (
	"context"
	"time"

	"telemetree/sdk/internal/telemetry/domain"
)

// Observer receives pipeline outcomes. Implementations must be safe for concurrent use
// and must not block.
type Observer interface {
	PhaseChanged(ctx context.Context, phase Phase)
	EventTracked(ctx context.Context, name string)
	EventDropped(ctx context.Context, name, reason string)
	EventDelivered(ctx context.Context, ev domain.Event, latency time.Duration)
	EventFailed(ctx context.Context, ev domain.Event, err error)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) PhaseChanged(context.Context, Phase)                         {}
func (NopObserver) EventTracked(context.Context, string)                        {}
func (NopObserver) EventDropped(context.Context, string, string)                {}
func (NopObserver) EventDelivered(context.Context, domain.Event, time.Duration) {}
func (NopObserver) EventFailed(context.Context, domain.Event, error)            {}
