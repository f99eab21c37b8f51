package telemetry

import (
	"context"
	"log/slog"
	"time"

	"telemetree/sdk/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long the ingest server waits after the HTTP server stops so
// in-flight async emits can complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// Use from request handlers for fire-and-forget, best-effort forwarding; errors are logged.
//
// emitter may be nil; EmitAsync then returns immediately without starting a goroutine.
// The goroutine keeps ctx values but not its cancellation, so a finished request does not
// abort the emit.
func EmitAsync(emitter EventEmitter, ctx context.Context, event domain.Event) {
	if emitter == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			slog.Warn("telemetry: async emit failed", "event", event.EventName, "error", err)
		}
	}()
}
