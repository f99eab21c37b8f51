package pipeline

import (
	"crypto"

	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/transport"
)

// Phase is the bootstrap phase of a Builder. It only moves forward:
// Uninitialized, Initializing, then Ready or Degraded.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
	// PhaseDegraded means the config fetch failed. Nothing is retried and events tracked
	// before or after stay queued for the lifetime of the Builder.
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// State is a snapshot of the bootstrap state. Config and Transport are set only in
// PhaseReady, Reason only in PhaseDegraded.
type State struct {
	Phase     Phase
	Config    *domain.RemoteConfig
	Transport transport.Transport
	Reason    error

	recipient crypto.PublicKey
}

func (s State) ready() bool {
	return s.Phase == PhaseReady && s.Config != nil && s.Transport != nil && s.recipient != nil
}
