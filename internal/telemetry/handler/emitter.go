package handler

import (
	"telemetree/sdk/internal/telemetry"
)

// EventEmitter is the interface for forwarding decrypted events. See telemetry.EventEmitter.
type EventEmitter = telemetry.EventEmitter
