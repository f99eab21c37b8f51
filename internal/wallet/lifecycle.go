package wallet

import (
	"fmt"
	"time"

	"telemetree/sdk/internal/telemetry/domain"
)

// detailKeys are copied from a TonConnect event detail onto the tracked event.
var detailKeys = []string{
	"wallet_address", "wallet_type", "wallet_version",
	"from", "messages", "network", "valid_until", "auth_type", "boc",
	"error_code", "error_message", "is_success",
}

// Lifecycle maps TonConnect UI events to catalog events.
type Lifecycle struct {
	tracker Tracker
	now     func() time.Time
}

// NewLifecycle returns a Lifecycle tracking into tracker.
func NewLifecycle(tracker Tracker) *Lifecycle {
	return &Lifecycle{tracker: tracker, now: time.Now}
}

// Dispatch tracks the catalog event for ev. A completed connection is tracked as a plain
// Wallet event; every other lifecycle step as a system event.
func (l *Lifecycle) Dispatch(ev domain.TonConnectEvent, detail map[string]any) error {
	eventType, ok := ev.EventTypeFor()
	if !ok {
		return fmt.Errorf("wallet: unknown tonconnect event %q", ev)
	}
	props := make(map[string]any, len(detailKeys)+3)
	for _, k := range detailKeys {
		if v, ok := detail[k]; ok {
			props[k] = v
		}
	}
	props["timestamp"] = l.now().UnixMilli()

	if ev == domain.TonConnectCompleted {
		props["wallet"] = connectedAddress(detail)
		props["provider"] = walletName(detail)
		return l.tracker.Track(string(domain.EventWallet), props)
	}
	return l.tracker.Track(domain.SystemEventName(eventType, ""), props)
}

func connectedAddress(detail map[string]any) string {
	if account, ok := detail["account"].(map[string]any); ok {
		if addr, ok := account["address"].(string); ok && addr != "" {
			return addr
		}
	}
	addr, _ := detail["wallet_address"].(string)
	return addr
}

func walletName(detail map[string]any) string {
	if w, ok := detail["wallet"].(map[string]any); ok {
		if name, ok := w["name"].(string); ok && name != "" {
			return name
		}
	}
	return unknownProvider
}
