// Package wallet reports TonConnect wallet activity to a pipeline.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"telemetree/sdk/internal/identity/repository"
	"telemetree/sdk/internal/telemetry/domain"
)

const (
	// ConnectionKey holds the TonConnect bridge connection, including the connected accounts.
	ConnectionKey = "ton-connect-storage_bridge-connection"
	// ProviderKey holds the name of the wallet the user picked in TonConnect UI.
	ProviderKey = "ton-connect-ui_preferred-wallet"

	DefaultPollInterval = time.Second
	unknownProvider     = "unknown"
)

// Tracker accepts events; *pipeline.Builder satisfies it.
type Tracker interface {
	Track(name string, properties map[string]any) error
}

type connection struct {
	ConnectEvent struct {
		Payload struct {
			Items []struct {
				Address string `json:"address"`
			} `json:"items"`
		} `json:"payload"`
	} `json:"connectEvent"`
}

// Watcher polls the TonConnect connection in a Store and tracks a Wallet event each time
// the connected address changes.
type Watcher struct {
	store    repository.Store
	tracker  Tracker
	interval time.Duration
	logger   *slog.Logger

	lastAddress string
}

// NewWatcher returns a Watcher polling every interval; zero means DefaultPollInterval.
// A nil logger uses slog.Default().
func NewWatcher(store repository.Store, tracker Tracker, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{store: store, tracker: tracker, interval: interval, logger: logger}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll checks the stored connection once and reports whether a Wallet event was tracked.
// Run calls it from a single goroutine; Poll is not safe for concurrent use.
func (w *Watcher) Poll(ctx context.Context) bool {
	raw, err := w.store.Get(ctx, ConnectionKey)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			w.logger.Warn("telemetry: wallet connection lookup", "error", err)
		}
		return false
	}
	var conn connection
	if err := json.Unmarshal([]byte(raw), &conn); err != nil {
		w.logger.Warn("telemetry: wallet connection decode", "error", err)
		return false
	}
	items := conn.ConnectEvent.Payload.Items
	if len(items) == 0 || items[0].Address == "" || items[0].Address == w.lastAddress {
		return false
	}
	address := items[0].Address

	provider, err := w.store.Get(ctx, ProviderKey)
	if err != nil || provider == "" {
		provider = unknownProvider
	}
	w.lastAddress = address
	if err := w.tracker.Track(string(domain.EventWallet), map[string]any{
		"wallet":         address,
		"walletProvider": provider,
	}); err != nil {
		w.logger.Warn("telemetry: wallet track", "error", err)
	}
	return true
}
