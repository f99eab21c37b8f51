// Tracker runs one telemetry pipeline and feeds it JSON lines from stdin:
//
//	{"event":"Purchase","properties":{"sku":"a1"}}
//	{"click":{"path":[{"tag":"BUTTON","text":"Buy"}]}}
//	{"tonconnect":"connection-completed","detail":{"wallet":{"name":"Tonkeeper"}}}
//	{"page":{"path":"/shop","query":"tgWebAppStartParam=ref42"}}
//
// Pass --init-data with the Telegram WebApp init data JSON; without it an anonymous web
// identity is created and kept in the identity store.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"telemetree/sdk/internal/autocapture"
	"telemetree/sdk/internal/config"
	identitydomain "telemetree/sdk/internal/identity/domain"
	"telemetree/sdk/internal/identity/repository"
	"telemetree/sdk/internal/identity/service"
	"telemetree/sdk/internal/telemetry/otel"
	"telemetree/sdk/internal/telemetry/pipeline"
	"telemetree/sdk/internal/telemetry/transport"
	"telemetree/sdk/internal/wallet"
)

const closeTimeout = 5 * time.Second

func main() {
	fs := pflag.NewFlagSet("tracker", pflag.ExitOnError)
	fs.String("project-id", "", "Telemetree project id")
	fs.String("api-key", "", "Telemetree API key")
	fs.String("gateway", "", "config gateway URL")
	fs.String("track-group", "", "capture tier: low, medium or high")
	fs.String("transport", "", "delivery transport: http or kafka")
	fs.String("delivery-timeout", "", "per-event delivery timeout")
	fs.String("kafka-brokers", "", "comma-separated Kafka brokers for kafka delivery")
	fs.String("delivery-topic", "", "Kafka topic envelopes are published to for kafka delivery")
	fs.String("redis-addr", "", "Redis address for the identity store")
	fs.String("otlp-endpoint", "", "OTLP gRPC endpoint")
	fs.String("log-level", "", "debug, info, warn or error")
	initData := fs.String("init-data", "", "Telegram WebApp init data as JSON")
	page := fs.String("page", "", "page URL path and query, e.g. /shop?tgWebAppStartParam=ref42")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(fs)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.ProjectID == "" || cfg.APIKey == "" {
		log.Fatal("tracker: TELEMETREE_PROJECT_ID and TELEMETREE_API_KEY are required")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "telemetree-tracker", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()
	observer, err := providers.Observer()
	if err != nil {
		log.Fatalf("otel: %v", err)
	}

	var store repository.Store
	if cfg.RedisAddr != "" {
		rs := repository.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "telemetree:")
		if err := rs.Ping(ctx); err != nil {
			log.Fatalf("tracker: %v", err)
		}
		defer rs.Close()
		store = rs
	} else {
		store = repository.NewMemoryStore(nil)
	}

	var telegram *identitydomain.WebAppData
	if *initData != "" {
		telegram = &identitydomain.WebAppData{}
		if err := json.Unmarshal([]byte(*initData), telegram); err != nil {
			log.Fatalf("tracker: --init-data: %v", err)
		}
	}
	data, err := service.NewResolver(store).Resolve(ctx, telegram)
	if err != nil {
		log.Fatalf("tracker: %v", err)
	}

	registry := &autocapture.Registry{}
	opts := []pipeline.Option{
		pipeline.WithTrackGroup(cfg.Group()),
		pipeline.WithConfigGateway(cfg.ConfigGatewayURL),
		pipeline.WithConfigTimeout(cfg.ConfigTimeout()),
		pipeline.WithDeliveryTimeout(cfg.DeliveryTimeoutDuration()),
		pipeline.WithLogger(logger),
		pipeline.WithObserver(observer),
		pipeline.WithAutoCapture(registry.Hook()),
	}
	if strings.EqualFold(cfg.DeliveryTransport, string(transport.KindKafka)) {
		opts = append(opts, pipeline.WithDeliveryKind(transport.KindKafka, transport.Options{
			KafkaBrokers: cfg.KafkaBrokersList(),
			KafkaTopic:   cfg.DeliveryKafkaTopic,
		}))
	}
	if *page != "" {
		path, query, _ := strings.Cut(*page, "?")
		opts = append(opts, pipeline.WithPage(path, query))
	}
	builder := pipeline.New(cfg.ProjectID, cfg.APIKey, data, opts...)

	watcher := wallet.NewWatcher(store, builder, wallet.DefaultPollInterval, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("tracker: wallet watcher stopped", "error", err)
		}
	}()

	d := dispatcher{tracker: builder, clicks: registry, lifecycle: wallet.NewLifecycle(builder)}
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			lines <- line
		}
		if err := scanner.Err(); err != nil {
			log.Printf("tracker: read stdin: %v", err)
		}
	}()

	log.Printf("tracker: project %s, user %s", cfg.ProjectID, data.UserID())
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := d.dispatch(line); err != nil {
				log.Printf("tracker: %v", err)
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := builder.Close(closeCtx); err != nil {
		log.Printf("tracker: close: %v", err)
	}
	log.Println("tracker stopped")
}
