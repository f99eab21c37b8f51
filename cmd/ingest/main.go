// Ingest serves the config gateway and accepts encrypted events from trackers.
// Decrypted events are published to TELEMETRY_KAFKA_TOPIC when KAFKA_BROKERS is set,
// otherwise pushed straight to LOKI_URL. With KAFKA_BROKERS set it also opens envelopes
// trackers publish to DELIVERY_KAFKA_TOPIC.
//
// "ingest keygen [x25519|rsa]" prints a fresh recipient key pair and exits.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"telemetree/sdk/internal/config"
	healthhandler "telemetree/sdk/internal/health/handler"
	"telemetree/sdk/internal/identity/repository"
	"telemetree/sdk/internal/server"
	"telemetree/sdk/internal/telemetry"
	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/envelope"
	telemetryhandler "telemetree/sdk/internal/telemetry/handler"
	"telemetree/sdk/internal/telemetry/loki"
	"telemetree/sdk/internal/telemetry/otel"
	"telemetree/sdk/internal/telemetry/producer"
	"telemetree/sdk/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "keygen" {
		if err := runKeygen(os.Args[2:], os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.ProjectID == "" || cfg.APIKey == "" {
		log.Fatal("ingest: TELEMETREE_PROJECT_ID and TELEMETREE_API_KEY are required")
	}
	if cfg.IngestHost == "" {
		log.Fatal("ingest: INGEST_HOST is required")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	priv, err := envelope.ParsePrivateKey(cfg.IngestPrivateKey)
	if err != nil {
		log.Fatalf("ingest: INGEST_PRIVATE_KEY: %v", err)
	}
	pubPEM, err := envelope.LoadPEM(cfg.IngestPublicKey)
	if err != nil {
		log.Fatalf("ingest: INGEST_PUBLIC_KEY: %v", err)
	}
	pub, err := envelope.ParsePublicKey(string(pubPEM))
	if err != nil {
		log.Fatalf("ingest: INGEST_PUBLIC_KEY: %v", err)
	}
	log.Printf("ingest: envelope recipient key %s", envelope.KeyAlg(pub))

	ctx := context.Background()
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "telemetree-ingest", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	consumeCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumerDone := make(chan struct{})

	var emitter telemetry.EventEmitter
	pingers := map[string]healthhandler.Pinger{}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) > 0 {
		p, err := producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic)
		if err != nil {
			log.Fatalf("ingest: kafka producer: %v", err)
		}
		defer p.Close()
		emitter = telemetry.NewProducerEmitter(p, cfg.ProjectID)
		log.Printf("ingest: publishing events to kafka topic %s", p.Topic())

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          cfg.DeliveryKafkaTopic,
			GroupID:        cfg.IngestGroupID,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			MaxWait:        1 * time.Second,
			CommitInterval: time.Second,
		})
		defer reader.Close()
		go func() {
			defer close(consumerDone)
			sink := worker.EnvelopeSink(cfg.ProjectID, priv, emitter, 10*time.Second)
			_ = worker.Run(consumeCtx, reader, sink, logger)
		}()
		log.Printf("ingest: opening envelopes from kafka topic %s (group %s)", cfg.DeliveryKafkaTopic, cfg.IngestGroupID)
	} else if cfg.LokiURL != "" {
		client := loki.NewClient(cfg.LokiURL, nil)
		emitter = client
		pingers["loki"] = client
		log.Printf("ingest: pushing events to %s", cfg.LokiURL)
	} else {
		log.Println("ingest: no KAFKA_BROKERS or LOKI_URL; accepted events are dropped")
	}
	if len(brokers) == 0 {
		close(consumerDone)
	}
	if cfg.RedisAddr != "" {
		store := repository.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "")
		defer store.Close()
		pingers["redis"] = store
	}

	ingest := telemetryhandler.NewServer(telemetryhandler.Options{
		ProjectID: cfg.ProjectID,
		APIKey:    cfg.APIKey,
		Config: domain.RemoteConfig{
			Host:               cfg.IngestHost,
			PublicKey:          string(pubPEM),
			AutoCapture:        cfg.AutoCapture,
			AutoCaptureTags:    cfg.AutoCaptureTagsList(),
			AutoCaptureClasses: cfg.AutoCaptureClassesList(),
		},
		PrivateKey: priv,
		Health:     healthhandler.NewServer(pingers),
		Logger:     logger,
	}, emitter)
	var routes http.Handler = ingest
	if cfg.IngestRateLimit > 0 {
		var opts []server.RateLimitOption
		if cfg.IngestTrustProxy {
			opts = append(opts, server.WithTrustedProxy())
		}
		limiter := server.NewRateLimiter(cfg.IngestRateLimit, cfg.IngestRateBurst, opts...)
		limitCtx, stopLimiter := context.WithCancel(ctx)
		defer stopLimiter()
		go limiter.Run(limitCtx)
		routes = limiter.Middleware(routes)
	}
	handler, err := server.Instrument(routes, providers.MeterProvider.Meter("telemetree/ingest"), logger, "/healthz")
	if err != nil {
		log.Fatalf("ingest: instrument: %v", err)
	}
	srv := &http.Server{
		Addr:              cfg.IngestAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("ingest server listening on %s", cfg.IngestAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down ingest server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	stopConsumer()
	<-consumerDone
	// Let in-flight EmitAsync calls finish before the producer closes.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("ingest server stopped")
}
