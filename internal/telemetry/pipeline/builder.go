// Package pipeline owns configuration bootstrap, session and user identity, and the
// Track/ProcessEvent contract. It wires the queue, the envelope and the transport.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	identitydomain "telemetree/sdk/internal/identity/domain"
	"telemetree/sdk/internal/telemetry/domain"
	"telemetree/sdk/internal/telemetry/envelope"
	"telemetree/sdk/internal/telemetry/queue"
	"telemetree/sdk/internal/telemetry/transport"
)

const (
	DefaultConfigGateway   = "https://config.ton.solutions/v1/client/config"
	DefaultConfigTimeout   = time.Second
	DefaultDeliveryTimeout = 1500 * time.Millisecond
)

var (
	// ErrEventNameRequired is returned by Track for an empty event name.
	ErrEventNameRequired = errors.New("pipeline: event name is required")

	errConfigStatus    = errors.New("pipeline: config fetch returned non-200")
	errConfigNoHost    = errors.New("pipeline: config has no host")
	errDeliveryStatus  = errors.New("pipeline: delivery returned non-2xx")
	errProcessPanicked = errors.New("pipeline: delivery panicked")
	errPipelineClosed  = errors.New("pipeline: closed before bootstrap finished")
)

// AutoCaptureFunc arms auto-capture once the config allows it.
type AutoCaptureFunc func(cfg domain.RemoteConfig, b *Builder)

// Option configures a Builder.
type Option func(*Builder)

// WithTrackGroup sets the capture tier.
func WithTrackGroup(g domain.TrackGroup) Option {
	return func(b *Builder) { b.trackGroup = g }
}

// WithConfigGateway overrides the config gateway URL.
func WithConfigGateway(u string) Option {
	return func(b *Builder) { b.gateway = u }
}

// WithConfigTimeout bounds the config fetch.
func WithConfigTimeout(d time.Duration) Option {
	return func(b *Builder) { b.configTimeout = d }
}

// WithDeliveryTimeout bounds each event delivery.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(b *Builder) { b.deliveryTimeout = d }
}

// WithTransportFactory replaces transport.GetTransport.
func WithTransportFactory(f transport.Factory) Option {
	return func(b *Builder) { b.factory = f }
}

// WithDeliveryKind delivers events over kind instead of the HTTP transport used for the
// config fetch. opts carries kind-specific settings such as Kafka brokers.
func WithDeliveryKind(kind transport.Kind, opts transport.Options) Option {
	return func(b *Builder) {
		b.deliveryKind = kind
		b.deliveryOpts = opts
	}
}

// WithPage sets the page path and raw query string stamped on events.
func WithPage(path, rawQuery string) Option {
	return func(b *Builder) {
		b.pagePath = path
		b.pageQuery = rawQuery
	}
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithObserver registers an Observer for pipeline outcomes.
func WithObserver(o Observer) Option {
	return func(b *Builder) { b.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithAutoCapture registers the hook called when auto-capture should be armed.
func WithAutoCapture(f AutoCaptureFunc) Option {
	return func(b *Builder) { b.autoCapture = f }
}

// Builder is one telemetry pipeline: one identity, one queue, one destination.
type Builder struct {
	projectID string
	apiKey    string
	data      identitydomain.WebAppData

	trackGroup      domain.TrackGroup
	gateway         string
	configTimeout   time.Duration
	deliveryTimeout time.Duration
	factory         transport.Factory
	deliveryKind    transport.Kind
	deliveryOpts    transport.Options
	logger          *slog.Logger
	observer        Observer
	now             func() time.Time
	autoCapture     AutoCaptureFunc
	tracer          trace.Tracer

	mu        sync.RWMutex
	userID    string
	sessionID string
	pagePath  string
	pageQuery string

	state        atomic.Pointer[State]
	queue        *queue.Queue
	initOnce     sync.Once
	bootstrapped chan struct{}

	// lifecycleMu orders Close against the Initializing -> Ready transition.
	lifecycleMu sync.Mutex
	closed      bool
}

// New builds a pipeline and starts its bootstrap in the background. It never blocks.
func New(projectID, apiKey string, data identitydomain.WebAppData, opts ...Option) *Builder {
	b := &Builder{
		projectID:       projectID,
		apiKey:          apiKey,
		data:            data,
		gateway:         DefaultConfigGateway,
		configTimeout:   DefaultConfigTimeout,
		deliveryTimeout: DefaultDeliveryTimeout,
		factory:         transport.GetTransport,
		logger:          slog.Default(),
		observer:        NopObserver{},
		now:             time.Now,
		tracer:          otel.Tracer("telemetree/sdk/pipeline"),
		bootstrapped:    make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.sessionID = strconv.FormatInt(b.now().UTC().UnixMilli(), 10)
	b.state.Store(&State{Phase: PhaseUninitialized})
	b.queue = queue.New(func(ctx context.Context, e queue.Entry) {
		b.ProcessEvent(ctx, e.Event)
	}, queue.WithClock(b.now))
	b.Init()
	return b
}

// Init starts the bootstrap. Only the first call has any effect.
func (b *Builder) Init() {
	b.initOnce.Do(func() {
		b.setState(context.Background(), &State{Phase: PhaseInitializing})
		go b.bootstrap(context.Background())
	})
}

// SetUserID sets the identifier used when the init data carries no user id.
func (b *Builder) SetUserID(id string) *Builder {
	b.mu.Lock()
	b.userID = id
	b.mu.Unlock()
	return b
}

// SetSessionIdentifier replaces the session identifier stamped on subsequent events.
func (b *Builder) SetSessionIdentifier(id string) *Builder {
	b.mu.Lock()
	b.sessionID = id
	b.mu.Unlock()
	return b
}

// SessionIdentifier returns the current session identifier.
func (b *Builder) SessionIdentifier() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID
}

// SetPage updates the page path and raw query string stamped on subsequent events.
func (b *Builder) SetPage(path, rawQuery string) {
	b.mu.Lock()
	b.pagePath = path
	b.pageQuery = rawQuery
	b.mu.Unlock()
}

// Config returns a copy of the remote config, or nil while the pipeline is not ready.
func (b *Builder) Config() *domain.RemoteConfig {
	s := b.state.Load()
	if s.Phase != PhaseReady {
		return nil
	}
	cfg := *s.Config
	cfg.AutoCaptureTags = slices.Clone(cfg.AutoCaptureTags)
	cfg.AutoCaptureClasses = slices.Clone(cfg.AutoCaptureClasses)
	return &cfg
}

// TrackGroup returns the capture tier.
func (b *Builder) TrackGroup() domain.TrackGroup {
	return b.trackGroup
}

// State returns a snapshot of the bootstrap state.
func (b *Builder) State() State {
	return *b.state.Load()
}

// Bootstrapped is closed once bootstrap settles in Ready or Degraded.
func (b *Builder) Bootstrapped() <-chan struct{} {
	return b.bootstrapped
}

// Pending returns the number of queued events not yet handed to delivery.
func (b *Builder) Pending() int {
	return b.queue.Len()
}

// Close stops accepting events and waits for queued deliveries or ctx. A bootstrap still in
// flight is allowed to settle first; if it finishes after Close it ends Degraded and releases
// its transport without arming auto-capture. Events held while the pipeline never became
// ready are left undelivered.
func (b *Builder) Close(ctx context.Context) error {
	b.lifecycleMu.Lock()
	b.closed = true
	b.lifecycleMu.Unlock()
	select {
	case <-b.bootstrapped:
	case <-ctx.Done():
	}

	if n := b.queue.Len(); n > 0 && b.state.Load().Phase != PhaseReady {
		b.logger.Warn("telemetry: closing with undelivered events", "pending", n, "phase", b.state.Load().Phase.String())
	}
	err := b.queue.Close(ctx)
	if s := b.state.Load(); s.Transport != nil {
		if cerr := s.Transport.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("pipeline: close transport: %w", cerr)
		}
	}
	return err
}

func (b *Builder) setState(ctx context.Context, s *State) {
	b.state.Store(s)
	b.observer.PhaseChanged(ctx, s.Phase)
}

func (b *Builder) bootstrap(ctx context.Context) {
	defer close(b.bootstrapped)
	ctx, span := b.tracer.Start(ctx, "pipeline.bootstrap", trace.WithAttributes(
		attribute.String("telemetree.project_id", b.projectID),
	))
	defer span.End()

	ready, err := b.fetchConfig(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Error("telemetry: config bootstrap failed", "project_id", b.projectID, "error", err)
		b.setState(ctx, &State{Phase: PhaseDegraded, Reason: err})
		return
	}
	b.lifecycleMu.Lock()
	if b.closed {
		b.lifecycleMu.Unlock()
		if ready.Transport != nil {
			_ = ready.Transport.Close()
		}
		b.logger.Debug("telemetry: pipeline closed during bootstrap", "project_id", b.projectID)
		b.setState(ctx, &State{Phase: PhaseDegraded, Reason: errPipelineClosed})
		return
	}
	b.setState(ctx, ready)
	b.lifecycleMu.Unlock()
	b.logger.Debug("telemetry: pipeline ready", "project_id", b.projectID, "host", ready.Config.Host)

	if err := b.queue.Flush(ctx); err != nil {
		b.logger.Warn("telemetry: queue flush", "error", err)
	}
	if ready.Config.AutoCapture && b.trackGroup.AllowsAutoCapture() && b.autoCapture != nil {
		b.autoCapture(*ready.Config, b)
	}
}

// fetchConfig loads the remote config and builds the delivery transport.
func (b *Builder) fetchConfig(ctx context.Context) (*State, error) {
	cfgTransport, err := b.factory(transport.KindHTTP, transport.Options{
		Headers:        map[string]string{"authorization": "Bearer " + b.apiKey},
		RequestTimeout: b.configTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: config transport: %w", err)
	}
	u, err := url.Parse(b.gateway)
	if err != nil {
		return nil, fmt.Errorf("pipeline: config gateway: %w", err)
	}
	q := u.Query()
	q.Set("project", b.projectID)
	u.RawQuery = q.Encode()

	resp, err := cfgTransport.Send(ctx, u.String(), http.MethodGet, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch config: %w", err)
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", errConfigStatus, resp.Status)
	}
	var cfg domain.RemoteConfig
	if err := resp.JSON(&cfg); err != nil {
		return nil, fmt.Errorf("pipeline: config: %w", err)
	}
	if cfg.Host == "" {
		return nil, errConfigNoHost
	}
	recipient, err := envelope.ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("pipeline: config public key: %w", err)
	}

	opts := b.deliveryOpts
	headers := make(map[string]string, len(opts.Headers)+3)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	headers["x-api-key"] = b.apiKey
	headers["x-project-id"] = b.projectID
	headers["content-type"] = "application/json"
	opts.Headers = headers
	opts.RequestTimeout = b.deliveryTimeout

	var delivery transport.Transport
	switch b.deliveryKind {
	case "", transport.KindHTTP:
		delivery = cfgTransport.WithOptions(opts)
	default:
		delivery, err = b.factory(b.deliveryKind, opts)
		if err != nil {
			return nil, fmt.Errorf("pipeline: delivery transport: %w", err)
		}
		_ = cfgTransport.Close()
	}
	return &State{Phase: PhaseReady, Config: &cfg, Transport: delivery, recipient: recipient}, nil
}
