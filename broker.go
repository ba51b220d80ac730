package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"

	"rigidsync/broker/internal/auth"
	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/catalog"
	"rigidsync/broker/internal/config"
	"rigidsync/broker/internal/events"
	grpcapi "rigidsync/broker/internal/grpc"
	httpapi "rigidsync/broker/internal/http"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/metrics"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/simulation"
	"rigidsync/broker/internal/validation"
)

// retentionInterval is how often archived packets are swept.
const retentionInterval = 10 * time.Minute

// BrokerOption customises NewBroker.
type BrokerOption func(*Broker)

// WithClock overrides the broker time source.
func WithClock(clock func() time.Time) BrokerOption {
	return func(b *Broker) {
		if clock != nil {
			b.now = clock
		}
	}
}

// WithMetrics replaces the Prometheus registry owner, mostly for tests.
func WithMetrics(m *metrics.Metrics) BrokerOption {
	return func(b *Broker) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithFeedAuthenticator overrides how /ws callers are identified.
func WithFeedAuthenticator(authenticator feedAuthenticator) BrokerOption {
	return func(b *Broker) {
		if authenticator != nil {
			b.feedAuth = authenticator
		}
	}
}

// Broker owns every long-lived component of the service.
type Broker struct {
	cfg     *config.Config
	log     *logging.Logger
	now     func() time.Time
	started time.Time

	metrics   *metrics.Metrics
	catalog   *catalog.Store
	profiles  backend.Profiles
	validator *feedValidator
	sessions  *simulation.Manager
	events    *events.Stream
	cleaner   *replay.Cleaner
	feedAuth  feedAuthenticator
	limiter   *httpapi.ClientLimiter

	mu         sync.Mutex
	startupErr error
}

// NewBroker opens the catalogue, loads tuning profiles and wires the simulation, validation and
// event components together.
func NewBroker(cfg *config.Config, logger *logging.Logger, opts ...BrokerOption) (*Broker, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.L()
	}
	b := &Broker{cfg: cfg, log: logger, now: time.Now, feedAuth: allowAllAuthenticator{}}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.started = b.now()
	if b.metrics == nil {
		b.metrics = metrics.New()
	}

	//1.- Tuning profiles come first because both sessions and validation resolve against them.
	profiles, err := backend.LoadProfiles(cfg.Simulation.TuningFile)
	if err != nil {
		return nil, fmt.Errorf("load tuning profiles: %w", err)
	}
	if _, err := profiles.Resolve(cfg.Simulation.TuningProfile); err != nil {
		return nil, err
	}
	b.profiles = profiles

	if cfg.Replay.Dir != "" {
		if err := os.MkdirAll(cfg.Replay.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create replay dir: %w", err)
		}
	}
	store, err := catalog.Open(cfg.Replay.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	b.catalog = store

	if cfg.WSAuthSecret != "" {
		verifier, err := auth.NewHMACTokenVerifier(cfg.WSAuthSecret, 2*time.Second)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		b.feedAuth = &hmacFeedAuthenticator{verifier: verifier}
	}

	b.events = events.NewStream(events.Config{Clock: b.now})
	b.validator = &feedValidator{
		inner: validation.New(
			validation.WithCatalog(store),
			validation.WithMetrics(b.metrics),
			validation.WithProfiles(profiles),
			validation.WithArchiveRoot(cfg.Replay.Dir),
			validation.WithLogger(logger),
			validation.WithClock(b.now),
		),
		events: b.events,
		log:    logger,
	}
	b.sessions = simulation.NewManager(
		simulation.WithLogger(logger),
		simulation.WithClock(b.now),
		simulation.WithProfiles(profiles),
		simulation.WithArchiveRoot(cfg.Replay.Dir),
		simulation.WithDefaults(simulation.SessionConfig{
			Backend:         cfg.Simulation.Backend,
			Profile:         cfg.Simulation.TuningProfile,
			FixedTimeStep:   cfg.Simulation.FixedTimeStep,
			MaxSubSteps:     cfg.Simulation.MaxSubSteps,
			CheckpointEvery: uint32(cfg.Simulation.CheckpointEvery),
		}),
		simulation.WithHooks(b.sessionHooks()),
		simulation.WithGate(simulation.GateConfig{MinInterval: cfg.Simulation.OpsMinInterval, MaxAge: cfg.Simulation.OpsMaxAge}),
	)
	b.cleaner = replay.NewCleaner(cfg.Replay.Dir, replay.RetentionPolicy{
		MaxPackets: cfg.Replay.MaxPackets,
		MaxAge:     cfg.Replay.MaxAge,
	}, logger)
	b.limiter = httpapi.NewClientLimiter(cfg.ValidateWindow, cfg.ValidateBurst, b.now)
	return b, nil
}

// sessionHooks forwards session lifecycle into metrics and the event feed.
func (b *Broker) sessionHooks() simulation.Hooks {
	publish := func(kind events.Kind, subject string, payload any) {
		if _, err := b.events.Publish(kind, subject, payload); err != nil {
			b.log.Warn("publish event failed", logging.String("kind", string(kind)), logging.Error(err))
		}
	}
	return simulation.Hooks{
		OnOpened: func(id string) {
			b.metrics.SessionOpened()
			publish(events.KindSessionOpened, id, map[string]string{"id": id})
		},
		OnCheckpoint: func(id string, cp replay.Checkpoint) {
			publish(events.KindCheckpoint, id, cp)
		},
		OnSealed: func(id string, p *replay.Packet, archiveDir string) {
			if archiveDir != "" {
				b.metrics.PacketArchived()
			}
			publish(events.KindSessionSealed, id, sealedEvent{
				ID:          id,
				Scene:       p.Scene.Name,
				LastStep:    p.LastStep(),
				Ops:         p.OpCount(),
				Checkpoints: len(p.Checkpoints),
				ArchiveDir:  archiveDir,
			})
		},
		OnClosed: func(id string) {
			b.metrics.SessionClosed()
			publish(events.KindSessionClosed, id, map[string]string{"id": id})
		},
		OnTick: b.metrics.ObserveTick,
	}
}

type sealedEvent struct {
	ID          string `json:"id"`
	Scene       string `json:"scene"`
	LastStep    uint32 `json:"lastStep"`
	Ops         int    `json:"ops"`
	Checkpoints int    `json:"checkpoints"`
	ArchiveDir  string `json:"archiveDir,omitempty"`
}

// StartupError reports a failure that should keep readiness red.
func (b *Broker) StartupError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startupErr
}

// SetStartupError records a background startup failure.
func (b *Broker) SetStartupError(err error) {
	b.mu.Lock()
	b.startupErr = err
	b.mu.Unlock()
}

// Uptime reports how long the broker has been running.
func (b *Broker) Uptime() time.Duration {
	return b.now().Sub(b.started)
}

// Handler builds the HTTP surface: REST handlers, the metrics endpoint, docs and the /ws feed.
func (b *Broker) Handler() http.Handler {
	mux := http.NewServeMux()
	httpapi.NewHandlerSet(httpapi.Options{
		Logger:         b.log,
		Readiness:      b,
		Validator:      b.validator,
		Catalog:        b.catalog,
		Sessions:       b.sessions,
		Metrics:        b.metrics.Handler(),
		AdminToken:     b.cfg.AdminToken,
		RateLimiter:    b.limiter,
		TimeSource:     b.now,
		MaxPacketBytes: b.cfg.MaxPayloadBytes,
	}).Register(mux)
	registerDocEndpoints(mux, b.profiles)
	mux.Handle("GET /ws", b.feedHandler())
	return logging.HTTPTraceMiddleware(b.log)(mux)
}

// GRPCServer builds the replay validation gRPC server with the configured authentication.
func (b *Broker) GRPCServer() (*grpc.Server, error) {
	options, err := grpcapi.ServerOptions(grpcapi.SecurityConfig{
		Mode:         b.cfg.GRPCAuth.Mode,
		SharedSecret: b.cfg.GRPCSharedSecret,
		CertPath:     b.cfg.GRPCAuth.CertPath,
		KeyPath:      b.cfg.GRPCAuth.KeyPath,
		ClientCAPath: b.cfg.GRPCAuth.ClientCAPath,
	}, b.log)
	if err != nil {
		return nil, err
	}
	options = append(options, grpc.MaxRecvMsgSize(int(b.cfg.MaxPayloadBytes)+1024))
	service, err := grpcapi.NewService(b.validator, grpcapi.WithLogger(b.log))
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer(options...)
	service.Register(server)
	return server, nil
}

// RunRetention sweeps the archive until ctx is cancelled and exports its footprint.
func (b *Broker) RunRetention(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = retentionInterval
	}
	sweep := func() {
		b.cleaner.RunOnce()
		b.metrics.ObserveArchive(b.cleaner.Stats())
	}
	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Close seals nothing: live sessions are discarded and the catalogue is closed.
func (b *Broker) Close() error {
	var errs []error
	if err := b.sessions.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.catalog.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// feedValidator publishes every verdict to the event feed after the replay finishes.
type feedValidator struct {
	inner  *validation.Service
	events *events.Stream
	log    *logging.Logger
}

type verdictEvent struct {
	RunID               string `json:"runId"`
	PacketSHA256        string `json:"packetSha256"`
	Scene               string `json:"scene,omitempty"`
	Success             bool   `json:"success"`
	Mode                string `json:"mode,omitempty"`
	Step                uint32 `json:"step"`
	CheckpointsVerified int    `json:"checkpointsVerified"`
	Reason              string `json:"reason,omitempty"`
	Message             string `json:"message"`
}

func (v *feedValidator) Validate(ctx context.Context, req validation.Request, onCheckpoint func(replay.CheckpointReport)) (validation.Report, error) {
	report, err := v.inner.Validate(ctx, req, onCheckpoint)
	if err != nil {
		return report, err
	}
	event := verdictEvent{
		RunID:               report.RunID,
		PacketSHA256:        report.PacketSHA256,
		Scene:               report.Scene,
		Success:             report.Result.Success,
		Mode:                string(report.Result.Mode),
		Step:                report.Result.Step,
		CheckpointsVerified: report.Result.CheckpointsVerified,
		Message:             report.Result.Message,
	}
	if !report.Result.Success {
		event.Reason = metrics.FailureReason(report.Result.Err)
	}
	if _, err := v.events.Publish(events.KindVerdict, report.RunID, event); err != nil {
		v.log.Warn("publish verdict failed", logging.String("run_id", report.RunID), logging.Error(err))
	}
	return report, nil
}
