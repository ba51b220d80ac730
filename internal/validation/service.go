// Package validation runs submitted replay packets and records their verdicts.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/catalog"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/metrics"
	"rigidsync/broker/internal/replay"
)

// DefaultConcurrency bounds how many replays run at once.
const DefaultConcurrency = 4

// ErrInvalidRequest marks requests rejected before any packet is examined.
var ErrInvalidRequest = errors.New("invalid validation request")

// Request is one packet submitted for validation.
type Request struct {
	// Raw is the packet JSON exactly as submitted.
	Raw []byte
	// Backend optionally replays on another backend; STRICT packets refuse this.
	Backend string
	// Profile optionally replays under another named tuning profile.
	Profile string
	// Archive stores the accepted packet next to live session archives.
	Archive bool
	// Source labels where the packet came from (http, grpc, cli).
	Source string
}

// Report is the verdict plus bookkeeping for one request.
type Report struct {
	RunID        string                    `json:"runId"`
	PacketSHA256 string                    `json:"packetSha256"`
	Scene        string                    `json:"scene,omitempty"`
	Result       replay.Result             `json:"result"`
	Checkpoints  []replay.CheckpointReport `json:"checkpoints,omitempty"`
	ArchiveDir   string                    `json:"archiveDir,omitempty"`
}

// Option customises the service.
type Option func(*Service)

// WithCatalog persists every verdict.
func WithCatalog(store *catalog.Store) Option {
	return func(s *Service) { s.catalog = store }
}

// WithMetrics exports verdict counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProfiles supplies the tuning profiles requests may name.
func WithProfiles(profiles backend.Profiles) Option {
	return func(s *Service) {
		if len(profiles) > 0 {
			s.profiles = profiles
		}
	}
}

// WithArchiveRoot enables archiving of submitted packets.
func WithArchiveRoot(root string) Option {
	return func(s *Service) { s.archiveRoot = strings.TrimSpace(root) }
}

// WithLogger routes service logs.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithClock overrides the time source used for archive names.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithConcurrency bounds parallel replays.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// Service validates packets.
type Service struct {
	catalog     *catalog.Store
	metrics     *metrics.Metrics
	profiles    backend.Profiles
	archiveRoot string
	log         *logging.Logger
	now         func() time.Time
	slots       chan struct{}
}

// New constructs a validation service.
func New(opts ...Option) *Service {
	s := &Service{
		profiles: backend.BuiltinProfiles(),
		log:      logging.L(),
		now:      time.Now,
		slots:    make(chan struct{}, DefaultConcurrency),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(logging.String("component", "validation"))
	return s
}

// Catalog exposes the configured store, which may be nil.
func (s *Service) Catalog() *catalog.Store { return s.catalog }

// Validate decodes and replays a packet. Replay failures are verdicts carried in the report; the
// returned error is reserved for requests that could not be judged at all.
func (s *Service) Validate(ctx context.Context, req Request, onCheckpoint func(replay.CheckpointReport)) (Report, error) {
	if s == nil {
		return Report{}, fmt.Errorf("validation service is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(req.Raw) == 0 {
		return Report{}, fmt.Errorf("%w: empty packet", ErrInvalidRequest)
	}
	//1.- Wait for a replay slot so bursts cannot pin every core.
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}

	sum := sha256.Sum256(req.Raw)
	report := Report{RunID: uuid.NewString(), PacketSHA256: hex.EncodeToString(sum[:])}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "unknown"
	}
	logger := s.log.With(logging.String("run_id", report.RunID), logging.String("source", source))

	//2.- Decode through the schema; framing problems are a failed verdict, not a service error.
	started := s.now()
	packet, err := replay.DecodePacket(req.Raw)
	if err != nil {
		report.Result = replay.Result{Message: err.Error(), Err: err, Duration: s.now().Sub(started)}
		logger.Warn("packet rejected", logging.Error(err))
		return s.finish(ctx, report, nil, source)
	}
	report.Scene = packet.Scene.Name

	opts := replay.Options{Logger: logger, Backend: strings.TrimSpace(req.Backend), Clock: s.now}
	if name := strings.TrimSpace(req.Profile); name != "" {
		tuning, err := s.profiles.Resolve(name)
		if err != nil {
			return Report{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		opts.Tuning = &tuning
	}
	opts.OnCheckpoint = func(cp replay.CheckpointReport) {
		report.Checkpoints = append(report.Checkpoints, cp)
		if onCheckpoint != nil {
			onCheckpoint(cp)
		}
	}
	runner, err := replay.NewRunner(packet, opts)
	if err != nil {
		report.Result = replay.Result{Mode: packet.ValidationMode, Message: err.Error(), Err: err}
		return s.finish(ctx, report, packet, source)
	}
	report.Result = runner.Run()

	//3.- Archive accepted packets only; rejected ones stay in the catalogue as verdicts.
	if req.Archive && report.Result.Success && s.archiveRoot != "" {
		dir, err := replay.Archive(s.archiveRoot, "validated-"+report.RunID[:8], packet, s.now)
		if err != nil {
			logger.Error("archive validated packet failed", logging.Error(err))
		} else {
			report.ArchiveDir = dir
			s.metrics.PacketArchived()
		}
	}
	return s.finish(ctx, report, packet, source)
}

func (s *Service) finish(ctx context.Context, report Report, packet *replay.Packet, source string) (Report, error) {
	s.metrics.ObserveValidation(report.Result)
	s.log.Info("packet validated",
		logging.String("run_id", report.RunID),
		logging.Bool("success", report.Result.Success),
		logging.String("mode", string(report.Result.Mode)),
		logging.Uint32("step", report.Result.Step),
		logging.Int("checkpoints", report.Result.CheckpointsVerified),
		logging.String("reason", metrics.FailureReason(report.Result.Err)),
	)
	if s.catalog == nil {
		return report, nil
	}
	run := catalog.FromResult(packet, report.Result, report.PacketSHA256, source)
	run.ID = report.RunID
	run.CreatedAt = s.now().UTC()
	run.ArchiveDir = report.ArchiveDir
	if _, err := s.catalog.Record(ctx, run); err != nil {
		return report, fmt.Errorf("catalogue verdict: %w", err)
	}
	return report, nil
}
