package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/scene"
	"rigidsync/broker/internal/world"
)

var (
	// ErrSessionNotFound is returned when a session id is not live.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned for operations on a sealed or discarded session.
	ErrSessionClosed = errors.New("session closed")
	// ErrRealtime is returned when a caller tries to advance a session driven by its own loop.
	ErrRealtime = errors.New("session advances in realtime")
	// ErrTooManySessions indicates the manager reached its capacity.
	ErrTooManySessions = errors.New("session capacity reached")
)

// DefaultMaxSessions bounds how many live sessions one manager keeps.
const DefaultMaxSessions = 32

// SessionConfig describes a live recording session.
type SessionConfig struct {
	Scene           string             `json:"scene"`
	Params          *scene.Params      `json:"-"`
	Backend         string             `json:"backend,omitempty"`
	Profile         string             `json:"profile,omitempty"`
	Mode            replay.Mode        `json:"mode,omitempty"`
	Invariants      *replay.Invariants `json:"invariants,omitempty"`
	Seed            uint64             `json:"seed,omitempty"`
	FixedTimeStep   float64            `json:"fixedTimeStep,omitempty"`
	MaxSubSteps     int                `json:"maxSubSteps,omitempty"`
	CheckpointEvery uint32             `json:"checkpointEvery,omitempty"`
	Realtime        bool               `json:"realtime,omitempty"`
}

// Hooks observe session lifecycle events. Every field is optional. OnCheckpoint runs while the
// session holds its lock and must not call back into the session.
type Hooks struct {
	OnOpened     func(id string)
	OnCheckpoint func(id string, cp replay.Checkpoint)
	OnSealed     func(id string, p *replay.Packet, archiveDir string)
	OnClosed     func(id string)
	OnTick       func(seconds float64)
}

// Status is a read-only view of a session for status endpoints.
type Status struct {
	ID        string               `json:"id"`
	Scene     string               `json:"scene"`
	Backend   string               `json:"backend"`
	Profile   string               `json:"profile"`
	Mode      replay.Mode          `json:"mode"`
	Realtime  bool                 `json:"realtime"`
	CreatedAt time.Time            `json:"createdAt"`
	Step      uint32               `json:"step"`
	Pending   int                  `json:"pending"`
	Recorder  replay.RecorderStats `json:"recorder"`
	AvgTickMs float64              `json:"avgTickMs"`
	MaxTickMs float64              `json:"maxTickMs"`
	Overruns  int                  `json:"overruns"`
	Sealed    bool                 `json:"sealed"`
	Rejected  int                  `json:"rejectedOps"`
	Sequence  uint64               `json:"lastSequence,omitempty"`
	Drops     DropCounters         `json:"drops"`
	LastError string               `json:"lastError,omitempty"`
}

// SealResult is what sealing a session produces.
type SealResult struct {
	Packet     *replay.Packet
	ArchiveDir string
}

// Session owns one recording world. Ops are queued by callers and applied at the start of the next
// step so the world keeps a single writer.
type Session struct {
	mu        sync.Mutex
	id        string
	cfg       SessionConfig
	profile   string
	createdAt time.Time
	rec       *replay.Recorder
	pending   []replay.Op
	rejected  int
	loop      *Loop
	monitor   *TickMonitor
	gate      *Gate
	log       *logging.Logger
	lastErr   error
	closed    bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Enqueue validates ops and queues them for the next step as an unsequenced batch.
func (s *Session) Enqueue(ops ...replay.Op) (int, error) {
	pending, _, err := s.Submit(Batch{}, ops...)
	return pending, err
}

// Submit validates ops, passes the batch through the session gate and queues it for the next step.
// A gate refusal returns ErrBatchDropped together with the decision.
func (s *Session) Submit(b Batch, ops ...replay.Op) (int, Decision, error) {
	if s == nil {
		return 0, Decision{}, ErrSessionNotFound
	}
	//1.- Validate the whole batch first so a bad op never leaves half a batch queued.
	for i := range ops {
		if err := ops[i].Validate(); err != nil {
			return 0, Decision{}, fmt.Errorf("op %d: %w", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, Decision{}, ErrSessionClosed
	}
	decision := s.gate.Evaluate(b)
	if !decision.Accepted {
		s.log.Debug("op batch dropped",
			logging.String("reason", string(decision.Reason)),
			logging.Uint64("sequence", b.Sequence),
		)
		return len(s.pending), decision, fmt.Errorf("%w: %s", ErrBatchDropped, decision.Reason)
	}
	s.pending = append(s.pending, ops...)
	return len(s.pending), decision, nil
}

// Advance runs n steps synchronously. Only sessions without a realtime loop accept it.
func (s *Session) Advance(n int) error {
	if s == nil {
		return ErrSessionNotFound
	}
	if s.cfg.Realtime {
		return ErrRealtime
	}
	for i := 0; i < n; i++ {
		started := time.Now()
		if err := s.tick(); err != nil {
			return err
		}
		s.monitor.Observe(time.Since(started))
	}
	return nil
}

func (s *Session) tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	//1.- Drain queued ops against the recorder so accepted ones land in the current input frame.
	pending := s.pending
	s.pending = nil
	for i := range pending {
		if err := pending[i].Apply(s.rec); err != nil {
			s.rejected++
			s.lastErr = err
			s.log.Warn("live op rejected",
				logging.String("op", string(pending[i].Op)),
				logging.Uint32("step", s.rec.StepCount()),
				logging.Error(err),
			)
		}
	}
	//2.- Step by the fixed timestep regardless of wall time so the recording stays replayable.
	if err := s.rec.Step(s.rec.FixedTimeStep()); err != nil {
		s.lastErr = err
		return fmt.Errorf("session %s step: %w", s.id, err)
	}
	return nil
}

// Status reports the current progress.
func (s *Session) Status() Status {
	if s == nil {
		return Status{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	timings := s.monitor.Snapshot()
	status := Status{
		ID:        s.id,
		Scene:     s.cfg.Scene,
		Backend:   s.rec.Backend(),
		Profile:   s.profile,
		Mode:      s.cfg.Mode,
		Realtime:  s.cfg.Realtime,
		CreatedAt: s.createdAt,
		Pending:   len(s.pending),
		Recorder:  s.rec.Stats(),
		AvgTickMs: float64(timings.Average) / float64(time.Millisecond),
		MaxTickMs: float64(timings.Max) / float64(time.Millisecond),
		Overruns:  timings.Overruns,
		Sealed:    s.closed,
		Rejected:  s.rejected,
		Sequence:  s.gate.LastSequence(),
		Drops:     s.gate.Drops(),
	}
	status.Step = status.Recorder.Step
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *Session) stopLoop() {
	if s.loop != nil {
		s.loop.Stop()
	}
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithLogger routes manager and session logs.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.log = logger
		}
	}
}

// WithClock overrides the time source used for session timestamps and packets.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithProfiles replaces the built-in tuning profiles.
func WithProfiles(profiles backend.Profiles) ManagerOption {
	return func(m *Manager) {
		if len(profiles) > 0 {
			m.profiles = profiles
		}
	}
}

// WithDefaults sets the world parameters applied when a session config leaves them empty.
func WithDefaults(defaults SessionConfig) ManagerOption {
	return func(m *Manager) { m.defaults = defaults }
}

// WithArchiveRoot archives sealed packets below root.
func WithArchiveRoot(root string) ManagerOption {
	return func(m *Manager) { m.archiveRoot = strings.TrimSpace(root) }
}

// WithHooks installs lifecycle observers.
func WithHooks(hooks Hooks) ManagerOption {
	return func(m *Manager) { m.hooks = hooks }
}

// WithGate applies cfg to the op batches of every session.
func WithGate(cfg GateConfig) ManagerOption {
	return func(m *Manager) { m.gate = cfg }
}

// WithMaxSessions bounds the number of live sessions.
func WithMaxSessions(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// Manager tracks live recording sessions.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	profiles    backend.Profiles
	defaults    SessionConfig
	archiveRoot string
	hooks       Hooks
	gate        GateConfig
	maxSessions int
	log         *logging.Logger
	now         func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewManager constructs an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:    make(map[string]*Session),
		profiles:    backend.BuiltinProfiles(),
		maxSessions: DefaultMaxSessions,
		log:         logging.L(),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Manager) resolve(cfg SessionConfig) (SessionConfig, backend.Tuning, error) {
	//1.- Fill gaps from the manager defaults then from the package defaults.
	if strings.TrimSpace(cfg.Scene) == "" {
		cfg.Scene = m.defaults.Scene
	}
	if cfg.Backend == "" {
		cfg.Backend = m.defaults.Backend
	}
	if cfg.Profile == "" {
		cfg.Profile = m.defaults.Profile
	}
	if cfg.Profile == "" {
		cfg.Profile = "deterministic"
	}
	if cfg.Mode == "" {
		cfg.Mode = m.defaults.Mode
	}
	if cfg.Mode == "" {
		cfg.Mode = replay.Strict
	}
	if !(cfg.FixedTimeStep > 0) {
		cfg.FixedTimeStep = m.defaults.FixedTimeStep
	}
	if cfg.MaxSubSteps <= 0 {
		cfg.MaxSubSteps = m.defaults.MaxSubSteps
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = m.defaults.CheckpointEvery
	}
	//2.- Reject what cannot be recorded before a world is opened.
	if _, err := scene.Lookup(cfg.Scene); err != nil {
		return cfg, backend.Tuning{}, err
	}
	if _, err := replay.ParseMode(string(cfg.Mode)); err != nil {
		return cfg, backend.Tuning{}, err
	}
	tuning, err := m.profiles.Resolve(cfg.Profile)
	if err != nil {
		return cfg, backend.Tuning{}, err
	}
	return cfg, tuning, nil
}

// Create opens a world, builds the scene, captures the baseline and, for realtime sessions, starts
// the stepping loop.
func (m *Manager) Create(cfg SessionConfig) (*Session, error) {
	if m == nil {
		return nil, fmt.Errorf("manager is nil")
	}
	cfg, tuning, err := m.resolve(cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	full := len(m.sessions) >= m.maxSessions
	m.mu.Unlock()
	if full {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	logger := m.log.With(logging.String("session_id", id))
	wcfg := world.DefaultConfig()
	wcfg.Backend = cfg.Backend
	wcfg.Tuning = tuning
	wcfg.Logger = logger
	if cfg.FixedTimeStep > 0 {
		wcfg.FixedTimeStep = cfg.FixedTimeStep
	}
	if cfg.MaxSubSteps > 0 {
		wcfg.MaxSubSteps = cfg.MaxSubSteps
	}
	w, err := world.New(wcfg)
	if err != nil {
		return nil, err
	}

	session := &Session{id: id, profile: tuning.Profile, createdAt: m.now().UTC(), log: logger}
	session.monitor = NewTickMonitor(time.Duration(w.FixedTimeStep()*float64(time.Second)), m.hooks.OnTick)
	session.gate = NewGate(m.gate, m.now)
	hooks := m.hooks
	rec, err := replay.NewRecorder(w, replay.RecorderConfig{
		Mode:            cfg.Mode,
		Invariants:      cfg.Invariants,
		Seed:            cfg.Seed,
		CheckpointEvery: cfg.CheckpointEvery,
		Clock:           m.now,
		Logger:          logger,
		OnCheckpoint: func(cp replay.Checkpoint) {
			if hooks.OnCheckpoint != nil {
				hooks.OnCheckpoint(id, cp)
			}
		},
	})
	if err != nil {
		return nil, errors.Join(err, w.Close())
	}
	//1.- Build through the recorder so the scene's ids are the ones the baseline carries.
	params, err := scene.Build(rec, cfg.Scene, cfg.Params)
	if err != nil {
		return nil, errors.Join(err, w.Close())
	}
	rec.SetScene(replay.SceneRef{Name: cfg.Scene, Params: params})
	if err := rec.CaptureInitialSnapshot(); err != nil {
		return nil, errors.Join(err, w.Close())
	}
	cfg.Params = params
	session.cfg = cfg
	session.rec = rec

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, errors.Join(ErrTooManySessions, w.Close())
	}
	m.sessions[id] = session
	m.mu.Unlock()

	//2.- Realtime sessions step on their own loop at the fixed timestep rate.
	if cfg.Realtime {
		hz := 1 / w.FixedTimeStep()
		session.loop = NewLoop(hz, func(time.Duration) error { return session.tick() },
			WithMonitor(session.monitor),
			WithErrorHandler(func(err error) {
				if !errors.Is(err, ErrSessionClosed) {
					logger.Error("live session halted", logging.Error(err))
				}
			}),
		)
		session.loop.Start(m.ctx)
	}
	logger.Info("live session opened",
		logging.String("scene", cfg.Scene),
		logging.String("backend", w.Backend()),
		logging.String("profile", tuning.Profile),
		logging.String("mode", string(cfg.Mode)),
		logging.Bool("realtime", cfg.Realtime),
	)
	if m.hooks.OnOpened != nil {
		m.hooks.OnOpened(id)
	}
	return session, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	if m == nil {
		return nil, ErrSessionNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// List returns the status of every live session ordered by creation time.
func (m *Manager) List() []Status {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	statuses := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].CreatedAt.Equal(statuses[j].CreatedAt) {
			return statuses[i].ID < statuses[j].ID
		}
		return statuses[i].CreatedAt.Before(statuses[j].CreatedAt)
	})
	return statuses
}

// Seal stops the session, builds its packet, archives it when an archive root is configured and
// releases the world. Ops still queued are discarded.
func (m *Manager) Seal(id string) (SealResult, error) {
	session, err := m.Get(id)
	if err != nil {
		return SealResult{}, err
	}
	//1.- Stop the loop outside the session lock because a running tick needs it.
	session.stopLoop()

	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return SealResult{}, ErrSessionClosed
	}
	dropped := len(session.pending)
	session.pending = nil
	packet, err := session.rec.BuildPacket()
	session.closed = true
	closeErr := session.rec.Close()
	session.mu.Unlock()
	m.forget(id)

	if err != nil {
		return SealResult{}, errors.Join(err, closeErr)
	}
	if closeErr != nil {
		session.log.Warn("closing sealed world failed", logging.Error(closeErr))
	}

	//2.- Archive after the world is released; a failed archive still returns the packet.
	result := SealResult{Packet: packet}
	if m.archiveRoot != "" {
		dir, archiveErr := replay.Archive(m.archiveRoot, id, packet, m.now)
		if archiveErr != nil {
			session.log.Error("archive sealed packet failed", logging.Error(archiveErr))
			err = fmt.Errorf("archive packet: %w", archiveErr)
		}
		result.ArchiveDir = dir
	}
	session.log.Info("live session sealed",
		logging.Uint32("last_step", packet.LastStep()),
		logging.Int("ops", packet.OpCount()),
		logging.Int("checkpoints", len(packet.Checkpoints)),
		logging.Int("dropped_ops", dropped),
		logging.String("archive_dir", result.ArchiveDir),
	)
	if m.hooks.OnSealed != nil {
		m.hooks.OnSealed(id, packet, result.ArchiveDir)
	}
	return result, err
}

// Discard drops a session without building a packet.
func (m *Manager) Discard(id string) error {
	session, err := m.Get(id)
	if err != nil {
		return err
	}
	session.stopLoop()
	session.mu.Lock()
	var closeErr error
	if !session.closed {
		session.closed = true
		closeErr = session.rec.Close()
	}
	session.mu.Unlock()
	m.forget(id)
	session.log.Info("live session discarded")
	return closeErr
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok && m.hooks.OnClosed != nil {
		m.hooks.OnClosed(id)
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close discards every live session and stops all loops.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	var errs []error
	for _, id := range ids {
		if err := m.Discard(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	m.cancel()
	return errors.Join(errs...)
}
