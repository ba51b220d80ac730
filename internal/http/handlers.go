package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"rigidsync/broker/internal/catalog"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/simulation"
	"rigidsync/broker/internal/validation"
)

// DefaultMaxPacketBytes bounds the request body of POST /replay/validate.
const DefaultMaxPacketBytes = 32 << 20

// ReadinessProvider exposes broker state required for readiness checks.
type ReadinessProvider interface {
	StartupError() error
	Uptime() time.Duration
}

// Validator runs submitted packets.
type Validator interface {
	Validate(ctx context.Context, req validation.Request, onCheckpoint func(replay.CheckpointReport)) (validation.Report, error)
}

// RunCatalog lists recorded verdicts.
type RunCatalog interface {
	List(ctx context.Context, filter catalog.Filter) ([]catalog.Run, error)
	Get(ctx context.Context, id string) (catalog.Run, error)
	Summarize(ctx context.Context) (catalog.Summary, error)
	Ping(ctx context.Context) error
}

// SessionManager owns live recording sessions.
type SessionManager interface {
	Create(cfg simulation.SessionConfig) (*simulation.Session, error)
	Get(id string) (*simulation.Session, error)
	List() []simulation.Status
	Seal(id string) (simulation.SealResult, error)
	Discard(id string) error
}

// RequestLimiter gates requests per caller.
type RequestLimiter interface {
	AllowRequest(r *http.Request) bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger         *logging.Logger
	Readiness      ReadinessProvider
	Validator      Validator
	Catalog        RunCatalog
	Sessions       SessionManager
	Metrics        http.Handler
	AdminToken     string
	RateLimiter    RequestLimiter
	TimeSource     func() time.Time
	MaxPacketBytes int64
}

// HandlerSet bundles the broker HTTP handlers.
type HandlerSet struct {
	logger         *logging.Logger
	readiness      ReadinessProvider
	validator      Validator
	catalog        RunCatalog
	sessions       SessionManager
	metrics        http.Handler
	adminToken     string
	rateLimiter    RequestLimiter
	now            func() time.Time
	maxPacketBytes int64
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	maxBytes := opts.MaxPacketBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPacketBytes
	}
	return &HandlerSet{
		logger:         logger,
		readiness:      opts.Readiness,
		validator:      opts.Validator,
		catalog:        opts.Catalog,
		sessions:       opts.Sessions,
		metrics:        opts.Metrics,
		adminToken:     strings.TrimSpace(opts.AdminToken),
		rateLimiter:    opts.RateLimiter,
		now:            now,
		maxPacketBytes: maxBytes,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("GET /livez", h.LivenessHandler())
	mux.HandleFunc("GET /readyz", h.ReadinessHandler())
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	mux.HandleFunc("POST /replay/validate", h.ValidateHandler())
	mux.HandleFunc("GET /replay/runs", h.RunsHandler())
	mux.HandleFunc("GET /replay/runs/{id}", h.RunHandler())
	mux.HandleFunc("POST /sessions", h.admin(h.CreateSessionHandler()))
	mux.HandleFunc("GET /sessions", h.ListSessionsHandler())
	mux.HandleFunc("GET /sessions/{id}", h.SessionStatusHandler())
	mux.HandleFunc("POST /sessions/{id}/ops", h.admin(h.EnqueueOpsHandler()))
	mux.HandleFunc("POST /sessions/{id}/advance", h.admin(h.AdvanceSessionHandler()))
	mux.HandleFunc("POST /sessions/{id}/seal", h.admin(h.SealSessionHandler()))
	mux.HandleFunc("DELETE /sessions/{id}", h.admin(h.DiscardSessionHandler()))
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including the catalogue and live session count.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
		Catalog       string  `json:"catalog"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", Catalog: "disabled"}
		fail := func(message string) {
			status = http.StatusServiceUnavailable
			resp.Status = "error"
			if resp.Message == "" {
				resp.Message = message
			}
		}
		if h.readiness != nil {
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				fail(err.Error())
			}
		}
		if h.sessions != nil {
			resp.Sessions = len(h.sessions.List())
		}
		if h.catalog != nil {
			//1.- Bound the ping so a wedged database cannot hang the probe.
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := h.catalog.Ping(ctx)
			cancel()
			resp.Catalog = "ok"
			if err != nil {
				resp.Catalog = "error"
				fail("catalog: " + err.Error())
			}
		}
		writeJSON(w, status, resp)
	}
}

// admin wraps handlers that mutate live sessions. Without a configured token they stay open.
func (h *HandlerSet) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken != "" && !h.authorise(r) {
			h.logger.Warn("admin request denied",
				logging.String("path", r.URL.Path),
				logging.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
