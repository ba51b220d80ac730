package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/scene"
	"rigidsync/broker/internal/simulation"
)

// maxControlBytes bounds session control bodies.
const maxControlBytes = 1 << 20

// maxAdvanceSteps bounds one POST /sessions/{id}/advance.
const maxAdvanceSteps = 100000

type createSessionRequest struct {
	simulation.SessionConfig
	Params json.RawMessage `json:"params,omitempty"`
}

// CreateSessionHandler opens a live recording session.
func (h *HandlerSet) CreateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "live sessions are unavailable")
			return
		}
		var req createSessionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg := req.SessionConfig
		if len(req.Params) > 0 {
			params, err := scene.UnmarshalParams(req.Params)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			cfg.Params = params
		}
		if cfg.Mode != "" {
			mode, err := replay.ParseMode(strings.ToUpper(string(cfg.Mode)))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			cfg.Mode = mode
		}
		session, err := h.sessions.Create(cfg)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, simulation.ErrTooManySessions) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, session.Status())
	}
}

// ListSessionsHandler lists live sessions.
func (h *HandlerSet) ListSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sessions == nil {
			writeJSON(w, http.StatusOK, map[string]any{"sessions": []simulation.Status{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.List()})
	}
}

// SessionStatusHandler reports one live session.
func (h *HandlerSet) SessionStatusHandler() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, session *simulation.Session) {
		writeJSON(w, http.StatusOK, session.Status())
	})
}

// EnqueueOpsHandler queues ops for the next step. The body is a bare array or
// {"seq": n, "sentAt": "...", "ops": [...]}; seq and sentAt feed the session's op gate.
func (h *HandlerSet) EnqueueOpsHandler() http.HandlerFunc {
	type request struct {
		Sequence uint64      `json:"seq"`
		SentAt   time.Time   `json:"sentAt"`
		Ops      []replay.Op `json:"ops"`
	}
	type response struct {
		Queued   int    `json:"queued"`
		Pending  int    `json:"pending"`
		Sequence uint64 `json:"seq,omitempty"`
	}
	return h.withSession(func(w http.ResponseWriter, r *http.Request, session *simulation.Session) {
		var raw json.RawMessage
		if err := decodeBody(r, &raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var req request
		if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal(raw, &req.Ops); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("decode ops: %v", err))
				return
			}
		} else if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode ops: %v", err))
			return
		}
		if len(req.Ops) == 0 {
			writeError(w, http.StatusBadRequest, "no ops supplied")
			return
		}
		pending, decision, err := session.Submit(simulation.Batch{Sequence: req.Sequence, SentAt: req.SentAt}, req.Ops...)
		if err != nil {
			status := http.StatusBadRequest
			switch {
			case errors.Is(err, simulation.ErrSessionClosed):
				status = http.StatusConflict
			case decision.Reason == simulation.DropReasonSequence:
				status = http.StatusConflict
			case decision.Reason == simulation.DropReasonRateLimited:
				status = http.StatusTooManyRequests
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, response{Queued: len(req.Ops), Pending: pending, Sequence: req.Sequence})
	})
}

// AdvanceSessionHandler steps a non-realtime session.
func (h *HandlerSet) AdvanceSessionHandler() http.HandlerFunc {
	return h.withSession(func(w http.ResponseWriter, r *http.Request, session *simulation.Session) {
		var req struct {
			Steps int `json:"steps"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Steps <= 0 || req.Steps > maxAdvanceSteps {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("steps must be within 1..%d", maxAdvanceSteps))
			return
		}
		if err := session.Advance(req.Steps); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, simulation.ErrRealtime), errors.Is(err, simulation.ErrSessionClosed):
				status = http.StatusConflict
			default:
				h.logger.Error("advance session failed", logging.String("session_id", session.ID()), logging.Error(err))
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, session.Status())
	})
}

// SealSessionHandler stops the session and returns its packet.
func (h *HandlerSet) SealSessionHandler() http.HandlerFunc {
	type response struct {
		ID          string         `json:"id"`
		LastStep    uint32         `json:"lastStep"`
		Ops         int            `json:"ops"`
		Checkpoints int            `json:"checkpoints"`
		ArchiveDir  string         `json:"archiveDir,omitempty"`
		Warning     string         `json:"warning,omitempty"`
		Packet      *replay.Packet `json:"packet"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "live sessions are unavailable")
			return
		}
		id := r.PathValue("id")
		result, err := h.sessions.Seal(id)
		if result.Packet == nil {
			writeSessionError(w, err)
			return
		}
		resp := response{
			ID:          id,
			LastStep:    result.Packet.LastStep(),
			Ops:         result.Packet.OpCount(),
			Checkpoints: len(result.Packet.Checkpoints),
			ArchiveDir:  result.ArchiveDir,
			Packet:      result.Packet,
		}
		//1.- The packet is already sealed, so an archive failure is reported next to it.
		if err != nil {
			resp.Warning = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// DiscardSessionHandler drops a session without a packet.
func (h *HandlerSet) DiscardSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "live sessions are unavailable")
			return
		}
		if err := h.sessions.Discard(r.PathValue("id")); err != nil && errors.Is(err, simulation.ErrSessionNotFound) {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *HandlerSet) withSession(next func(http.ResponseWriter, *http.Request, *simulation.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "live sessions are unavailable")
			return
		}
		session, err := h.sessions.Get(r.PathValue("id"))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		next(w, r, session)
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, simulation.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, simulation.ErrSessionClosed), errors.Is(err, replay.ErrSealed):
		writeError(w, http.StatusConflict, err.Error())
	case err == nil:
		writeError(w, http.StatusInternalServerError, "session produced no packet")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxControlBytes))
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
