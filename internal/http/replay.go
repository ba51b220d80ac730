package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"rigidsync/broker/internal/catalog"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/validation"
)

// ValidateHandler replays the posted packet. The verdict is returned with 200 whether the replay
// passed or failed; 4xx is reserved for requests that could not be judged.
func (h *HandlerSet) ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_validate"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if h.validator == nil {
			writeError(w, http.StatusServiceUnavailable, "validation is unavailable")
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.AllowRequest(r) {
			reqLogger.Warn("validation denied: rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		raw, err := h.readPacket(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "packet too large")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		query := r.URL.Query()
		archive, _ := strconv.ParseBool(query.Get("archive"))
		report, err := h.validator.Validate(r.Context(), validation.Request{
			Raw:     raw,
			Backend: query.Get("backend"),
			Profile: query.Get("profile"),
			Archive: archive,
			Source:  "http",
		}, nil)
		if err != nil {
			if errors.Is(err, validation.ErrInvalidRequest) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			reqLogger.Error("validation failed", logging.Error(err))
			writeError(w, http.StatusInternalServerError, "validation failed")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (h *HandlerSet) readPacket(r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(nil, r.Body, h.maxPacketBytes)
	defer body.Close()
	var reader io.Reader = body
	//1.- Accept zstd and gzip bodies so archived packets can be posted as stored.
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "zstd":
		dec, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		defer dec.Close()
		reader = dec
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", r.Header.Get("Content-Encoding"))
	}
	//2.- Bound the decoded size too so a small compressed body cannot expand without limit.
	raw, err := io.ReadAll(io.LimitReader(reader, h.maxPacketBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > h.maxPacketBytes {
		return nil, &http.MaxBytesError{Limit: h.maxPacketBytes}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty packet")
	}
	return raw, nil
}

// RunsHandler lists catalogued verdicts, newest first.
func (h *HandlerSet) RunsHandler() http.HandlerFunc {
	type response struct {
		Runs    []catalog.Run   `json:"runs"`
		Summary catalog.Summary `json:"summary"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.catalog == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog is unavailable")
			return
		}
		filter, err := parseFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		runs, err := h.catalog.List(r.Context(), filter)
		if err != nil {
			h.logger.Error("list runs failed", logging.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		summary, err := h.catalog.Summarize(r.Context())
		if err != nil {
			h.logger.Error("summarise runs failed", logging.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		if runs == nil {
			runs = []catalog.Run{}
		}
		writeJSON(w, http.StatusOK, response{Runs: runs, Summary: summary})
	}
}

// RunHandler returns one catalogued verdict.
func (h *HandlerSet) RunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.catalog == nil {
			writeError(w, http.StatusServiceUnavailable, "catalog is unavailable")
			return
		}
		run, err := h.catalog.Get(r.Context(), r.PathValue("id"))
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			h.logger.Error("get run failed", logging.Error(err))
			writeError(w, http.StatusInternalServerError, "get run failed")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func parseFilter(r *http.Request) (catalog.Filter, error) {
	query := r.URL.Query()
	filter := catalog.Filter{Scene: strings.TrimSpace(query.Get("scene"))}
	if raw := strings.TrimSpace(query.Get("mode")); raw != "" {
		mode, err := replay.ParseMode(strings.ToUpper(raw))
		if err != nil {
			return filter, err
		}
		filter.Mode = mode
	}
	if raw := strings.TrimSpace(query.Get("success")); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fmt.Errorf("success must be a boolean")
		}
		filter.Success = &success
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
