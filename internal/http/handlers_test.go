package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"rigidsync/broker/internal/catalog"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/simulation"
	"rigidsync/broker/internal/validation"
)

type stubReadiness struct {
	uptime time.Duration
	err    error
}

func (s *stubReadiness) StartupError() error   { return s.err }
func (s *stubReadiness) Uptime() time.Duration { return s.uptime }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) AllowRequest(*http.Request) bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type fixture struct {
	mux      *http.ServeMux
	store    *catalog.Store
	sessions *simulation.Manager
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	store, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sessions := simulation.NewManager(simulation.WithLogger(logging.NewTestLogger()))
	t.Cleanup(func() { _ = sessions.Close() })
	opts.Logger = logging.NewTestLogger()
	opts.Catalog = store
	opts.Sessions = sessions
	opts.Validator = validation.New(validation.WithCatalog(store), validation.WithLogger(logging.NewTestLogger()))
	mux := http.NewServeMux()
	NewHandlerSet(opts).Register(mux)
	return fixture{mux: mux, store: store, sessions: sessions}
}

func (f fixture) do(t *testing.T, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

// recordViaAPI drives a whole live session over HTTP and returns the sealed packet JSON.
func recordViaAPI(t *testing.T, f fixture, header map[string]string) []byte {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/sessions", []byte(`{"scene":"falling-sphere","checkpointEvery":20,"params":{"height":4}}`), header)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rr.Code, rr.Body.String())
	}
	id := decode[simulation.Status](t, rr).ID
	ops := `{"ops":[{"op":"applyImpulse","body":2,"vector":{"x":0.5,"y":0,"z":0},"point":{"x":0,"y":4,"z":0}}]}`
	if rr := f.do(t, http.MethodPost, "/sessions/"+id+"/ops", []byte(ops), header); rr.Code != http.StatusAccepted {
		t.Fatalf("enqueue ops: %d %s", rr.Code, rr.Body.String())
	}
	if rr := f.do(t, http.MethodPost, "/sessions/"+id+"/advance", []byte(`{"steps":45}`), header); rr.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, http.MethodPost, "/sessions/"+id+"/seal", nil, header)
	if rr.Code != http.StatusOK {
		t.Fatalf("seal: %d %s", rr.Code, rr.Body.String())
	}
	sealed := decode[struct {
		LastStep    uint32          `json:"lastStep"`
		Ops         int             `json:"ops"`
		Checkpoints int             `json:"checkpoints"`
		Packet      json.RawMessage `json:"packet"`
	}](t, rr)
	if sealed.LastStep != 45 || sealed.Ops != 1 || sealed.Checkpoints != 3 {
		t.Fatalf("unexpected seal response %+v", sealed)
	}
	return sealed.Packet
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2026, time.May, 4, 10, 30, 0, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	handlers.LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	payload := decode[struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}](t, rr)
	if payload.Status != "alive" || payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadinessReportsStartupErrorAndCatalog(t *testing.T) {
	f := newFixture(t, Options{Readiness: &stubReadiness{uptime: 45 * time.Second, err: errors.New("boom")}})
	rr := f.do(t, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	payload := decode[struct {
		Status        string  `json:"status"`
		Message       string  `json:"message"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Catalog       string  `json:"catalog"`
	}](t, rr)
	if payload.Status != "error" || payload.Message != "boom" || payload.Catalog != "ok" || payload.UptimeSeconds != 45 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	//1.- A closed catalogue fails readiness on its own.
	f = newFixture(t, Options{Readiness: &stubReadiness{}})
	_ = f.store.Close()
	if rr := f.do(t, http.MethodGet, "/readyz", nil, nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for closed catalog, got %d", rr.Code)
	}
}

func TestRecordValidateAndListRunsOverHTTP(t *testing.T) {
	f := newFixture(t, Options{})
	packet := recordViaAPI(t, f, nil)

	//1.- The sealed packet validates under STRICT.
	rr := f.do(t, http.MethodPost, "/replay/validate", packet, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: %d %s", rr.Code, rr.Body.String())
	}
	report := decode[validation.Report](t, rr)
	if !report.Result.Success || report.Result.CheckpointsVerified != 3 || len(report.Checkpoints) != 3 {
		t.Fatalf("unexpected report %+v", report)
	}

	//2.- A zstd body is accepted as stored in archives.
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	compressed := enc.EncodeAll(packet, nil)
	if rr := f.do(t, http.MethodPost, "/replay/validate", compressed, map[string]string{"Content-Encoding": "zstd"}); rr.Code != http.StatusOK {
		t.Fatalf("zstd validate: %d %s", rr.Code, rr.Body.String())
	}

	//3.- A tampered checkpoint yields a failing verdict with status 200.
	var doc map[string]any
	if err := json.Unmarshal(packet, &doc); err != nil {
		t.Fatalf("unmarshal packet: %v", err)
	}
	doc["checkpoints"].([]any)[0].(map[string]any)["sha256"] = strings.Repeat("0", 64)
	tampered, _ := json.Marshal(doc)
	rr = f.do(t, http.MethodPost, "/replay/validate", tampered, nil)
	report = decode[validation.Report](t, rr)
	if rr.Code != http.StatusOK || report.Result.Success || report.Result.Step != 20 {
		t.Fatalf("expected mismatch at step 20, got %d %+v", rr.Code, report.Result)
	}

	//4.- The catalogue lists all three verdicts and filters them.
	listing := decode[struct {
		Runs    []catalog.Run   `json:"runs"`
		Summary catalog.Summary `json:"summary"`
	}](t, f.do(t, http.MethodGet, "/replay/runs?mode=strict&success=false", nil, nil))
	if len(listing.Runs) != 1 || listing.Summary.Total != 3 || listing.Summary.Failed != 1 {
		t.Fatalf("unexpected listing %+v", listing)
	}
	if rr := f.do(t, http.MethodGet, "/replay/runs/"+listing.Runs[0].ID, nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("get run: %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/replay/runs/missing", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/replay/runs?limit=-1", nil, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestValidateRejectsUnjudgeableRequests(t *testing.T) {
	f := newFixture(t, Options{MaxPacketBytes: 64})
	if rr := f.do(t, http.MethodPost, "/replay/validate", nil, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodPost, "/replay/validate", bytes.Repeat([]byte("x"), 128), nil); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodPost, "/replay/validate", []byte("{}"), map[string]string{"Content-Encoding": "br"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown encoding, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/replay/validate", nil, nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestValidateRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimiter: &stubLimiter{remaining: 1}})
	if rr := f.do(t, http.MethodPost, "/replay/validate", []byte(`{"magic":"RPKT"}`), nil); rr.Code != http.StatusOK {
		t.Fatalf("expected framing verdict, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodPost, "/replay/validate", []byte(`{"magic":"RPKT"}`), nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", rr.Code)
	}
}

func TestSessionEndpointsRequireAdminToken(t *testing.T) {
	f := newFixture(t, Options{AdminToken: "topsecret"})
	if rr := f.do(t, http.MethodPost, "/sessions", []byte(`{"scene":"falling-sphere"}`), nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	packet := recordViaAPI(t, f, map[string]string{"Authorization": "Bearer topsecret"})
	p, err := replay.DecodePacket(packet)
	if err != nil {
		t.Fatalf("sealed packet must decode: %v", err)
	}
	if p.Scene.Name != "falling-sphere" {
		t.Fatalf("unexpected scene %q", p.Scene.Name)
	}
	//1.- Reads stay open.
	if rr := f.do(t, http.MethodGet, "/sessions", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected list to be public, got %d", rr.Code)
	}
}

func TestSessionEndpointErrors(t *testing.T) {
	f := newFixture(t, Options{})
	if rr := f.do(t, http.MethodPost, "/sessions", []byte(`{"scene":"nope"}`), nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown scene, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/sessions/missing", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr := f.do(t, http.MethodPost, "/sessions", []byte(`{"scene":"falling-sphere","mode":"behavioural","profile":"fast"}`), nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	id := decode[simulation.Status](t, rr).ID
	if rr := f.do(t, http.MethodPost, "/sessions/"+id+"/ops", []byte(`[{"op":"applyImpulse","body":2}]`), nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for op without vector, got %d", rr.Code)
	}
	//1.- A retried sequenced batch is refused instead of applied twice.
	force := []byte(`{"seq":7,"ops":[{"op":"applyForce","body":2,"vector":{"x":1,"y":0,"z":0}}]}`)
	if rr := f.do(t, http.MethodPost, "/sessions/"+id+"/ops", force, nil); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for first batch, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := f.do(t, http.MethodPost, "/sessions/"+id+"/ops", force, nil); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for replayed seq, got %d", rr.Code)
	}
	if status, _ := f.sessions.Get(id); status.Status().Drops.Sequence != 1 || status.Status().Pending != 1 {
		t.Fatalf("unexpected gate state %+v", status.Status())
	}
	if rr := f.do(t, http.MethodPost, "/sessions/"+id+"/advance", []byte(`{"steps":0}`), nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero steps, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodDelete, "/sessions/"+id, nil, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on discard, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodPost, "/sessions/"+id+"/seal", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after discard, got %d", rr.Code)
	}
	if _, err := f.sessions.Get(id); err == nil {
		t.Fatalf("discarded session still registered")
	}
}
