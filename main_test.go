package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rigidsync/broker/internal/auth"
	"rigidsync/broker/internal/config"
	"rigidsync/broker/internal/events"
	"rigidsync/broker/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Address:         ":0",
		GRPCAddress:     ":1",
		MaxPayloadBytes: config.DefaultMaxPayloadBytes,
		PingInterval:    time.Second,
		Simulation: config.SimulationConfig{
			Backend:         config.DefaultBackend,
			TuningProfile:   config.DefaultTuningProfile,
			FixedTimeStep:   config.DefaultFixedTimeStep,
			MaxSubSteps:     config.DefaultMaxSubSteps,
			CheckpointEvery: 10,
		},
		Replay: config.ReplayConfig{
			Dir:         filepath.Join(dir, "replays"),
			MaxPackets:  config.DefaultReplayMaxPackets,
			CatalogPath: ":memory:",
		},
		ValidateWindow: time.Minute,
		ValidateBurst:  100,
	}
}

func newTestBroker(t *testing.T, cfg *config.Config, opts ...BrokerOption) *Broker {
	t.Helper()
	broker, err := NewBroker(cfg, logging.NewTestLogger(), opts...)
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })
	return broker
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestNewBrokerRejectsUnknownProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.TuningProfile = "turbo"
	if _, err := NewBroker(cfg, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected unknown tuning profile to fail")
	}
}

func TestBrokerServesDocsAndProbes(t *testing.T) {
	broker := newTestBroker(t, testConfig(t))
	server := httptest.NewServer(broker.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/ops")
	if err != nil {
		t.Fatalf("GET /api/ops: %v", err)
	}
	var ops []OpDoc
	if err := json.NewDecoder(resp.Body).Decode(&ops); err != nil {
		t.Fatalf("decode ops: %v", err)
	}
	resp.Body.Close()
	if len(ops) != 21 || ops[0].Op != "applyImpulse" || len(ops[0].Fields) != 3 {
		t.Fatalf("unexpected op docs %+v", ops[:1])
	}
	for _, doc := range ops {
		if doc.Description == "" {
			t.Fatalf("op %s has no description", doc.Op)
		}
	}

	//1.- Every scene, backend and profile listing is non-empty.
	for _, path := range []string{"/api/scenes", "/api/backends", "/api/profiles"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var items []json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		resp.Body.Close()
		if len(items) == 0 {
			t.Fatalf("%s returned nothing", path)
		}
	}

	resp, err = http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready broker, got %d", resp.StatusCode)
	}
	broker.SetStartupError(errors.New("listener failed"))
	resp, err = http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after startup error, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", resp.StatusCode)
	}
}

func dialFeed(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env events.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read feed: %v", err)
	}
	return env
}

func waitForSubscribers(t *testing.T, broker *Broker, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for broker.events.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", want, broker.events.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedResendsUnackedEventsOnReconnect(t *testing.T) {
	broker := newTestBroker(t, testConfig(t))
	server := httptest.NewServer(broker.Handler())
	defer server.Close()

	conn := dialFeed(t, server, "?subscriber=dash-1")
	waitForSubscribers(t, broker, 1)

	resp := postJSON(t, server.URL+"/sessions", `{"scene":"falling-sphere"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: %d", resp.StatusCode)
	}
	opened := readEnvelope(t, conn)
	if opened.Kind != events.KindSessionOpened || opened.Sequence != 1 {
		t.Fatalf("unexpected first event %+v", opened)
	}

	//1.- Without an ack the event comes back after reconnecting under the same id.
	_ = conn.Close()
	waitForSubscribers(t, broker, 0)
	conn = dialFeed(t, server, "?subscriber=dash-1")
	replayed := readEnvelope(t, conn)
	if replayed.Sequence != opened.Sequence || replayed.Subject != opened.Subject {
		t.Fatalf("expected replay of %d, got %+v", opened.Sequence, replayed)
	}
	if err := conn.WriteJSON(feedAck{Ack: replayed.Sequence}); err != nil {
		t.Fatalf("ack: %v", err)
	}

	//2.- After the ack a new connection only sees newer events.
	time.Sleep(50 * time.Millisecond)
	_ = conn.Close()
	waitForSubscribers(t, broker, 0)
	conn = dialFeed(t, server, "?subscriber=dash-1")
	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/sessions/"+opened.Subject, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("discard session: %v", err)
	}
	resp.Body.Close()
	closed := readEnvelope(t, conn)
	if closed.Kind != events.KindSessionClosed || closed.Sequence != 2 {
		t.Fatalf("expected session_closed seq 2, got %+v", closed)
	}
}

func TestFeedRequiresTokenWhenSecretConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.WSAuthSecret = "feed-secret"
	broker := newTestBroker(t, cfg)
	server := httptest.NewServer(broker.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	issuer, err := auth.NewHMACTokenVerifier("feed-secret", 0)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	token, err := issuer.Issue("ops-console", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	dialFeed(t, server, "?auth_token="+token)
	waitForSubscribers(t, broker, 1)
}
