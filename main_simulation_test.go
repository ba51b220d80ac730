package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"rigidsync/broker/internal/events"
	grpcapi "rigidsync/broker/internal/grpc"
	"rigidsync/broker/internal/proto/pb"
	"rigidsync/broker/internal/simulation"
)

func dialBrokerGRPC(t *testing.T, broker *Broker) *grpc.ClientConn {
	t.Helper()
	server, err := broker.GRPCServer()
	if err != nil {
		t.Fatalf("GRPCServer: %v", err)
	}
	listener := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// TestRealtimeSessionRecordsAndValidatesOverGRPC drives the whole broker: a realtime session is
// recorded over HTTP, watched over the feed, sealed, then validated over gRPC.
func TestRealtimeSessionRecordsAndValidatesOverGRPC(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPCSharedSecret = "grpc-secret"
	broker := newTestBroker(t, cfg)
	server := httptest.NewServer(broker.Handler())
	defer server.Close()
	feed := dialFeed(t, server, "?subscriber=e2e")
	waitForSubscribers(t, broker, 1)

	//1.- Open a realtime session stepping at 200 Hz.
	resp := postJSON(t, server.URL+"/sessions", `{"scene":"sphere-stack","realtime":true,"fixedTimeStep":0.005,"checkpointEvery":10,"params":{"count":3}}`)
	var status simulation.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || !status.Realtime {
		t.Fatalf("unexpected create response %d %+v", resp.StatusCode, status)
	}

	//2.- The feed reports the opening and the first live checkpoints.
	if env := readEnvelope(t, feed); env.Kind != events.KindSessionOpened || env.Subject != status.ID {
		t.Fatalf("expected session_opened, got %+v", env)
	}
	var lastAck uint64
	for checkpoints := 0; checkpoints < 2; {
		env := readEnvelope(t, feed)
		if env.Kind == events.KindCheckpoint {
			checkpoints++
		}
		lastAck = env.Sequence
	}
	if err := feed.WriteJSON(feedAck{Ack: lastAck}); err != nil {
		t.Fatalf("ack: %v", err)
	}

	//3.- Advancing a realtime session by hand is refused.
	resp = postJSON(t, server.URL+"/sessions/"+status.ID+"/advance", `{"steps":5}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for manual advance, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/sessions/"+status.ID+"/seal", ``)
	var sealed struct {
		LastStep   uint32          `json:"lastStep"`
		ArchiveDir string          `json:"archiveDir"`
		Packet     json.RawMessage `json:"packet"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sealed); err != nil {
		t.Fatalf("decode seal: %v", err)
	}
	resp.Body.Close()
	if sealed.LastStep < 20 || sealed.ArchiveDir == "" {
		t.Fatalf("unexpected seal response step=%d dir=%q", sealed.LastStep, sealed.ArchiveDir)
	}

	//4.- The sealed packet passes STRICT validation over gRPC.
	client := grpcapi.NewReplayClient(dialBrokerGRPC(t, broker), cfg.GRPCSharedSecret)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	verdict, err := client.Validate(ctx, &pb.ValidateRequest{Packet: sealed.Packet})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Success || verdict.Mode != "STRICT" || verdict.Step != sealed.LastStep {
		t.Fatalf("unexpected verdict %v", verdict)
	}

	//5.- Sealing, closing and the verdict all reach the feed.
	seen := map[events.Kind]bool{}
	for !seen[events.KindVerdict] {
		env := readEnvelope(t, feed)
		seen[env.Kind] = true
		if env.Kind == events.KindVerdict && env.Subject != verdict.GetRunId() {
			t.Fatalf("verdict subject %q, want %q", env.Subject, verdict.GetRunId())
		}
	}
	if !seen[events.KindSessionSealed] || !seen[events.KindSessionClosed] {
		t.Fatalf("missing lifecycle events, saw %v", seen)
	}

	//6.- The verdict is catalogued and the counters are exported.
	resp, err = http.Get(server.URL + "/replay/runs/" + verdict.GetRunId())
	if err != nil {
		t.Fatalf("GET run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected catalogued run, got %d", resp.StatusCode)
	}
	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"validations_total", "packets_archived_total", "live_steps_total"} {
		if !containsMetric(string(body), name) {
			t.Fatalf("metric %s missing from exposition", name)
		}
	}
}

func TestGRPCRejectsMissingSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPCSharedSecret = "grpc-secret"
	broker := newTestBroker(t, cfg)
	client := grpcapi.NewReplayClient(dialBrokerGRPC(t, broker), "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Validate(ctx, &pb.ValidateRequest{Packet: []byte(`{}`)}); err == nil {
		t.Fatalf("expected unauthenticated call to fail")
	}
}

func containsMetric(exposition, name string) bool {
	for _, line := range strings.Split(exposition, "\n") {
		if line != "" && !strings.HasPrefix(line, "#") && strings.Contains(line, name) {
			return true
		}
	}
	return false
}
