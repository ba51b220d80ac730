package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rigidsync/broker/internal/replay"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read exposition: %v", err)
	}
	return string(body)
}

func TestObserveValidationCountsVerdicts(t *testing.T) {
	m := New()
	m.ObserveValidation(replay.Result{Success: true, Mode: replay.Strict, StepsRun: 120, CheckpointsVerified: 2, Duration: 20 * time.Millisecond})
	m.ObserveValidation(replay.Result{Mode: replay.Strict, Err: &replay.CheckpointMismatchError{Step: 60}})
	m.ObserveValidation(replay.Result{Mode: replay.Behavioural, Err: fmt.Errorf("wrapped: %w", replay.ErrPacketFraming)})

	//1.- Each verdict lands under its own label pair.
	body := scrape(t, m)
	for _, want := range []string{
		`rigidsync_validations_total{mode="STRICT",result="pass"} 1`,
		`rigidsync_validations_total{mode="STRICT",result="fail"} 1`,
		`rigidsync_validation_failures_total{reason="checkpoint_mismatch"} 1`,
		`rigidsync_validation_failures_total{reason="framing"} 1`,
		`rigidsync_replay_steps_total 120`,
		`rigidsync_checkpoints_verified_total 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.ObserveArchive(replay.StorageStats{Packets: 3, Bytes: 4096})
	m.SetWebSocketClients(2)

	body := scrape(t, m)
	for _, want := range []string{"rigidsync_live_sessions 1", "rigidsync_archive_bytes 4096", "rigidsync_websocket_clients 2"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveValidation(replay.Result{})
	m.SessionOpened()
	m.ObserveTick(0.01)
	m.PacketArchived()
	if FailureReason(nil) != "none" {
		t.Fatalf("expected none for nil error")
	}
}
