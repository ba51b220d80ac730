package config

import (
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"RIGIDSYNC_ADDR", "RIGIDSYNC_GRPC_ADDR", "RIGIDSYNC_GRPC_SHARED_SECRET", "RIGIDSYNC_ADMIN_TOKEN",
	"RIGIDSYNC_GRPC_AUTH_MODE", "RIGIDSYNC_GRPC_TLS_CERT", "RIGIDSYNC_GRPC_TLS_KEY", "RIGIDSYNC_GRPC_CLIENT_CA", "RIGIDSYNC_WS_AUTH_SECRET",
	"RIGIDSYNC_ALLOWED_ORIGINS", "RIGIDSYNC_MAX_PAYLOAD_BYTES", "RIGIDSYNC_PING_INTERVAL",
	"RIGIDSYNC_BACKEND", "RIGIDSYNC_TUNING_FILE", "RIGIDSYNC_TUNING_PROFILE", "RIGIDSYNC_FIXED_TIMESTEP",
	"RIGIDSYNC_MAX_SUBSTEPS", "RIGIDSYNC_CHECKPOINT_EVERY", "RIGIDSYNC_REPLAY_DIR",
	"RIGIDSYNC_REPLAY_MAX_PACKETS", "RIGIDSYNC_REPLAY_MAX_AGE", "RIGIDSYNC_CATALOG_PATH",
	"RIGIDSYNC_VALIDATE_WINDOW", "RIGIDSYNC_VALIDATE_BURST", "RIGIDSYNC_LOG_LEVEL", "RIGIDSYNC_LOG_PATH",
	"RIGIDSYNC_LOG_MAX_SIZE_MB", "RIGIDSYNC_LOG_MAX_BACKUPS", "RIGIDSYNC_LOG_MAX_AGE_DAYS", "RIGIDSYNC_LOG_COMPRESS",
	"RIGIDSYNC_OPS_MIN_INTERVAL", "RIGIDSYNC_OPS_MAX_AGE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Address != DefaultAddr || cfg.GRPCAddress != DefaultGRPCAddr {
		t.Fatalf("unexpected addresses %q %q", cfg.Address, cfg.GRPCAddress)
	}
	if cfg.Simulation.Backend != DefaultBackend || cfg.Simulation.TuningProfile != DefaultTuningProfile {
		t.Fatalf("unexpected simulation defaults %+v", cfg.Simulation)
	}
	if cfg.Simulation.FixedTimeStep != DefaultFixedTimeStep || cfg.Simulation.CheckpointEvery != DefaultCheckpointEvery {
		t.Fatalf("unexpected stepping defaults %+v", cfg.Simulation)
	}
	if cfg.Replay.MaxAge != DefaultReplayMaxAge || cfg.Replay.MaxPackets != DefaultReplayMaxPackets {
		t.Fatalf("unexpected replay defaults %+v", cfg.Replay)
	}
	if !cfg.Logging.Compress || cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RIGIDSYNC_ADDR", "127.0.0.1:9000")
	t.Setenv("RIGIDSYNC_BACKEND", "XPBD")
	t.Setenv("RIGIDSYNC_FIXED_TIMESTEP", "0.01")
	t.Setenv("RIGIDSYNC_CHECKPOINT_EVERY", "30")
	t.Setenv("RIGIDSYNC_REPLAY_MAX_AGE", "0")
	t.Setenv("RIGIDSYNC_VALIDATE_WINDOW", "30s")
	t.Setenv("RIGIDSYNC_LOG_COMPRESS", "false")
	t.Setenv("RIGIDSYNC_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RIGIDSYNC_OPS_MIN_INTERVAL", "20ms")
	t.Setenv("RIGIDSYNC_OPS_MAX_AGE", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address %q", cfg.Address)
	}
	if cfg.Simulation.Backend != "xpbd" {
		t.Fatalf("expected backend to be lower-cased, got %q", cfg.Simulation.Backend)
	}
	if cfg.Simulation.FixedTimeStep != 0.01 || cfg.Simulation.CheckpointEvery != 30 {
		t.Fatalf("unexpected simulation overrides %+v", cfg.Simulation)
	}
	if cfg.Replay.MaxAge != 0 {
		t.Fatalf("expected expiry disabled, got %v", cfg.Replay.MaxAge)
	}
	if cfg.ValidateWindow != 30*time.Second {
		t.Fatalf("unexpected validate window %v", cfg.ValidateWindow)
	}
	if cfg.Simulation.OpsMinInterval != 20*time.Millisecond || cfg.Simulation.OpsMaxAge != 2*time.Second {
		t.Fatalf("unexpected op gate %v/%v", cfg.Simulation.OpsMinInterval, cfg.Simulation.OpsMaxAge)
	}
	if cfg.Logging.Compress {
		t.Fatalf("expected compression disabled")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
}

func TestLoadAccumulatesProblems(t *testing.T) {
	clearEnv(t)
	t.Setenv("RIGIDSYNC_MAX_SUBSTEPS", "0")
	t.Setenv("RIGIDSYNC_FIXED_TIMESTEP", "abc")
	t.Setenv("RIGIDSYNC_LOG_COMPRESS", "sometimes")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected invalid overrides to fail")
	}
	for _, key := range []string{"RIGIDSYNC_MAX_SUBSTEPS", "RIGIDSYNC_FIXED_TIMESTEP", "RIGIDSYNC_LOG_COMPRESS"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error %q", key, err)
		}
	}
}

func TestLoadRejectsSharedListener(t *testing.T) {
	clearEnv(t)
	t.Setenv("RIGIDSYNC_ADDR", ":9000")
	t.Setenv("RIGIDSYNC_GRPC_ADDR", ":9000")
	if _, err := Load(); err == nil {
		t.Fatalf("expected identical listeners to fail")
	}
}

func TestLoadValidatesGRPCAuthMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("RIGIDSYNC_GRPC_AUTH_MODE", "mTLS")
	t.Setenv("RIGIDSYNC_GRPC_TLS_CERT", "server.pem")
	//1.- mTLS without key or client CA is incomplete.
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "RIGIDSYNC_GRPC_CLIENT_CA") {
		t.Fatalf("expected incomplete mtls config to fail, got %v", err)
	}

	t.Setenv("RIGIDSYNC_GRPC_AUTH_MODE", "shared_secret")
	t.Setenv("RIGIDSYNC_GRPC_SHARED_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.GRPCAuth.Mode != "shared_secret" || cfg.GRPCSharedSecret != "s3cret" {
		t.Fatalf("unexpected grpc auth %+v", cfg.GRPCAuth)
	}

	t.Setenv("RIGIDSYNC_GRPC_AUTH_MODE", "kerberos")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown auth mode to fail")
	}
}
