// Package config loads the broker's runtime settings from RIGIDSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address for the HTTP and WebSocket listener.
	DefaultAddr = ":43217"
	// DefaultGRPCAddr is the default TCP address for the replay validation gRPC service.
	DefaultGRPCAddr = ":43218"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound HTTP bodies and WebSocket frames.
	DefaultMaxPayloadBytes int64 = 8 << 20

	// DefaultBackend names the simulation backend used when none is configured.
	DefaultBackend = "impulse"
	// DefaultTuningProfile selects the tuning profile applied to new worlds.
	DefaultTuningProfile = "deterministic"
	// DefaultFixedTimeStep is the simulation step in seconds.
	DefaultFixedTimeStep = 1.0 / 60.0
	// DefaultMaxSubSteps bounds the backend substeps per fixed step.
	DefaultMaxSubSteps = 1
	// DefaultCheckpointEvery sets how many steps pass between recorded checkpoints.
	DefaultCheckpointEvery = 60

	// DefaultReplayDir is where sealed packets are archived.
	DefaultReplayDir = "replays"
	// DefaultReplayMaxPackets caps retained archives. Zero disables the limit.
	DefaultReplayMaxPackets = 50
	// DefaultReplayMaxAge expires archives older than this. Zero disables expiry.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultCatalogPath is the SQLite file recording validation runs.
	DefaultCatalogPath = "rigidsync.db"

	// DefaultValidateWindow is the sliding window for replay validation requests.
	DefaultValidateWindow = time.Minute
	// DefaultValidateBurst is how many validations a client may request per window.
	DefaultValidateBurst = 10

	// DefaultLogLevel controls verbosity for broker logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "rigidsync.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles compression of rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the broker service.
type Config struct {
	Address          string
	GRPCAddress      string
	GRPCSharedSecret string
	GRPCAuth         GRPCAuthConfig
	AdminToken       string
	WSAuthSecret     string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	Simulation       SimulationConfig
	Replay           ReplayConfig
	ValidateWindow   time.Duration
	ValidateBurst    int
	Logging          LoggingConfig
}

// GRPCAuthConfig selects how the gRPC listener authenticates callers. An empty mode is resolved
// from the shared secret.
type GRPCAuthConfig struct {
	Mode         string
	CertPath     string
	KeyPath      string
	ClientCAPath string
}

// SimulationConfig selects the backend and stepping parameters for new worlds.
type SimulationConfig struct {
	Backend         string
	TuningFile      string
	TuningProfile   string
	FixedTimeStep   float64
	MaxSubSteps     int
	CheckpointEvery int
	OpsMinInterval  time.Duration
	OpsMaxAge       time.Duration
}

// ReplayConfig controls the packet archive and validation catalogue.
type ReplayConfig struct {
	Dir         string
	MaxPackets  int
	MaxAge      time.Duration
	CatalogPath string
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the broker configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		Address:          env.str("RIGIDSYNC_ADDR", DefaultAddr),
		GRPCAddress:      env.str("RIGIDSYNC_GRPC_ADDR", DefaultGRPCAddr),
		GRPCSharedSecret: env.str("RIGIDSYNC_GRPC_SHARED_SECRET", ""),
		GRPCAuth: GRPCAuthConfig{
			Mode:         strings.ToLower(env.str("RIGIDSYNC_GRPC_AUTH_MODE", "")),
			CertPath:     env.str("RIGIDSYNC_GRPC_TLS_CERT", ""),
			KeyPath:      env.str("RIGIDSYNC_GRPC_TLS_KEY", ""),
			ClientCAPath: env.str("RIGIDSYNC_GRPC_CLIENT_CA", ""),
		},
		AdminToken:      env.str("RIGIDSYNC_ADMIN_TOKEN", ""),
		WSAuthSecret:    env.str("RIGIDSYNC_WS_AUTH_SECRET", ""),
		AllowedOrigins:  parseList(os.Getenv("RIGIDSYNC_ALLOWED_ORIGINS")),
		MaxPayloadBytes: env.positiveInt64("RIGIDSYNC_MAX_PAYLOAD_BYTES", DefaultMaxPayloadBytes),
		PingInterval:    env.positiveDuration("RIGIDSYNC_PING_INTERVAL", DefaultPingInterval),
		Simulation: SimulationConfig{
			Backend:         strings.ToLower(env.str("RIGIDSYNC_BACKEND", DefaultBackend)),
			TuningFile:      env.str("RIGIDSYNC_TUNING_FILE", ""),
			TuningProfile:   env.str("RIGIDSYNC_TUNING_PROFILE", DefaultTuningProfile),
			FixedTimeStep:   env.positiveFloat("RIGIDSYNC_FIXED_TIMESTEP", DefaultFixedTimeStep),
			MaxSubSteps:     env.positiveInt("RIGIDSYNC_MAX_SUBSTEPS", DefaultMaxSubSteps),
			CheckpointEvery: env.positiveInt("RIGIDSYNC_CHECKPOINT_EVERY", DefaultCheckpointEvery),
			OpsMinInterval:  env.nonNegativeDuration("RIGIDSYNC_OPS_MIN_INTERVAL", 0),
			OpsMaxAge:       env.nonNegativeDuration("RIGIDSYNC_OPS_MAX_AGE", 0),
		},
		Replay: ReplayConfig{
			Dir:         env.str("RIGIDSYNC_REPLAY_DIR", DefaultReplayDir),
			MaxPackets:  env.nonNegativeInt("RIGIDSYNC_REPLAY_MAX_PACKETS", DefaultReplayMaxPackets),
			MaxAge:      env.nonNegativeDuration("RIGIDSYNC_REPLAY_MAX_AGE", DefaultReplayMaxAge),
			CatalogPath: env.str("RIGIDSYNC_CATALOG_PATH", DefaultCatalogPath),
		},
		ValidateWindow: env.positiveDuration("RIGIDSYNC_VALIDATE_WINDOW", DefaultValidateWindow),
		ValidateBurst:  env.positiveInt("RIGIDSYNC_VALIDATE_BURST", DefaultValidateBurst),
		Logging: LoggingConfig{
			Level:      env.str("RIGIDSYNC_LOG_LEVEL", DefaultLogLevel),
			Path:       env.str("RIGIDSYNC_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  env.positiveInt("RIGIDSYNC_LOG_MAX_SIZE_MB", DefaultLogMaxSizeMB),
			MaxBackups: env.nonNegativeInt("RIGIDSYNC_LOG_MAX_BACKUPS", DefaultLogMaxBackups),
			MaxAgeDays: env.nonNegativeInt("RIGIDSYNC_LOG_MAX_AGE_DAYS", DefaultLogMaxAgeDays),
			Compress:   env.boolean("RIGIDSYNC_LOG_COMPRESS", DefaultLogCompress),
		},
	}

	//1.- Cross-field checks run after the individual parses so every problem is reported together.
	if cfg.Simulation.FixedTimeStep > 1 {
		env.fail("RIGIDSYNC_FIXED_TIMESTEP must not exceed one second, got %v", cfg.Simulation.FixedTimeStep)
	}
	if cfg.Address == cfg.GRPCAddress {
		env.fail("RIGIDSYNC_ADDR and RIGIDSYNC_GRPC_ADDR must differ, both are %q", cfg.Address)
	}

	switch cfg.GRPCAuth.Mode {
	case "", "none":
	case "shared_secret":
		if cfg.GRPCSharedSecret == "" {
			env.fail("RIGIDSYNC_GRPC_AUTH_MODE=shared_secret requires RIGIDSYNC_GRPC_SHARED_SECRET")
		}
	case "mtls":
		if cfg.GRPCAuth.CertPath == "" || cfg.GRPCAuth.KeyPath == "" || cfg.GRPCAuth.ClientCAPath == "" {
			env.fail("RIGIDSYNC_GRPC_AUTH_MODE=mtls requires RIGIDSYNC_GRPC_TLS_CERT, RIGIDSYNC_GRPC_TLS_KEY and RIGIDSYNC_GRPC_CLIENT_CA")
		}
	default:
		env.fail("RIGIDSYNC_GRPC_AUTH_MODE must be none, shared_secret or mtls, got %q", cfg.GRPCAuth.Mode)
	}

	if len(env.problems) > 0 {
		return nil, errors.New(strings.Join(env.problems, "; "))
	}
	return cfg, nil
}

// envReader parses typed overrides and accumulates every invalid value it encounters.
type envReader struct {
	problems []string
}

func (e *envReader) fail(format string, args ...any) {
	e.problems = append(e.problems, fmt.Sprintf(format, args...))
}

func (e *envReader) str(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (e *envReader) positiveInt(key string, fallback int) int {
	return e.intValue(key, fallback, 1, "a positive integer")
}

func (e *envReader) nonNegativeInt(key string, fallback int) int {
	return e.intValue(key, fallback, 0, "a non-negative integer")
}

func (e *envReader) intValue(key string, fallback, min int, want string) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min {
		e.fail("%s must be %s, got %q", key, want, raw)
		return fallback
	}
	return value
}

func (e *envReader) positiveInt64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		e.fail("%s must be a positive integer, got %q", key, raw)
		return fallback
	}
	return value
}

func (e *envReader) positiveFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value > 0) {
		e.fail("%s must be a positive number, got %q", key, raw)
		return fallback
	}
	return value
}

func (e *envReader) positiveDuration(key string, fallback time.Duration) time.Duration {
	return e.durationValue(key, fallback, false)
}

func (e *envReader) nonNegativeDuration(key string, fallback time.Duration) time.Duration {
	return e.durationValue(key, fallback, true)
}

func (e *envReader) durationValue(key string, fallback time.Duration, allowZero bool) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 || (value == 0 && !allowZero) {
		if allowZero {
			e.fail("%s must be a non-negative duration, got %q", key, raw)
		} else {
			e.fail("%s must be a positive duration, got %q", key, raw)
		}
		return fallback
	}
	return value
}

func (e *envReader) boolean(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail("%s must be a boolean value, got %q", key, raw)
		return fallback
	}
	return value
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
