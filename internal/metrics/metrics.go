// Package metrics exposes Prometheus collectors for validations, live sessions and the archive.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rigidsync/broker/internal/replay"
)

const namespace = "rigidsync"

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	registry            *prometheus.Registry
	validations         *prometheus.CounterVec
	validationDuration  *prometheus.HistogramVec
	failures            *prometheus.CounterVec
	checkpointsVerified prometheus.Counter
	stepsReplayed       prometheus.Counter
	liveSessions        prometheus.Gauge
	liveSteps           prometheus.Counter
	tickSeconds         prometheus.Histogram
	packetsArchived     prometheus.Counter
	archiveBytes        prometheus.Gauge
	archivePackets      prometheus.Gauge
	wsClients           prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "validations_total",
			Help: "Replay validations by mode and verdict.",
		}, []string{"mode", "result"}),
		validationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "validation_duration_seconds",
			Help:    "Wall time spent replaying packets.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "validation_failures_total",
			Help: "Failed validations by reason.",
		}, []string{"reason"}),
		checkpointsVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkpoints_verified_total",
			Help: "Checkpoints matched during STRICT replays.",
		}),
		stepsReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "replay_steps_total",
			Help: "Simulation steps executed by replays.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_sessions",
			Help: "Recording sessions currently open.",
		}),
		liveSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "live_steps_total",
			Help: "Simulation steps executed by live sessions.",
		}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "live_tick_seconds",
			Help:    "Duration of a live session tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		packetsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_archived_total",
			Help: "Packets written to the archive.",
		}),
		archiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "archive_bytes",
			Help: "Disk footprint of the archive after the last retention sweep.",
		}),
		archivePackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "archive_packets",
			Help: "Packets retained after the last retention sweep.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_clients",
			Help: "Connected WebSocket subscribers.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.validations, m.validationDuration, m.failures, m.checkpointsVerified, m.stepsReplayed,
		m.liveSessions, m.liveSteps, m.tickSeconds, m.packetsArchived, m.archiveBytes,
		m.archivePackets, m.wsClients,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveValidation records the verdict of a replay.
func (m *Metrics) ObserveValidation(result replay.Result) {
	if m == nil {
		return
	}
	verdict := "pass"
	if !result.Success {
		verdict = "fail"
		m.failures.WithLabelValues(FailureReason(result.Err)).Inc()
	}
	mode := string(result.Mode)
	if mode == "" {
		mode = "unknown"
	}
	m.validations.WithLabelValues(mode, verdict).Inc()
	m.validationDuration.WithLabelValues(mode).Observe(result.Duration.Seconds())
	m.checkpointsVerified.Add(float64(result.CheckpointsVerified))
	m.stepsReplayed.Add(float64(result.StepsRun))
}

// FailureReason maps a replay error onto a bounded label value.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, replay.ErrPacketFraming):
		return "framing"
	case errors.Is(err, replay.ErrCheckpointMismatch):
		return "checkpoint_mismatch"
	case errors.Is(err, replay.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, replay.ErrUnknownStableID):
		return "unknown_id"
	case errors.Is(err, replay.ErrNonDeterministicTuning):
		return "non_deterministic"
	case errors.Is(err, replay.ErrBackendMismatch):
		return "backend_mismatch"
	default:
		return "other"
	}
}

// SessionOpened bumps the live session gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.liveSessions.Inc()
	}
}

// SessionClosed drops the live session gauge.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.liveSessions.Dec()
	}
}

// ObserveTick records one live step and how long it took.
func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.liveSteps.Inc()
	m.tickSeconds.Observe(seconds)
}

// PacketArchived counts an archive write.
func (m *Metrics) PacketArchived() {
	if m != nil {
		m.packetsArchived.Inc()
	}
}

// ObserveArchive publishes the retention sweep totals.
func (m *Metrics) ObserveArchive(stats replay.StorageStats) {
	if m == nil {
		return
	}
	m.archiveBytes.Set(float64(stats.Bytes))
	m.archivePackets.Set(float64(stats.Packets))
}

// SetWebSocketClients publishes the subscriber count.
func (m *Metrics) SetWebSocketClients(n int) {
	if m != nil {
		m.wsClients.Set(float64(n))
	}
}
