// Package catalog persists replay validation runs in SQLite so operators can list past verdicts.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"rigidsync/broker/internal/replay"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("catalog: run not found")

// Run is one recorded validation verdict.
type Run struct {
	ID                  string      `json:"id"`
	CreatedAt           time.Time   `json:"createdAt"`
	Source              string      `json:"source"`
	PacketSHA256        string      `json:"packetSha256"`
	Scene               string      `json:"scene"`
	Backend             string      `json:"backend"`
	Profile             string      `json:"profile"`
	Mode                replay.Mode `json:"mode"`
	Success             bool        `json:"success"`
	Step                uint32      `json:"step"`
	StepsRun            uint32      `json:"stepsRun"`
	OpsApplied          int         `json:"opsApplied"`
	CheckpointsVerified int         `json:"checkpointsVerified"`
	DurationMs          int64       `json:"durationMs"`
	Message             string      `json:"message"`
	ArchiveDir          string      `json:"archiveDir,omitempty"`
}

// FromResult flattens a replay result and its packet into a catalogue row.
func FromResult(p *replay.Packet, result replay.Result, packetSHA, source string) Run {
	run := Run{
		Source:              source,
		PacketSHA256:        packetSHA,
		Backend:             result.Backend,
		Profile:             result.Profile,
		Mode:                result.Mode,
		Success:             result.Success,
		Step:                result.Step,
		StepsRun:            result.StepsRun,
		OpsApplied:          result.OpsApplied,
		CheckpointsVerified: result.CheckpointsVerified,
		DurationMs:          result.Duration.Milliseconds(),
		Message:             result.Message,
	}
	if p != nil {
		run.Scene = p.Scene.Name
		if run.Mode == "" {
			run.Mode = p.ValidationMode
		}
	}
	return run
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Mode    replay.Mode
	Success *bool
	Scene   string
	Limit   int
}

// Summary counts verdicts across the whole catalogue.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Store is the SQLite-backed catalogue.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the catalogue at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path must be provided")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	//1.- One connection serialises writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db, path != ":memory:"); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &Store{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB, onDisk bool) error {
	stmts := []string{
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			source TEXT NOT NULL,
			packet_sha256 TEXT NOT NULL,
			scene TEXT NOT NULL,
			backend TEXT NOT NULL,
			profile TEXT NOT NULL,
			mode TEXT NOT NULL,
			success INTEGER NOT NULL,
			step INTEGER NOT NULL,
			steps_run INTEGER NOT NULL,
			ops_applied INTEGER NOT NULL,
			checkpoints_verified INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			message TEXT NOT NULL,
			archive_dir TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS runs_created ON runs(created_at);`,
		`CREATE INDEX IF NOT EXISTS runs_packet ON runs(packet_sha256);`,
	}
	if onDisk {
		stmts = append([]string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"}, stmts...)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("catalog schema: %w", err)
		}
	}
	return nil
}

// Record stores run, assigning an id and timestamp when missing.
func (s *Store) Record(ctx context.Context, run Run) (Run, error) {
	if s == nil {
		return Run{}, fmt.Errorf("catalog not configured")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (
		id, created_at, source, packet_sha256, scene, backend, profile, mode, success, step,
		steps_run, ops_applied, checkpoints_verified, duration_ms, message, archive_dir
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Format(time.RFC3339Nano), run.Source, run.PacketSHA256, run.Scene,
		run.Backend, run.Profile, string(run.Mode), run.Success, int64(run.Step), int64(run.StepsRun),
		run.OpsApplied, run.CheckpointsVerified, run.DurationMs, run.Message, run.ArchiveDir,
	)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

const runColumns = `id, created_at, source, packet_sha256, scene, backend, profile, mode, success, step,
	steps_run, ops_applied, checkpoints_verified, duration_ms, message, archive_dir`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run            Run
		created, mode  string
		step, stepsRun int64
	)
	if err := row.Scan(&run.ID, &created, &run.Source, &run.PacketSHA256, &run.Scene, &run.Backend,
		&run.Profile, &mode, &run.Success, &step, &stepsRun, &run.OpsApplied,
		&run.CheckpointsVerified, &run.DurationMs, &run.Message, &run.ArchiveDir); err != nil {
		return Run{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Run{}, fmt.Errorf("run %s created_at: %w", run.ID, err)
	}
	run.CreatedAt = parsed
	run.Mode = replay.Mode(mode)
	run.Step = uint32(step)
	run.StepsRun = uint32(stepsRun)
	return run, nil
}

// Get loads one run.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Run, error) {
	//1.- Build the WHERE clause from the populated filter fields.
	var (
		clauses []string
		args    []any
	)
	if filter.Mode != "" {
		clauses = append(clauses, "mode = ?")
		args = append(args, string(filter.Mode))
	}
	if filter.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, *filter.Success)
	}
	if filter.Scene != "" {
		clauses = append(clauses, "scene = ?")
		args = append(args, filter.Scene)
	}
	query := "SELECT " + runColumns + " FROM runs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	//2.- Scan every row, surfacing the first decode failure.
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Summarize counts passed and failed runs.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	var summary Summary
	var passed sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), SUM(success) FROM runs").Scan(&summary.Total, &passed)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize runs: %w", err)
	}
	summary.Passed = int(passed.Int64)
	summary.Failed = summary.Total - summary.Passed
	return summary, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("catalog not configured")
	}
	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
