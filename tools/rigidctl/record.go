package rigidctl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/scene"
	"rigidsync/broker/internal/simulation"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Scene           string
	Params          string
	Steps           int
	Backend         string
	Profile         string
	Mode            string
	Seed            uint64
	CheckpointEvery uint32
	FixedTimeStep   float64
	OpsFile         string
	OutDir          string
	PacketPath      string
}

// RecordSummary is the output of a recording.
type RecordSummary struct {
	ArchiveDir  string      `json:"archiveDir,omitempty"`
	PacketPath  string      `json:"packetPath,omitempty"`
	Scene       string      `json:"scene"`
	Backend     string      `json:"backend"`
	Profile     string      `json:"profile"`
	Mode        replay.Mode `json:"mode"`
	LastStep    uint32      `json:"lastStep"`
	Ops         int         `json:"ops"`
	Checkpoints int         `json:"checkpoints"`
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a scene into a replay packet",
		Long: `Build a scene, step it a fixed number of times while issuing scripted ops, and seal
the recording into an archive directory (and optionally a plain packet file).

The ops script is JSON lines, one input frame per line: {"step":N,"ops":[...]}. The ops of a
frame are issued once the world has completed N steps. Steps must ascend.

Examples:
  rigidctl record --scene falling-sphere --steps 600 --out ./replays
  rigidctl record --scene gear-pair --params '{"ratio":3}' --steps 200 --packet gear.json
  rigidctl record --scene vehicle-yard --ops drive.jsonl --steps 900 --mode BEHAVIOURAL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scene, "scene", "", "scene to build ("+strings.Join(scene.Names(), ", ")+")")
	_ = cmd.MarkFlagRequired("scene")
	cmd.Flags().StringVar(&opts.Params, "params", "", "scene params as a JSON object")
	cmd.Flags().IntVar(&opts.Steps, "steps", 0, "number of fixed steps to record")
	_ = cmd.MarkFlagRequired("steps")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "physics backend (default impulse)")
	cmd.Flags().StringVar(&opts.Profile, "profile", "deterministic", "tuning profile")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(replay.Strict), "validation mode (STRICT or BEHAVIOURAL)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "seed stored in the packet")
	cmd.Flags().Uint32Var(&opts.CheckpointEvery, "checkpoint-every", replay.DefaultCheckpointEvery, "steps between checkpoints")
	cmd.Flags().Float64Var(&opts.FixedTimeStep, "fixed-timestep", 0, "fixed step in seconds (default 1/60)")
	cmd.Flags().StringVar(&opts.OpsFile, "ops", "", "JSON lines file of input frames")
	cmd.Flags().StringVar(&opts.OutDir, "out", ".", "archive root directory, empty to skip archiving")
	cmd.Flags().StringVar(&opts.PacketPath, "packet", "", "also write the packet as plain JSON to this path")
	return cmd
}

func runRecord(opts *RecordOptions, cmd *cobra.Command) error {
	if opts.Steps <= 0 {
		return NewExitError(ExitCommandError, "--steps must be positive")
	}
	mode, err := replay.ParseMode(opts.Mode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --mode", err)
	}
	var params *scene.Params
	if strings.TrimSpace(opts.Params) != "" {
		params, err = scene.UnmarshalParams(json.RawMessage(opts.Params))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --params", err)
		}
	}
	frames, err := readOpsScript(opts.OpsFile, opts.Steps)
	if err != nil {
		return WrapExitError(ExitCommandError, "read ops script", err)
	}
	profiles, err := opts.profiles()
	if err != nil {
		return err
	}

	//1.- Record through a stepped session so CLI packets match broker-recorded ones.
	logger := opts.logger(cmd)
	m := simulation.NewManager(
		simulation.WithLogger(logger),
		simulation.WithProfiles(profiles),
		simulation.WithArchiveRoot(opts.OutDir),
		simulation.WithMaxSessions(1),
	)
	defer func() { _ = m.Close() }()
	session, err := m.Create(simulation.SessionConfig{
		Scene:           opts.Scene,
		Params:          params,
		Backend:         opts.Backend,
		Profile:         opts.Profile,
		Mode:            mode,
		Seed:            opts.Seed,
		FixedTimeStep:   opts.FixedTimeStep,
		CheckpointEvery: opts.CheckpointEvery,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "open session", err)
	}
	cursor := 0
	for _, frame := range frames {
		if err := session.Advance(int(frame.Step) - cursor); err != nil {
			return WrapExitError(ExitFailure, "step world", err)
		}
		cursor = int(frame.Step)
		if _, err := session.Enqueue(frame.Ops...); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("ops at step %d", frame.Step), err)
		}
	}
	if err := session.Advance(opts.Steps - cursor); err != nil {
		return WrapExitError(ExitFailure, "step world", err)
	}
	if rejected := session.Status().Rejected; rejected > 0 {
		logger.Warn("world rejected scripted ops", logging.Int("rejected", rejected))
	}

	sealed, err := m.Seal(session.ID())
	if sealed.Packet == nil {
		return WrapExitError(ExitFailure, "seal recording", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "archive recording", err)
	}
	p := sealed.Packet
	summary := RecordSummary{
		ArchiveDir:  sealed.ArchiveDir,
		Scene:       p.Scene.Name,
		Backend:     p.Backend,
		Profile:     p.Tuning.Profile,
		Mode:        p.ValidationMode,
		LastStep:    p.LastStep(),
		Ops:         p.OpCount(),
		Checkpoints: len(p.Checkpoints),
	}
	if opts.PacketPath != "" {
		raw, err := p.Encode()
		if err != nil {
			return WrapExitError(ExitCommandError, "encode packet", err)
		}
		if err := os.MkdirAll(filepath.Dir(opts.PacketPath), 0o755); err != nil {
			return WrapExitError(ExitCommandError, "write packet", err)
		}
		if err := os.WriteFile(opts.PacketPath, append(raw, '\n'), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write packet", err)
		}
		summary.PacketPath = opts.PacketPath
	}

	if opts.Format == "json" {
		return writeJSON(cmd, summary)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recorded %s on %s/%s (%s): %d steps, %d ops, %d checkpoints\n",
		summary.Scene, summary.Backend, summary.Profile, summary.Mode, summary.LastStep, summary.Ops, summary.Checkpoints)
	if summary.ArchiveDir != "" {
		fmt.Fprintf(out, "archive: %s\n", summary.ArchiveDir)
	}
	if summary.PacketPath != "" {
		fmt.Fprintf(out, "packet: %s\n", summary.PacketPath)
	}
	return nil
}

// readOpsScript parses a JSON lines file of input frames. Frames must ascend and stay within steps.
func readOpsScript(path string, steps int) ([]replay.InputFrame, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var frames []replay.InputFrame
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var frame replay.InputFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(frames); n > 0 && frame.Step <= frames[n-1].Step {
			return nil, fmt.Errorf("line %d: step %d does not ascend", line, frame.Step)
		}
		if int(frame.Step) >= steps {
			return nil, fmt.Errorf("line %d: step %d is past the last recorded step", line, frame.Step)
		}
		frames = append(frames, frame)
	}
	return frames, scanner.Err()
}
