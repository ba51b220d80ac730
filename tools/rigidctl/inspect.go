package rigidctl

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"rigidsync/broker/internal/replay"
	packetinspect "rigidsync/broker/tools/packet_inspect"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive-dir|packet-file>",
		Short: "Summarise a packet and cross-check its archive",
		Long: `Decode a packet and print what it records. For archive directories the manifest,
header and streamed op log are checked against the packet; any disagreement exits with 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := packetinspect.Inspect(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "inspect", err)
			}
			if rootOpts.Format == "json" {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printInspection(cmd, report)
			}
			if !report.Consistent() {
				return NewExitError(ExitFailure, fmt.Sprintf("%d archive problem(s)", len(report.Problems)))
			}
			return nil
		},
	}
}

func printInspection(cmd *cobra.Command, report packetinspect.Report) {
	out := cmd.OutOrStdout()
	p := report.Packet
	fmt.Fprintf(out, "%s\n", report.Path)
	fmt.Fprintf(out, "  sha256:   %s\n", report.SHA256)
	fmt.Fprintf(out, "  engine:   %s (format %d)\n", p.EngineVersion, p.FormatVersion)
	fmt.Fprintf(out, "  backend:  %s, profile %s (deterministic=%t, threads=%d)\n", p.Backend, p.Profile, p.Deterministic, p.Threads)
	fmt.Fprintf(out, "  scene:    %s %s\n", p.Scene, p.Params)
	fmt.Fprintf(out, "  mode:     %s, seed %d\n", p.Mode, p.Seed)
	fmt.Fprintf(out, "  stepping: dt=%g, max substeps %d, last step %d\n", p.FixedTimeStep, p.MaxSubSteps, p.LastStep)
	fmt.Fprintf(out, "  baseline: %d bodies, %d constraints, %d rigs\n", p.Bodies, p.Constraints, p.Rigs)
	fmt.Fprintf(out, "  inputs:   %d frames, %d ops, %d checkpoints\n", p.Frames, p.Ops, p.Checkpoints)
	kinds := make([]string, 0, len(p.OpsByKind))
	for kind := range p.OpsByKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(out, "    %-22s %d\n", kind, p.OpsByKind[replay.OpKind(kind)])
	}
	for _, problem := range report.Problems {
		fmt.Fprintf(out, "  problem:  %s\n", problem)
	}
}
