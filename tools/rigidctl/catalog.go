package rigidctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"rigidsync/broker/internal/catalog"
	"rigidsync/broker/internal/replay"
	replaycatalog "rigidsync/broker/tools/replay_catalog"
)

// CatalogOptions holds flags shared by the catalog subcommands.
type CatalogOptions struct {
	*RootOptions
	Dir      string
	Database string
	Scene    string
	Backend  string
	Mode     string
	Failed   bool
	Passed   bool
	Limit    int
}

func (o *CatalogOptions) mode() (replay.Mode, error) {
	if o.Mode == "" {
		return "", nil
	}
	mode, err := replay.ParseMode(o.Mode)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid --mode", err)
	}
	return mode, nil
}

// NewCatalogCommand creates the catalog command with its archives and runs subcommands.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse archived packets and validation verdicts",
	}
	cmd.PersistentFlags().StringVar(&opts.Scene, "scene", "", "only this scene")
	cmd.PersistentFlags().StringVar(&opts.Mode, "mode", "", "only this validation mode (STRICT or BEHAVIOURAL)")
	cmd.AddCommand(newCatalogArchivesCommand(opts))
	cmd.AddCommand(newCatalogRunsCommand(opts))
	return cmd
}

func newCatalogArchivesCommand(opts *CatalogOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List packet archives under a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := opts.mode()
			if err != nil {
				return err
			}
			entries, err := replaycatalog.Search(opts.Dir, replaycatalog.Query{Scene: opts.Scene, Backend: opts.Backend, Mode: mode})
			if err != nil {
				return WrapExitError(ExitCommandError, "scan archives", err)
			}
			if opts.Format == "json" {
				if entries == nil {
					entries = []replaycatalog.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No archives found.")
				return nil
			}
			for _, entry := range entries {
				h := entry.Header
				fmt.Fprintf(out, "%s  %-14s %-8s %-12s step %-6d ops %-4d %s\n",
					h.CreatedAt.Format("2006-01-02T15:04:05Z"), h.Scene, h.Backend, h.Mode, h.LastStep, h.Ops, entry.ArchiveDir)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Dir, "dir", ".", "archive root directory")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "only archives recorded on this backend")
	return cmd
}

func newCatalogRunsCommand(opts *CatalogOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List validation verdicts from a SQLite catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Failed && opts.Passed {
				return NewExitError(ExitCommandError, "--failed and --passed are exclusive")
			}
			mode, err := opts.mode()
			if err != nil {
				return err
			}
			store, err := catalog.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "open catalogue", err)
			}
			defer store.Close()

			filter := catalog.Filter{Mode: mode, Scene: opts.Scene, Limit: opts.Limit}
			if opts.Failed || opts.Passed {
				success := opts.Passed
				filter.Success = &success
			}
			ctx := cmd.Context()
			runs, err := store.List(ctx, filter)
			if err != nil {
				return WrapExitError(ExitCommandError, "list runs", err)
			}
			summary, err := store.Summarize(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "summarise runs", err)
			}
			if opts.Format == "json" {
				if runs == nil {
					runs = []catalog.Run{}
				}
				return writeJSON(cmd, struct {
					Summary catalog.Summary `json:"summary"`
					Runs    []catalog.Run   `json:"runs"`
				}{summary, runs})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d runs: %d passed, %d failed\n", summary.Total, summary.Passed, summary.Failed)
			for _, run := range runs {
				verdict := "PASS"
				if !run.Success {
					verdict = "FAIL"
				}
				fmt.Fprintf(out, "%s %s %-4s %-12s %-14s step %-6d %s\n",
					run.CreatedAt.Format("2006-01-02T15:04:05Z"), run.ID, verdict, run.Mode, run.Scene, run.Step, run.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite catalogue (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed runs")
	cmd.Flags().BoolVar(&opts.Passed, "passed", false, "only successful runs")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum runs listed")
	return cmd
}
