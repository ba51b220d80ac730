// Package rigidctl implements the rigidctl command line: recording packets, replaying them locally
// or against a broker, inspecting archives and browsing catalogues.
package rigidctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/logging"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	Verbose    bool
	Format     string
	TuningFile string
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the rigidctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "rigidctl",
		Short:         "Record, replay and inspect rigid-body replay packets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, format := range ValidFormats {
				if opts.Format == format {
					return nil
				}
			}
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log progress to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.TuningFile, "tuning-file", "", "YAML file with extra tuning profiles")

	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	return cmd
}

// logger writes to stderr when --verbose is set and discards otherwise.
func (o *RootOptions) logger(cmd *cobra.Command) *logging.Logger {
	if !o.Verbose {
		return logging.NewTestLogger()
	}
	return logging.NewWriter(cmd.ErrOrStderr(), logging.DebugLevel)
}

func (o *RootOptions) profiles() (backend.Profiles, error) {
	profiles, err := backend.LoadProfiles(o.TuningFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load tuning profiles", err)
	}
	return profiles, nil
}
