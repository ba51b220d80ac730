package rigidctl

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rigidsync/broker/internal/auth"
)

// NewTokenCommand creates the token command, which mints feed tokens for brokers started with
// RIGIDSYNC_WS_AUTH_SECRET.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var secret, subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for the /ws feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := auth.NewHMACTokenVerifier(secret, 0)
			if err != nil {
				return WrapExitError(ExitCommandError, "token issuer", err)
			}
			token, err := issuer.Issue(subject, ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "issue token", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd, map[string]string{"subject": subject, "token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "feed signing secret (required)")
	_ = cmd.MarkFlagRequired("secret")
	cmd.Flags().StringVar(&subject, "subject", "", "subscriber id carried by the token (required)")
	_ = cmd.MarkFlagRequired("subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
