package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/systmms/pgrotate/internal/config"
)

// NewRotateCommand creates the command that runs a full rotation cycle.
func NewRotateCommand(cfg *config.Config, newRuntime RuntimeFactory) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "rotate SECRET_ID",
		Short: "Run a full rotation cycle now",
		Long: `Run createSecret, setSecret, testSecret and finishSecret in order for a
secret, stopping at the first failure.

A new rotation token is generated unless --token is given. Re-running with
the token of an interrupted cycle resumes it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secretID := args[0]
			if token == "" {
				token = uuid.NewString()
			}

			return withRuntime(cmd, cfg, newRuntime, func(ctx context.Context, rt *Runtime) error {
				rt.Logger.Info("Rotating %s with token %s", secretID, token)
				err := rt.Rotator.Cycle(ctx, secretID, token)
				pushMetrics(ctx, rt, secretID)
				if err != nil {
					return fmt.Errorf("rotation of %s stopped (resume with --token %s): %w", secretID, token, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rotated %s: version %s is now AWSCURRENT\n", secretID, token)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Rotation token to use or resume (default: a new UUID)")

	return cmd
}
