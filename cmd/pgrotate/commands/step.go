package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/pgrotate/internal/config"
	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/rotation"
)

// NewStepCommand creates the command that runs a single rotation step.
func NewStepCommand(cfg *config.Config, newRuntime RuntimeFactory) *cobra.Command {
	var (
		secretID string
		token    string
		step     string
		event    string
	)

	cmd := &cobra.Command{
		Use:   "step",
		Short: "Run one rotation step for a secret",
		Long: `Run one of createSecret, setSecret, testSecret or finishSecret for a
secret and rotation token.

The invocation is given either with --secret-id, --token and --step, or as a
scheduler event with --event. Pass --event - to read the event from stdin.

Every step is safe to repeat. A step that finds its work already done
succeeds without changing anything.`,
		Example: `  pgrotate step --secret-id app/db --token 4f1c... --step createSecret
  echo '{"SecretId":"app/db","ClientRequestToken":"4f1c...","Step":"setSecret"}' | pgrotate step --event -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := readEvent(cmd.InOrStdin(), event, secretID, token, step)
			if err != nil {
				return err
			}

			return withRuntime(cmd, cfg, newRuntime, func(ctx context.Context, rt *Runtime) error {
				runErr := rt.Rotator.Run(ctx, ev)
				pushMetrics(ctx, rt, ev.SecretID)
				if runErr != nil {
					if rerrors.IsRetryable(runErr) {
						rt.Logger.Warn("%s failed with a transient error; the step can be retried", ev.Step)
					}
					return runErr
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s completed for %s\n", ev.Step, ev.SecretID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&secretID, "secret-id", "", "ARN or name of the secret")
	cmd.Flags().StringVar(&token, "token", "", "Rotation token (ClientRequestToken)")
	cmd.Flags().StringVar(&step, "step", "", "Step to run: createSecret, setSecret, testSecret or finishSecret")
	cmd.Flags().StringVar(&event, "event", "", "Scheduler event JSON, or - to read it from stdin")
	cmd.MarkFlagsMutuallyExclusive("event", "secret-id")
	cmd.MarkFlagsMutuallyExclusive("event", "step")

	return cmd
}

func readEvent(stdin io.Reader, event, secretID, token, step string) (rotation.Event, error) {
	if event != "" {
		data := []byte(event)
		if event == "-" {
			var err error
			if data, err = io.ReadAll(stdin); err != nil {
				return rotation.Event{}, fmt.Errorf("failed to read event from stdin: %w", err)
			}
		}
		ev, err := rotation.ParseEvent(data)
		if err != nil {
			return rotation.Event{}, rerrors.UserError{
				Message:    "Invalid rotation event",
				Details:    err.Error(),
				Suggestion: `Pass {"SecretId": ..., "ClientRequestToken": ..., "Step": ...}`,
				Err:        err,
			}
		}
		return ev, nil
	}

	var missing []string
	for flag, value := range map[string]string{"--secret-id": secretID, "--token": token, "--step": step} {
		if value == "" {
			missing = append(missing, flag)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return rotation.Event{}, rerrors.UserError{
			Message:    "Missing required flags: " + strings.Join(missing, ", "),
			Suggestion: "Pass --secret-id, --token and --step, or a scheduler event with --event",
		}
	}

	parsed, err := rotation.ParseStep(step)
	if err != nil {
		return rotation.Event{}, rerrors.UserError{
			Message:    "Invalid step",
			Details:    err.Error(),
			Suggestion: "Use one of createSecret, setSecret, testSecret, finishSecret",
			Err:        err,
		}
	}
	return rotation.Event{SecretID: secretID, ClientRequestToken: token, Step: parsed}, nil
}
