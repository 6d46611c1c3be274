package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/systmms/pgrotate/internal/config"
	"github.com/systmms/pgrotate/internal/database"
	"github.com/systmms/pgrotate/internal/rotation"
	"github.com/systmms/pgrotate/internal/secretdict"
	"github.com/systmms/pgrotate/internal/secretstore"
)

// Check statuses.
const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
	statusSkipped = "skipped"
)

// CheckResult is the outcome of one doctor check.
type CheckResult struct {
	Name    string
	Status  string
	Message string
	Err     error
}

func NewDoctorCommand(cfg *config.Config, newRuntime RuntimeFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor SECRET_ID",
		Short: "Check that a secret can be rotated",
		Long: `Verify the prerequisites for rotating a secret without changing anything.

This command checks:
- AWS credentials (STS caller identity)
- The secret exists and has rotation enabled
- The AWSCURRENT version is a valid secret dictionary
- The current credentials can log in and run a query
- The master secret parses and its credentials can log in`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, cfg, newRuntime, func(ctx context.Context, rt *Runtime) error {
				results := runChecks(ctx, rt, args[0])
				displayCheckResults(cmd.OutOrStdout(), results)

				var failures []error
				passed := 0
				for _, r := range results {
					switch r.Status {
					case statusOK, statusWarning:
						passed++
					case statusError:
						failures = append(failures, fmt.Errorf("%s: %w", r.Name, r.Err))
					}
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nSummary: %d/%d checks passed\n", passed, len(results))
				if len(failures) > 0 {
					return fmt.Errorf("%d check(s) failed: %w", len(failures), errors.Join(failures...))
				}
				rt.Logger.Info("✓ %s is ready for rotation", args[0])
				return nil
			})
		},
	}

	return cmd
}

// runChecks runs every check in order. A check whose prerequisite failed is
// reported as skipped.
func runChecks(ctx context.Context, rt *Runtime, secretID string) []CheckResult {
	var results []CheckResult
	record := func(name string, message string, err error) bool {
		r := CheckResult{Name: name, Status: statusOK, Message: message, Err: err}
		if err != nil {
			r.Status = statusError
			r.Message = err.Error()
		}
		results = append(results, r)
		return err == nil
	}
	skip := func(names ...string) {
		for _, name := range names {
			results = append(results, CheckResult{Name: name, Status: statusSkipped})
		}
	}

	identity, err := checkIdentity(ctx, rt.Identity)
	record("aws identity", identity, err)

	desc, err := rt.Store.Describe(ctx, secretID)
	if err != nil {
		record("secret", "", err)
	} else if !desc.RotationEnabled {
		results = append(results, CheckResult{
			Name:    "secret",
			Status:  statusWarning,
			Message: "rotation is not enabled; scheduled steps will be rejected",
		})
	} else {
		record("secret", fmt.Sprintf("%s, rotation enabled", desc.ARN), nil)
	}

	raw, err := rt.Store.GetVersion(ctx, secretID, secretstore.StageCurrent, "")
	var current secretdict.Dictionary
	if err == nil {
		current, err = secretdict.Parse(raw)
	}
	if !record("current version", describeDict(current), err) {
		skip("current login", "master secret", "master login")
		return results
	}

	record("current login", "connected and queried", checkLogin(ctx, rt, current))

	if current.MasterARN == "" {
		results = append(results, CheckResult{
			Name:    "master secret",
			Status:  statusWarning,
			Message: "no masterarn key; setSecret cannot create or update the alternate user",
		})
		skip("master login")
		return results
	}

	master, err := rotation.LoadMaster(ctx, rt.Store, rt.Instances, current)
	if !record("master secret", describeDict(master), err) {
		skip("master login")
		return results
	}
	record("master login", "connected and queried", checkLogin(ctx, rt, master))

	return results
}

func checkIdentity(ctx context.Context, client IdentityAPI) (string, error) {
	if client == nil {
		return "", errors.New("no STS client configured")
	}
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Arn), nil
}

func checkLogin(ctx context.Context, rt *Runtime, d secretdict.Dictionary) error {
	db, err := rt.Connector.Connect(ctx, d)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return database.Probe(ctx, db)
}

func describeDict(d secretdict.Dictionary) string {
	if d.Username == "" {
		return ""
	}
	return fmt.Sprintf("user %s on %s:%d/%s", d.Username, d.Host, d.ConnectPort(), d.ConnectDBName())
}

// displayCheckResults shows check results in a formatted table
func displayCheckResults(out io.Writer, results []CheckResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")

	for _, r := range results {
		status := r.Status
		switch r.Status {
		case statusOK:
			status = "✓ " + status
		case statusError:
			status = "✗ " + status
		case statusWarning:
			status = "! " + status
		default:
			status = "- " + status
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, status, r.Message)
	}

	_ = w.Flush()
}
