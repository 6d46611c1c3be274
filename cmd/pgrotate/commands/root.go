package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/pgrotate/internal/config"
)

// NewRootCommand builds the pgrotate command tree. newRuntime constructs the
// AWS and database collaborators once flags and config are known.
func NewRootCommand(cfg *config.Config, newRuntime RuntimeFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pgrotate",
		Short: "Rotate PostgreSQL credentials stored in AWS Secrets Manager",
		Long: `pgrotate rotates a PostgreSQL login mirrored in AWS Secrets Manager using
alternating users: each cycle writes the password of the user that is not
currently in use, so clients holding the current credentials keep working
until the new version is promoted.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Logger = cfg.NewLogger(os.Stderr)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.Path, "config", "", "Config file path (optional)")
	flags.BoolVar(&cfg.NoColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flags.StringVar(&cfg.Overrides.LogFormat, "log-format", "", "Log format: console or json")
	flags.StringVar(&cfg.EnvFile, "env-file", "", "Load environment variables from a dotenv file")
	flags.StringVar(&cfg.Overrides.Region, "region", "", "AWS region")
	flags.StringVar(&cfg.Overrides.Endpoint, "endpoint", "", "Secrets Manager endpoint override")
	flags.StringVar(&cfg.Overrides.Pushgateway, "pushgateway", "", "Push step metrics to this Pushgateway URL")
	flags.DurationVar(&cfg.Overrides.Timeout, "timeout", 0, "Overall deadline for the command (default 2m)")

	rootCmd.AddCommand(
		NewStepCommand(cfg, newRuntime),
		NewRotateCommand(cfg, newRuntime),
		NewDoctorCommand(cfg, newRuntime),
		NewCompletionCommand(cfg),
	)
	return rootCmd
}
