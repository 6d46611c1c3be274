package commands

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/systmms/pgrotate/internal/config"
	"github.com/systmms/pgrotate/internal/database"
	"github.com/systmms/pgrotate/internal/instance"
	"github.com/systmms/pgrotate/internal/logging"
	"github.com/systmms/pgrotate/internal/password"
	"github.com/systmms/pgrotate/internal/rotation"
	"github.com/systmms/pgrotate/internal/secretstore"
)

// IdentityAPI is the STS call doctor uses to report who is calling AWS.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Runtime holds the collaborators a command works with.
type Runtime struct {
	Definition *config.Definition
	Logger     *logging.Logger
	Rotator    *rotation.Rotator
	Store      rotation.SecretStore
	Connector  rotation.Connector
	Instances  rotation.InstanceResolver
	Identity   IdentityAPI
	Metrics    *rotation.Metrics
}

// RuntimeFactory builds a Runtime once flags have been parsed.
type RuntimeFactory func(ctx context.Context, cfg *config.Config) (*Runtime, error)

// NewRuntime loads configuration and wires the AWS clients, the PostgreSQL
// connector and the rotator.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if err := config.LoadDotEnv(cfg.EnvFile); err != nil {
		return nil, err
	}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	cfg.Logger = cfg.NewLogger(os.Stderr)
	def := cfg.Definition

	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}

	awsCfg, err := def.AWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := def.Endpoint
	if endpoint == "" {
		endpoint = env.SecretsManagerEndpoint
	}
	store := secretstore.NewFromConfig(awsCfg, endpoint)

	var ssmClient config.SSMClientAPI
	if def.PolicyParameter != "" {
		ssmClient = ssm.NewFromConfig(awsCfg)
	}
	policy, err := config.ResolvePolicy(ctx, ssmClient, def.PolicyParameter, env)
	if err != nil {
		return nil, err
	}
	cfg.Logger.Debug("Effective settings: %s", def)

	rt := &Runtime{
		Definition: def,
		Logger:     cfg.Logger,
		Store:      store,
		Connector: database.NewPostgresConnector(database.Options{
			SSLMode:        def.SSLMode,
			ConnectTimeout: def.ConnectTimeout,
		}),
		Instances: instance.NewFromConfig(awsCfg, def.RDSEndpoint, store, cfg.Logger),
		Identity:  sts.NewFromConfig(awsCfg),
		Metrics:   rotation.NewMetrics(nil),
	}

	passwords := password.NewGenerator(policy, store)
	cfg.Logger.Debug("Password policy: %+v", passwords.Policy())

	rt.Rotator, err = rotation.New(rotation.Dependencies{
		Store:     store,
		Passwords: passwords,
		Connector: rt.Connector,
		Writer:    database.NewCredentialWriter(cfg.Logger),
		Instances: rt.Instances,
		Metrics:   rt.Metrics,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// withRuntime builds the runtime and runs fn under the configured deadline.
func withRuntime(cmd *cobra.Command, cfg *config.Config, newRuntime RuntimeFactory, fn func(context.Context, *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	if rt.Definition.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.Definition.Timeout)
		defer cancel()
	}
	return fn(ctx, rt)
}

// pushMetrics sends step metrics to the configured Pushgateway. A failed push
// is logged and does not fail the command.
func pushMetrics(ctx context.Context, rt *Runtime, secretID string) {
	url := rt.Definition.Pushgateway
	if url == "" {
		return
	}
	if err := rt.Metrics.Push(ctx, url, secretID); err != nil {
		rt.Logger.Warn("Failed to push metrics to %s: %v", url, err)
		return
	}
	rt.Logger.Debug("Pushed metrics to %s", url)
}
