package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/require"

	"github.com/systmms/pgrotate/internal/config"
	"github.com/systmms/pgrotate/internal/fakes"
	"github.com/systmms/pgrotate/internal/instance"
	"github.com/systmms/pgrotate/internal/logging"
	"github.com/systmms/pgrotate/internal/password"
	"github.com/systmms/pgrotate/internal/rotation"
	"github.com/systmms/pgrotate/internal/secretdict"
	"github.com/systmms/pgrotate/internal/secretstore"
)

const (
	testSecret = "app/db"
	testMaster = "app/master"
	testHost   = "orders.abc123.us-east-1.rds.amazonaws.com"
)

type fakeSTS struct {
	err error
}

func (f fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws:iam::123456789012:role/rotator"),
	}, nil
}

type env struct {
	sm       *fakes.FakeSecretsManagerClient
	rds      *fakes.FakeRDSClient
	db       *fakes.FakeDatabase
	identity fakeSTS
	metrics  *rotation.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		sm:      fakes.NewFakeSecretsManagerClient(),
		rds:     fakes.NewFakeRDSClient(),
		db:      fakes.NewFakeDatabase(testHost, "admin", "mpw"),
		metrics: rotation.NewMetrics(nil),
	}
	e.db.SetRole("u", "p1")
	e.sm.AddSecret(testMaster, fmt.Sprintf(`{"host":%q,"username":"admin","password":"mpw","engine":"postgres"}`, testHost))
	e.sm.AddSecret(testSecret, fmt.Sprintf(`{"host":%q,"username":"u","password":"p1","engine":"postgres","masterarn":%q}`,
		testHost, fakes.ARN(testMaster)))
	return e
}

func (e *env) factory(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	logger := logging.Nop()
	store := secretstore.New(e.sm)
	instances := instance.New(e.rds, store, logger)

	rotator, err := rotation.New(rotation.Dependencies{
		Store:     store,
		Passwords: password.NewGenerator(password.DefaultPolicy(), store),
		Connector: e.db,
		Writer:    e.db,
		Instances: instances,
		Metrics:   e.metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Definition: cfg.Definition,
		Logger:     logger,
		Rotator:    rotator,
		Store:      store,
		Connector:  e.db,
		Instances:  instances,
		Identity:   e.identity,
		Metrics:    e.metrics,
	}, nil
}

// execute runs the root command with args and returns its stdout.
func (e *env) execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand(&config.Config{}, e.factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--no-color"}, args...))

	err := root.Execute()
	return out.String(), err
}

func (e *env) current(t *testing.T) secretdict.Dictionary {
	t.Helper()
	raw, ok := e.sm.Payload(testSecret, "AWSCURRENT")
	require.True(t, ok)
	d, err := secretdict.Parse([]byte(raw))
	require.NoError(t, err)
	return d
}

var errAccessDenied = errors.New("AccessDenied: not authorized")
