package rotation_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systmms/pgrotate/internal/fakes"
	"github.com/systmms/pgrotate/internal/instance"
	"github.com/systmms/pgrotate/internal/logging"
	"github.com/systmms/pgrotate/internal/password"
	"github.com/systmms/pgrotate/internal/rotation"
	"github.com/systmms/pgrotate/internal/secretdict"
	"github.com/systmms/pgrotate/internal/secretstore"
)

const (
	secretID    = "app/db"
	masterID    = "app/master"
	primaryHost = "primary.abc123.us-east-1.rds.amazonaws.com"
	replicaHost = "replica.abc123.us-east-1.rds.amazonaws.com"
)

type fixture struct {
	sm      *fakes.FakeSecretsManagerClient
	rds     *fakes.FakeRDSClient
	db      *fakes.FakeDatabase
	store   *secretstore.Store
	metrics *rotation.Metrics
	rotator *rotation.Rotator
	logs    *bytes.Buffer
}

func currentPayload(host, username, pw string) string {
	return fmt.Sprintf(`{"host":%q,"username":%q,"password":%q,"engine":"postgres","dbname":"orders","masterarn":%q,"note":"keep"}`,
		host, username, pw, fakes.ARN(masterID))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sm:   fakes.NewFakeSecretsManagerClient(),
		rds:  fakes.NewFakeRDSClient(),
		db:   fakes.NewFakeDatabase(primaryHost, "admin", "mpw"),
		logs: &bytes.Buffer{},
	}
	f.db.SetRole("u", "p1")
	f.sm.AddSecret(masterID, fmt.Sprintf(`{"host":%q,"username":"admin","password":"mpw","engine":"postgres"}`, primaryHost))
	f.sm.AddSecret(secretID, currentPayload(primaryHost, "u", "p1"))
	f.store = secretstore.New(f.sm)
	f.metrics = rotation.NewMetrics(nil)
	f.rotator = f.build(t, f.store)
	return f
}

func (f *fixture) build(t *testing.T, store rotation.SecretStore) *rotation.Rotator {
	t.Helper()
	logger := logging.NewWithWriter(f.logs, logging.FormatJSON, true, true)

	r, err := rotation.New(rotation.Dependencies{
		Store:     store,
		Passwords: password.NewGenerator(password.DefaultPolicy(), f.store),
		Connector: f.db,
		Writer:    f.db,
		Instances: instance.New(f.rds, f.store, logger),
		Metrics:   f.metrics,
		Logger:    logger,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) current(t *testing.T) secretdict.Dictionary {
	t.Helper()
	raw, ok := f.sm.Payload(secretID, string(secretstore.StageCurrent))
	require.True(t, ok)
	d, err := secretdict.Parse([]byte(raw))
	require.NoError(t, err)
	return d
}

func (f *fixture) pending(t *testing.T) secretdict.Dictionary {
	t.Helper()
	raw, ok := f.sm.Payload(secretID, string(secretstore.StagePending))
	require.True(t, ok)
	d, err := secretdict.Parse([]byte(raw))
	require.NoError(t, err)
	return d
}

// racingStore lets another writer put a different pending version for the
// same token just before this rotator's put lands.
type racingStore struct {
	*secretstore.Store
	raced bool
}

func (s *racingStore) PutVersion(ctx context.Context, id, token string, payload []byte, stage secretstore.Stage) error {
	if !s.raced {
		s.raced = true
		d, err := secretdict.Parse(payload)
		if err != nil {
			return err
		}
		other, err := d.WithCredentials(d.Username, "winner-password").Marshal()
		if err != nil {
			return err
		}
		if err := s.Store.PutVersion(ctx, id, token, other, stage); err != nil {
			return err
		}
	}
	return s.Store.PutVersion(ctx, id, token, payload, stage)
}
