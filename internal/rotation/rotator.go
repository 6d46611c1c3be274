// Package rotation drives the four-step alternating-users rotation of a
// PostgreSQL credential stored in Secrets Manager.
//
// Every step is safe to repeat: each one first probes whether its work is
// already visible and returns early when it is. A failed step leaves the
// AWSPENDING version in place so the scheduler can retry it.
package rotation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/systmms/pgrotate/internal/database"
	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/logging"
	"github.com/systmms/pgrotate/internal/secretdict"
	"github.com/systmms/pgrotate/internal/secretstore"
)

// SecretStore reads and writes staged secret versions.
type SecretStore interface {
	GetVersion(ctx context.Context, secretID string, stage secretstore.Stage, versionID string) ([]byte, error)
	PutVersion(ctx context.Context, secretID, token string, payload []byte, stage secretstore.Stage) error
	MoveStage(ctx context.Context, secretID string, stage secretstore.Stage, moveTo, removeFrom string) error
	Describe(ctx context.Context, secretID string) (*secretstore.Description, error)
}

// PasswordGenerator produces passwords for new pending versions.
type PasswordGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// Connector opens a database handle authenticated with a dictionary's
// credentials. Failures are AuthenticationErrors.
type Connector interface {
	Connect(ctx context.Context, d secretdict.Dictionary) (*sql.DB, error)
}

// CredentialWriter applies the pending credentials through a privileged handle.
type CredentialWriter interface {
	Apply(ctx context.Context, db *sql.DB, currentUsername, pendingUsername, password string) error
}

// InstanceResolver fills in master connection details and answers replica
// questions.
type InstanceResolver interface {
	secretdict.ConnectionResolver
	IsReplicaOf(ctx context.Context, candidateHost, masterHost string) (bool, error)
}

// Dependencies are the collaborators a Rotator needs. Instances, Metrics and
// Logger are optional.
type Dependencies struct {
	Store     SecretStore
	Passwords PasswordGenerator
	Connector Connector
	Writer    CredentialWriter
	Instances InstanceResolver
	Metrics   *Metrics
	Logger    *logging.Logger
}

// Rotator runs rotation steps for any secret.
type Rotator struct {
	deps Dependencies
}

// New validates deps and creates a Rotator.
func New(deps Dependencies) (*Rotator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("rotation: secret store is required")
	case deps.Passwords == nil:
		return nil, fmt.Errorf("rotation: password generator is required")
	case deps.Connector == nil:
		return nil, fmt.Errorf("rotation: database connector is required")
	case deps.Writer == nil:
		return nil, fmt.Errorf("rotation: credential writer is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Rotator{deps: deps}, nil
}

type stepFunc func(ctx context.Context, log *logging.Logger) (noop bool, err error)

// instrument runs fn with a scoped logger, annotates its error with the secret
// and step, and records the outcome.
func (r *Rotator) instrument(ctx context.Context, step Step, secretID string, fn stepFunc) error {
	start := time.Now()
	log := r.deps.Logger.With("secret_id", secretID).With("step", string(step))

	noop, err := fn(ctx, log)
	err = rerrors.Annotate(err, secretID, string(step))
	r.observe(step, start, noop, err)

	if err != nil {
		log.Error("%s failed: %v", step, err)
	}
	return err
}

func (r *Rotator) observe(step Step, start time.Time, noop bool, err error) {
	outcome := rerrors.Kind(err)
	if err == nil && noop {
		outcome = OutcomeNoop
	}
	r.deps.Metrics.Observe(step, outcome, time.Since(start))
}

// CreateSecret writes the pending version for token: the current dictionary
// with the alternate username and a generated password.
func (r *Rotator) CreateSecret(ctx context.Context, secretID, token string) error {
	return r.instrument(ctx, StepCreate, secretID, func(ctx context.Context, log *logging.Logger) (bool, error) {
		current, err := r.currentDict(ctx, secretID)
		if err != nil {
			return false, err
		}

		state, err := r.probePending(ctx, secretID, token)
		switch {
		case err != nil && state != probeInvalid:
			return false, err
		case state == probeInvalid:
			return false, &rerrors.ValidationError{Message: "existing AWSPENDING version is invalid", Err: err}
		case state == probeDone:
			log.Info("createSecret: AWSPENDING version %s already exists", token)
			return true, nil
		}

		username := secretdict.AlternateUsername(current.Username)
		if len(username) > secretdict.MaxIdentifierLength {
			return false, rerrors.Validationf("alternate username %s exceeds %d bytes", username, secretdict.MaxIdentifierLength)
		}

		pw, err := r.deps.Passwords.Generate(ctx)
		if err != nil {
			return false, err
		}
		log.Debug("createSecret: generated password %s for %s", logging.Secret(pw), username)

		next := current.WithCredentials(username, pw)
		if err := next.Validate(); err != nil {
			return false, err
		}
		payload, err := next.Marshal()
		if err != nil {
			return false, fmt.Errorf("encode pending secret: %w", err)
		}

		if err := r.deps.Store.PutVersion(ctx, secretID, token, payload, secretstore.StagePending); err != nil {
			if !secretstore.IsConflict(err) {
				return false, err
			}
			// A concurrent invocation for the same token may have won.
			if state, perr := r.probePending(ctx, secretID, token); perr == nil && state == probeDone {
				log.Info("createSecret: AWSPENDING version %s was written concurrently", token)
				return true, nil
			}
			return false, err
		}

		log.Info("createSecret: Successfully put secret for %s and version %s", secretID, token)
		return false, nil
	})
}

// SetSecret makes the database accept the pending credentials, creating the
// pending role through the master secret when needed.
func (r *Rotator) SetSecret(ctx context.Context, secretID, token string) error {
	return r.instrument(ctx, StepSet, secretID, func(ctx context.Context, log *logging.Logger) (bool, error) {
		current, err := r.currentDict(ctx, secretID)
		if err != nil {
			return false, err
		}
		pending, err := r.pendingDict(ctx, secretID, token)
		if err != nil {
			return false, err
		}

		state, err := r.probeLogin(ctx, pending)
		if err != nil {
			return false, err
		}
		if state == probeDone {
			log.Info("setSecret: AWSPENDING credentials already accepted by the database")
			return true, nil
		}

		if want := secretdict.AlternateUsername(current.Username); pending.Username != want {
			return false, rerrors.Validationf("pending username %s is not the alternate of current username %s",
				pending.Username, current.Username)
		}
		if pending.Host != current.Host {
			return false, rerrors.Validationf("pending host %s does not match current host %s", pending.Host, current.Host)
		}

		currentDB, err := r.deps.Connector.Connect(ctx, current)
		if err != nil {
			return false, &rerrors.AuthenticationError{Message: "unable to log into database using current credentials", Err: err}
		}
		_ = currentDB.Close()

		master, err := r.masterDict(ctx, current)
		if err != nil {
			return false, err
		}

		if current.Host != master.Host {
			replica, err := r.isReplicaOf(ctx, current.Host, master.Host)
			if err != nil {
				return false, err
			}
			if !replica {
				return false, rerrors.Validationf("current host %s is neither the master host %s nor a replica of it",
					current.Host, master.Host)
			}
		}

		masterDB, err := r.deps.Connector.Connect(ctx, master)
		if err != nil {
			return false, &rerrors.AuthenticationError{
				Message: fmt.Sprintf("unable to log into database using credentials in master secret %s", current.MasterARN),
				Err:     err,
			}
		}
		defer func() { _ = masterDB.Close() }()

		if err := r.deps.Writer.Apply(ctx, masterDB, current.Username, pending.Username, pending.Password); err != nil {
			return false, err
		}

		log.Info("setSecret: Successfully set password for %s", pending.Username)
		return false, nil
	})
}

// TestSecret logs in with the pending credentials and runs a query.
func (r *Rotator) TestSecret(ctx context.Context, secretID, token string) error {
	return r.instrument(ctx, StepTest, secretID, func(ctx context.Context, log *logging.Logger) (bool, error) {
		pending, err := r.pendingDict(ctx, secretID, token)
		if err != nil {
			return false, err
		}

		db, err := r.deps.Connector.Connect(ctx, pending)
		if err != nil {
			return false, &rerrors.ValidationError{Message: "unable to log into database with AWSPENDING credentials", Err: err}
		}
		defer func() { _ = db.Close() }()

		if err := database.Probe(ctx, db); err != nil {
			return false, &rerrors.ValidationError{Message: "AWSPENDING credentials cannot run queries", Err: err}
		}

		log.Info("testSecret: Successfully signed into database with AWSPENDING credentials")
		return false, nil
	})
}

// FinishSecret promotes the token's version to AWSCURRENT and clears its
// AWSPENDING label.
func (r *Rotator) FinishSecret(ctx context.Context, secretID, token string) error {
	return r.instrument(ctx, StepFinish, secretID, func(ctx context.Context, log *logging.Logger) (bool, error) {
		desc, err := r.deps.Store.Describe(ctx, secretID)
		if err != nil {
			return false, err
		}

		switch probePromoted(desc, token) {
		case probeInvalid:
			return false, rerrors.Validationf("secret version %s is neither AWSCURRENT nor AWSPENDING", token)
		case probeDone:
			if !desc.HasStage(token, secretstore.StagePending) {
				log.Info("finishSecret: Version %s already marked as AWSCURRENT", token)
				return true, nil
			}
		default:
			previous, _ := desc.VersionWithStage(secretstore.StageCurrent)
			if err := r.deps.Store.MoveStage(ctx, secretID, secretstore.StageCurrent, token, previous); err != nil {
				return false, err
			}
			log.Info("finishSecret: Successfully set AWSCURRENT stage to version %s", token)
		}

		if desc.HasStage(token, secretstore.StagePending) {
			if err := r.deps.Store.MoveStage(ctx, secretID, secretstore.StagePending, "", token); err != nil {
				return false, err
			}
			log.Debug("finishSecret: Removed AWSPENDING from version %s", token)
		}
		return false, nil
	})
}

// Run checks that ev is a valid invocation for the secret's current state and
// dispatches it to its step.
func (r *Rotator) Run(ctx context.Context, ev Event) error {
	start := time.Now()
	proceed, err := r.admit(ctx, ev)
	if err != nil || !proceed {
		err = rerrors.Annotate(err, ev.SecretID, string(ev.Step))
		r.observe(ev.Step, start, true, err)
		return err
	}

	switch ev.Step {
	case StepCreate:
		return r.CreateSecret(ctx, ev.SecretID, ev.ClientRequestToken)
	case StepSet:
		return r.SetSecret(ctx, ev.SecretID, ev.ClientRequestToken)
	case StepTest:
		return r.TestSecret(ctx, ev.SecretID, ev.ClientRequestToken)
	case StepFinish:
		return r.FinishSecret(ctx, ev.SecretID, ev.ClientRequestToken)
	default:
		return rerrors.Validationf("unknown step: %s", ev.Step)
	}
}

func (r *Rotator) admit(ctx context.Context, ev Event) (bool, error) {
	if _, err := ParseStep(string(ev.Step)); err != nil {
		return false, &rerrors.ValidationError{Message: err.Error()}
	}

	desc, err := r.deps.Store.Describe(ctx, ev.SecretID)
	if err != nil {
		return false, err
	}
	if !desc.RotationEnabled {
		return false, rerrors.Validationf("secret %s is not enabled for rotation", ev.SecretID)
	}
	if _, ok := desc.Versions[ev.ClientRequestToken]; !ok {
		return false, rerrors.Validationf("secret version %s has no stage for rotation of secret %s",
			ev.ClientRequestToken, ev.SecretID)
	}
	if desc.HasStage(ev.ClientRequestToken, secretstore.StageCurrent) {
		r.deps.Logger.Info("Secret version %s already set as AWSCURRENT for secret %s", ev.ClientRequestToken, ev.SecretID)
		return false, nil
	}
	if !desc.HasStage(ev.ClientRequestToken, secretstore.StagePending) {
		return false, rerrors.Validationf("secret version %s not set as AWSPENDING for rotation of secret %s",
			ev.ClientRequestToken, ev.SecretID)
	}
	return true, nil
}

// Cycle runs all four steps for token, stopping at the first failure.
func (r *Rotator) Cycle(ctx context.Context, secretID, token string) error {
	steps := []func(context.Context, string, string) error{
		r.CreateSecret,
		r.SetSecret,
		r.TestSecret,
		r.FinishSecret,
	}
	for _, step := range steps {
		if err := step(ctx, secretID, token); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rotator) currentDict(ctx context.Context, secretID string) (secretdict.Dictionary, error) {
	raw, err := r.deps.Store.GetVersion(ctx, secretID, secretstore.StageCurrent, "")
	if err != nil {
		if secretstore.IsNotFound(err) {
			return secretdict.Dictionary{}, &rerrors.ValidationError{Message: "secret has no AWSCURRENT version", Err: err}
		}
		return secretdict.Dictionary{}, err
	}
	return secretdict.Parse(raw)
}

func (r *Rotator) pendingDict(ctx context.Context, secretID, token string) (secretdict.Dictionary, error) {
	raw, err := r.deps.Store.GetVersion(ctx, secretID, secretstore.StagePending, token)
	if err != nil {
		if secretstore.IsNotFound(err) {
			return secretdict.Dictionary{}, &rerrors.ValidationError{
				Message: fmt.Sprintf("no AWSPENDING version for token %s", token),
				Err:     err,
			}
		}
		return secretdict.Dictionary{}, err
	}
	return secretdict.Parse(raw)
}

func (r *Rotator) masterDict(ctx context.Context, current secretdict.Dictionary) (secretdict.Dictionary, error) {
	return LoadMaster(ctx, r.deps.Store, r.deps.Instances, current)
}

// LoadMaster loads the master secret named by current.masterarn. The master
// connects to the same database as current. instances may be nil, in which
// case an identity-only master secret fails validation.
func LoadMaster(ctx context.Context, store SecretStore, instances InstanceResolver, current secretdict.Dictionary) (secretdict.Dictionary, error) {
	if current.MasterARN == "" {
		return secretdict.Dictionary{}, rerrors.Validationf("%s key is missing from secret JSON", secretdict.KeyMasterARN)
	}

	raw, err := store.GetVersion(ctx, current.MasterARN, secretstore.StageCurrent, "")
	if err != nil {
		if secretstore.IsNotFound(err) {
			return secretdict.Dictionary{}, &rerrors.ValidationError{
				Message: fmt.Sprintf("master secret %s not found", current.MasterARN),
				Err:     err,
			}
		}
		return secretdict.Dictionary{}, err
	}

	var resolver secretdict.ConnectionResolver
	if instances != nil {
		resolver = instances
	}
	master, err := secretdict.ParseMaster(ctx, current.MasterARN, raw, resolver)
	if err != nil {
		return secretdict.Dictionary{}, err
	}
	master.DBName = current.DBName
	return master, nil
}

func (r *Rotator) isReplicaOf(ctx context.Context, candidate, master string) (bool, error) {
	if r.deps.Instances == nil {
		return false, nil
	}
	return r.deps.Instances.IsReplicaOf(ctx, candidate, master)
}
