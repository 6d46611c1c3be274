package rotation

import (
	"context"
	"errors"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/secretdict"
	"github.com/systmms/pgrotate/internal/secretstore"
)

// probe is the observed state of a step's work.
type probe int

const (
	probeNeedsWork probe = iota
	probeDone
	probeInvalid
)

func (p probe) String() string {
	switch p {
	case probeDone:
		return "done"
	case probeInvalid:
		return "invalid"
	default:
		return "needs-work"
	}
}

// probePending reports whether a valid AWSPENDING version exists for token.
// probeInvalid comes with the validation error.
func (r *Rotator) probePending(ctx context.Context, secretID, token string) (probe, error) {
	raw, err := r.deps.Store.GetVersion(ctx, secretID, secretstore.StagePending, token)
	if err != nil {
		if secretstore.IsNotFound(err) {
			return probeNeedsWork, nil
		}
		return probeNeedsWork, err
	}
	if _, err := secretdict.Parse(raw); err != nil {
		return probeInvalid, err
	}
	return probeDone, nil
}

// probeLogin reports whether the database already accepts d's credentials.
func (r *Rotator) probeLogin(ctx context.Context, d secretdict.Dictionary) (probe, error) {
	db, err := r.deps.Connector.Connect(ctx, d)
	if err != nil {
		var ae *rerrors.AuthenticationError
		if errors.As(err, &ae) {
			return probeNeedsWork, nil
		}
		return probeNeedsWork, err
	}
	_ = db.Close()
	return probeDone, nil
}

// probePromoted reports whether token's version already holds AWSCURRENT.
// Only a version holding AWSPENDING may be promoted.
func probePromoted(desc *secretstore.Description, token string) probe {
	switch {
	case desc.HasStage(token, secretstore.StageCurrent):
		return probeDone
	case desc.HasStage(token, secretstore.StagePending):
		return probeNeedsWork
	default:
		return probeInvalid
	}
}
