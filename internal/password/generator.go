package password

import (
	"context"

	rerrors "github.com/systmms/pgrotate/internal/errors"
)

// Source produces a random string honoring a policy. The secret store's
// random password API is the production Source.
type Source interface {
	GenerateRandomSecret(ctx context.Context, policy Policy) (string, error)
}

// Generator produces passwords for new credential versions.
type Generator struct {
	policy Policy
	source Source
}

// NewGenerator creates a generator for policy backed by source.
func NewGenerator(policy Policy, source Source) *Generator {
	return &Generator{policy: policy, source: source}
}

// Policy returns the policy the generator enforces.
func (g *Generator) Policy() Policy {
	return g.policy
}

// Generate returns the source's password unmodified. A result that breaks the
// policy is rejected rather than repaired.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	if err := g.policy.Validate(); err != nil {
		return "", err
	}

	pw, err := g.source.GenerateRandomSecret(ctx, g.policy)
	if err != nil {
		return "", err
	}

	if err := g.policy.Check(pw); err != nil {
		return "", &rerrors.ValidationError{Message: "generated password violates policy", Err: err}
	}
	return pw, nil
}
