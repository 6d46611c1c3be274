package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/password"
)

// Stage is a version staging label.
type Stage string

const (
	StageCurrent  Stage = "AWSCURRENT"
	StagePending  Stage = "AWSPENDING"
	StagePrevious Stage = "AWSPREVIOUS"
)

// SecretsManagerClientAPI defines the subset of the Secrets Manager client used
// by Store. This allows for fakes in tests.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
	GetRandomPassword(ctx context.Context, params *secretsmanager.GetRandomPasswordInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetRandomPasswordOutput, error)
}

// Store reads and writes staged secret versions.
type Store struct {
	client SecretsManagerClientAPI
}

// New creates a store over an existing client.
func New(client SecretsManagerClientAPI) *Store {
	return &Store{client: client}
}

// NewFromConfig creates a store with a real Secrets Manager client. endpoint
// overrides the service endpoint when non-empty (VPC endpoints, LocalStack).
func NewFromConfig(cfg aws.Config, endpoint string) *Store {
	var clientOpts []func(*secretsmanager.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return New(secretsmanager.NewFromConfig(cfg, clientOpts...))
}

// Description is the rotation-relevant metadata of a secret.
type Description struct {
	ARN             string
	Name            string
	RotationEnabled bool
	// Versions maps version id to its staging labels.
	Versions map[string][]Stage
	Tags     map[string]string
}

// HasStage reports whether versionID carries stage.
func (d *Description) HasStage(versionID string, stage Stage) bool {
	for _, s := range d.Versions[versionID] {
		if s == stage {
			return true
		}
	}
	return false
}

// VersionWithStage returns the version id carrying stage, if any.
func (d *Description) VersionWithStage(stage Stage) (string, bool) {
	for id := range d.Versions {
		if d.HasStage(id, stage) {
			return id, true
		}
	}
	return "", false
}

// GetVersion returns the SecretString of the version labeled stage. When
// versionID is non-empty the version must also match it. A missing version
// yields an error wrapping errors.ErrNotFound.
func (s *Store) GetVersion(ctx context.Context, secretID string, stage Stage, versionID string) ([]byte, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(string(stage)),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}

	out, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return nil, s.handleError(err, secretID, fmt.Sprintf("get %s version", stage))
	}

	if out.SecretString == nil {
		return nil, &rerrors.ValidationError{SecretID: secretID, Message: fmt.Sprintf("%s version has no SecretString", stage)}
	}
	return []byte(*out.SecretString), nil
}

// PutVersion writes payload as a new version identified by token and labeled
// stage. A conflicting version for the same token wraps errors.ErrConflict.
func (s *Store) PutVersion(ctx context.Context, secretID, token string, payload []byte, stage Stage) error {
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(secretID),
		ClientRequestToken: aws.String(token),
		SecretString:       aws.String(string(payload)),
		VersionStages:      []string{string(stage)},
	})
	if err != nil {
		return s.handleError(err, secretID, fmt.Sprintf("put %s version", stage))
	}
	return nil
}

// MoveStage attaches stage to moveTo and detaches it from removeFrom. Either
// side may be empty.
func (s *Store) MoveStage(ctx context.Context, secretID string, stage Stage, moveTo, removeFrom string) error {
	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(string(stage)),
	}
	if moveTo != "" {
		input.MoveToVersionId = aws.String(moveTo)
	}
	if removeFrom != "" {
		input.RemoveFromVersionId = aws.String(removeFrom)
	}

	if _, err := s.client.UpdateSecretVersionStage(ctx, input); err != nil {
		return s.handleError(err, secretID, fmt.Sprintf("move %s label", stage))
	}
	return nil
}

// Describe returns rotation metadata for the secret.
func (s *Store) Describe(ctx context.Context, secretID string) (*Description, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, s.handleError(err, secretID, "describe secret")
	}

	d := &Description{
		ARN:             aws.ToString(out.ARN),
		Name:            aws.ToString(out.Name),
		RotationEnabled: aws.ToBool(out.RotationEnabled),
		Versions:        make(map[string][]Stage, len(out.VersionIdsToStages)),
		Tags:            make(map[string]string, len(out.Tags)),
	}
	for id, stages := range out.VersionIdsToStages {
		for _, st := range stages {
			d.Versions[id] = append(d.Versions[id], Stage(st))
		}
	}
	for _, tag := range out.Tags {
		d.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return d, nil
}

// SecretTags returns the secret's tags, including system tags set by RDS.
func (s *Store) SecretTags(ctx context.Context, secretID string) (map[string]string, error) {
	d, err := s.Describe(ctx, secretID)
	if err != nil {
		return nil, err
	}
	return d.Tags, nil
}

// GenerateRandomSecret asks the service for a random password honoring policy.
func (s *Store) GenerateRandomSecret(ctx context.Context, policy password.Policy) (string, error) {
	out, err := s.client.GetRandomPassword(ctx, &secretsmanager.GetRandomPasswordInput{
		PasswordLength:          aws.Int64(int64(policy.Length)),
		ExcludeCharacters:       aws.String(policy.ExcludeCharacters),
		ExcludeNumbers:          aws.Bool(policy.ExcludeNumbers),
		ExcludePunctuation:      aws.Bool(policy.ExcludePunctuation),
		ExcludeUppercase:        aws.Bool(policy.ExcludeUppercase),
		ExcludeLowercase:        aws.Bool(policy.ExcludeLowercase),
		RequireEachIncludedType: aws.Bool(policy.RequireEachIncludedType),
	})
	if err != nil {
		return "", s.handleError(err, "", "generate random password")
	}
	return aws.ToString(out.RandomPassword), nil
}

// handleError converts AWS errors to store errors
func (s *Store) handleError(err error, secretID, op string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &rerrors.StoreError{
			SecretID: secretID,
			Message:  op,
			Err:      fmt.Errorf("%w: %s", rerrors.ErrNotFound, notFound.ErrorMessage()),
		}
	}

	var exists *types.ResourceExistsException
	if errors.As(err, &exists) {
		return &rerrors.StoreError{
			SecretID: secretID,
			Message:  op,
			Err:      fmt.Errorf("%w: %s", rerrors.ErrConflict, exists.ErrorMessage()),
		}
	}

	return &rerrors.StoreError{SecretID: secretID, Message: op, Err: err}
}

// IsNotFound reports whether err means the requested version does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, rerrors.ErrNotFound)
}

// IsConflict reports whether err means a version already exists for a token.
func IsConflict(err error) bool {
	return errors.Is(err, rerrors.ErrConflict)
}
