package fakes

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

const (
	stageCurrent  = "AWSCURRENT"
	stagePrevious = "AWSPREVIOUS"
	arnPrefix     = "arn:aws:secretsmanager:us-east-1:123456789012:secret:"
)

// FakeSecretsManagerClient is an in-memory Secrets Manager that models staging
// labels the way the service does: a label lives on at most one version,
// moving AWSCURRENT hands AWSPREVIOUS to the version that lost it, and a
// client request token is idempotent for identical content.
type FakeSecretsManagerClient struct {
	mu      sync.Mutex
	secrets map[string]*FakeSecret

	// Errors maps an operation name (e.g. "PutSecretValue") to an error it
	// returns until removed.
	Errors map[string]error

	// Calls counts invocations per operation name.
	Calls map[string]int

	// GetRandomPasswordFunc overrides password generation.
	GetRandomPasswordFunc func(ctx context.Context, params *secretsmanager.GetRandomPasswordInput) (*secretsmanager.GetRandomPasswordOutput, error)
}

// FakeSecret holds the versions of one secret.
type FakeSecret struct {
	Name            string
	RotationEnabled bool
	Tags            map[string]string
	Versions        map[string]*FakeVersion
}

// FakeVersion is one secret version. SecretString is nil for a version the
// service registered for rotation before any value was put.
type FakeVersion struct {
	SecretString *string
	Stages       []string
}

// NewFakeSecretsManagerClient creates an empty fake.
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		secrets: make(map[string]*FakeSecret),
		Errors:  make(map[string]error),
		Calls:   make(map[string]int),
	}
}

// ARN returns the fake ARN for a secret name.
func ARN(name string) string {
	return arnPrefix + name
}

// AddSecret creates a secret whose version v1 holds payload as AWSCURRENT.
func (f *FakeSecretsManagerClient) AddSecret(name, payload string) *FakeSecret {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &FakeSecret{
		Name:            name,
		RotationEnabled: true,
		Tags:            make(map[string]string),
		Versions: map[string]*FakeVersion{
			"v1": {SecretString: aws.String(payload), Stages: []string{stageCurrent}},
		},
	}
	f.secrets[name] = s
	return s
}

// RegisterVersion adds a version without a value carrying the given stages,
// the way the service prepares a rotation token before invoking createSecret.
func (f *FakeSecretsManagerClient) RegisterVersion(name, versionID string, stages ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.secrets[name]
	for _, st := range stages {
		detach(s, st)
	}
	s.Versions[versionID] = &FakeVersion{Stages: append([]string(nil), stages...)}
}

// Payload returns the SecretString of the version holding stage.
func (f *FakeSecretsManagerClient) Payload(name, stage string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.secrets[name]
	if !ok {
		return "", false
	}
	for _, v := range s.Versions {
		if hasStage(v, stage) && v.SecretString != nil {
			return *v.SecretString, true
		}
	}
	return "", false
}

// StagesOf returns a copy of the labels on a version.
func (f *FakeSecretsManagerClient) StagesOf(name, versionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.secrets[name]
	if !ok || s.Versions[versionID] == nil {
		return nil
	}
	out := append([]string(nil), s.Versions[versionID].Stages...)
	sort.Strings(out)
	return out
}

// Mutations returns the number of calls that can change stored state.
func (f *FakeSecretsManagerClient) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls["PutSecretValue"] + f.Calls["UpdateSecretVersionStage"]
}

func (f *FakeSecretsManagerClient) begin(op string) error {
	f.mu.Lock()
	f.Calls[op]++
	return f.Errors[op]
}

func (f *FakeSecretsManagerClient) lookup(id string) (*FakeSecret, error) {
	name := strings.TrimPrefix(id, arnPrefix)
	s, ok := f.secrets[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", id)),
		}
	}
	return s, nil
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if err := f.begin("GetSecretValue"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()

	s, err := f.lookup(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}

	stage := aws.ToString(params.VersionStage)
	versionID := aws.ToString(params.VersionId)
	if stage == "" && versionID == "" {
		stage = stageCurrent
	}

	for id, v := range s.Versions {
		if versionID != "" && id != versionID {
			continue
		}
		if stage != "" && !hasStage(v, stage) {
			continue
		}
		if v.SecretString == nil {
			break
		}
		return &secretsmanager.GetSecretValueOutput{
			ARN:           aws.String(ARN(s.Name)),
			Name:          aws.String(s.Name),
			SecretString:  aws.String(*v.SecretString),
			VersionId:     aws.String(id),
			VersionStages: append([]string(nil), v.Stages...),
		}, nil
	}

	return nil, &types.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret value for VersionId: %s, VersionStage: %s", versionID, stage)),
	}
}

// PutSecretValue mocks the PutSecretValue operation
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if err := f.begin("PutSecretValue"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()

	s, err := f.lookup(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}

	token := aws.ToString(params.ClientRequestToken)
	value := aws.ToString(params.SecretString)
	stages := params.VersionStages
	if len(stages) == 0 {
		stages = []string{stageCurrent}
	}

	v, exists := s.Versions[token]
	if exists && v.SecretString != nil {
		if *v.SecretString != value {
			return nil, &types.ResourceExistsException{
				Message: aws.String(fmt.Sprintf("You can't modify an existing version, you can only create a new version. VersionId: %s", token)),
			}
		}
	} else {
		if !exists {
			v = &FakeVersion{}
			s.Versions[token] = v
		}
		v.SecretString = aws.String(value)
	}

	for _, st := range stages {
		if !hasStage(v, st) {
			detach(s, st)
			v.Stages = append(v.Stages, st)
		}
	}

	return &secretsmanager.PutSecretValueOutput{
		ARN:           aws.String(ARN(s.Name)),
		Name:          aws.String(s.Name),
		VersionId:     aws.String(token),
		VersionStages: append([]string(nil), v.Stages...),
	}, nil
}

// DescribeSecret mocks the DescribeSecret operation
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if err := f.begin("DescribeSecret"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()

	s, err := f.lookup(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}

	out := &secretsmanager.DescribeSecretOutput{
		ARN:                aws.String(ARN(s.Name)),
		Name:               aws.String(s.Name),
		RotationEnabled:    aws.Bool(s.RotationEnabled),
		VersionIdsToStages: make(map[string][]string),
	}
	for id, v := range s.Versions {
		if len(v.Stages) > 0 {
			out.VersionIdsToStages[id] = append([]string(nil), v.Stages...)
		}
	}
	for k, val := range s.Tags {
		out.Tags = append(out.Tags, types.Tag{Key: aws.String(k), Value: aws.String(val)})
	}
	return out, nil
}

// UpdateSecretVersionStage mocks the UpdateSecretVersionStage operation
func (f *FakeSecretsManagerClient) UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	if err := f.begin("UpdateSecretVersionStage"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()

	s, err := f.lookup(aws.ToString(params.SecretId))
	if err != nil {
		return nil, err
	}

	stage := aws.ToString(params.VersionStage)
	moveTo := aws.ToString(params.MoveToVersionId)
	removeFrom := aws.ToString(params.RemoveFromVersionId)

	if removeFrom != "" {
		v, ok := s.Versions[removeFrom]
		if !ok || !hasStage(v, stage) {
			return nil, &types.InvalidParameterException{
				Message: aws.String(fmt.Sprintf("%s is not attached to version %s", stage, removeFrom)),
			}
		}
	}

	if moveTo != "" {
		target, ok := s.Versions[moveTo]
		if !ok {
			return nil, &types.ResourceNotFoundException{Message: aws.String("version not found: " + moveTo)}
		}
		if holder := holderOf(s, stage); holder != "" && holder != moveTo && holder != removeFrom {
			return nil, &types.InvalidParameterException{
				Message: aws.String(fmt.Sprintf("%s is attached to version %s; specify RemoveFromVersionId", stage, holder)),
			}
		}
		if removeFrom != "" {
			removeStage(s.Versions[removeFrom], stage)
		}
		if !hasStage(target, stage) {
			target.Stages = append(target.Stages, stage)
		}
		if stage == stageCurrent && removeFrom != "" && removeFrom != moveTo {
			detach(s, stagePrevious)
			s.Versions[removeFrom].Stages = append(s.Versions[removeFrom].Stages, stagePrevious)
		}
	} else if removeFrom != "" {
		removeStage(s.Versions[removeFrom], stage)
	}

	return &secretsmanager.UpdateSecretVersionStageOutput{
		ARN:  aws.String(ARN(s.Name)),
		Name: aws.String(s.Name),
	}, nil
}

// GetRandomPassword mocks the GetRandomPassword operation
func (f *FakeSecretsManagerClient) GetRandomPassword(ctx context.Context, params *secretsmanager.GetRandomPasswordInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetRandomPasswordOutput, error) {
	err := f.begin("GetRandomPassword")
	fn := f.GetRandomPasswordFunc
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, params)
	}

	pw, err := RandomPassword(params)
	if err != nil {
		return nil, &types.InvalidParameterException{Message: aws.String(err.Error())}
	}
	return &secretsmanager.GetRandomPasswordOutput{RandomPassword: aws.String(pw)}, nil
}

const (
	digits      = "0123456789"
	upper       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lower       = "abcdefghijklmnopqrstuvwxyz"
	punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// RandomPassword generates a password the way GetRandomPassword documents it.
func RandomPassword(params *secretsmanager.GetRandomPasswordInput) (string, error) {
	length := int(aws.ToInt64(params.PasswordLength))
	if length == 0 {
		length = 32
	}
	exclude := aws.ToString(params.ExcludeCharacters)

	var classes []string
	add := func(skip *bool, set string) {
		if aws.ToBool(skip) {
			return
		}
		var kept strings.Builder
		for _, r := range set {
			if !strings.ContainsRune(exclude, r) {
				kept.WriteRune(r)
			}
		}
		if kept.Len() > 0 {
			classes = append(classes, kept.String())
		}
	}
	add(params.ExcludeNumbers, digits)
	add(params.ExcludePunctuation, punctuation)
	add(params.ExcludeUppercase, upper)
	add(params.ExcludeLowercase, lower)

	if len(classes) == 0 {
		return "", fmt.Errorf("no characters left to generate a password from")
	}
	require := params.RequireEachIncludedType == nil || aws.ToBool(params.RequireEachIncludedType)
	if require && length < len(classes) {
		return "", fmt.Errorf("password length %d cannot include %d character types", length, len(classes))
	}

	alphabet := strings.Join(classes, "")
	for attempt := 0; attempt < 1000; attempt++ {
		out := make([]byte, length)
		for i := range out {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				return "", err
			}
			out[i] = alphabet[n.Int64()]
		}
		if !require || coversAll(string(out), classes) {
			return string(out), nil
		}
	}
	return "", fmt.Errorf("could not satisfy RequireEachIncludedType")
}

func coversAll(s string, classes []string) bool {
	for _, c := range classes {
		if !strings.ContainsAny(s, c) {
			return false
		}
	}
	return true
}

func hasStage(v *FakeVersion, stage string) bool {
	for _, s := range v.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func removeStage(v *FakeVersion, stage string) {
	kept := v.Stages[:0]
	for _, s := range v.Stages {
		if s != stage {
			kept = append(kept, s)
		}
	}
	v.Stages = kept
}

func detach(s *FakeSecret, stage string) {
	for _, v := range s.Versions {
		removeStage(v, stage)
	}
}

func holderOf(s *FakeSecret, stage string) string {
	for id, v := range s.Versions {
		if hasStage(v, stage) {
			return id
		}
	}
	return ""
}
