package fakes

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// FakeSSMClient is a mock implementation of the SSM GetParameter operation
type FakeSSMClient struct {
	// Parameters maps parameter names to their values
	Parameters map[string]string
	// Errors maps parameter names to errors to return
	Errors map[string]error
	// Decrypted records the WithDecryption flag of the last call
	Decrypted bool
}

// NewFakeSSMClient creates a new mock SSM client
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]string),
		Errors:     make(map[string]error),
	}
}

// GetParameter mocks the GetParameter operation
func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(params.Name)
	f.Decrypted = aws.ToBool(params.WithDecryption)

	if err, exists := f.Errors[name]; exists {
		return nil, err
	}

	value, ok := f.Parameters[name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String(fmt.Sprintf("parameter %s not found", name))}
	}

	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:    aws.String(name),
			Type:    ssmtypes.ParameterTypeString,
			Value:   aws.String(value),
			Version: 1,
			ARN:     aws.String(fmt.Sprintf("arn:aws:ssm:us-east-1:123456789012:parameter%s", name)),
		},
	}, nil
}
