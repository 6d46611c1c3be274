package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/password"
)

// SSMClientAPI defines the SSM operation used to read a policy parameter.
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolvePolicy builds the password policy: defaults, then the JSON document
// in the SSM parameter (when parameter is non-empty), then env.
func ResolvePolicy(ctx context.Context, client SSMClientAPI, parameter string, env Env) (password.Policy, error) {
	p := password.DefaultPolicy()

	if parameter != "" {
		if client == nil {
			return p, fmt.Errorf("policy parameter %s set without an SSM client", parameter)
		}
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(parameter),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			var nf *ssmtypes.ParameterNotFound
			if errors.As(err, &nf) {
				return p, rerrors.ConfigError{
					Field:      "policy_parameter",
					Value:      parameter,
					Message:    "parameter not found",
					Suggestion: "Create the parameter or remove policy_parameter from the config file",
				}
			}
			return p, fmt.Errorf("failed to read policy parameter %s: %w", parameter, err)
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			return p, fmt.Errorf("policy parameter %s has no value", parameter)
		}
		if err := json.Unmarshal([]byte(*out.Parameter.Value), &p); err != nil {
			return p, rerrors.ConfigError{
				Field:      "policy_parameter",
				Value:      parameter,
				Message:    "parameter is not a JSON password policy: " + err.Error(),
				Suggestion: `Store an object such as {"password_length": 40, "exclude_punctuation": true}`,
			}
		}
	}

	env.Apply(&p)
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
