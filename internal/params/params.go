// Package params abstracts the parameter store that publishes
// deployment-wide defaults (quota, model access) as JSON documents.
package params

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

var ErrEmptyParameter = errors.New("params: parameter value is empty")

// Source fetches a named parameter value.
type Source interface {
	Get(ctx context.Context, name string) (string, error)
}

// SSMAPI is the slice of the AWS client the source needs.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads parameters from AWS Systems Manager Parameter Store.
type SSMSource struct {
	client SSMAPI
}

func NewSSMSource(client SSMAPI) *SSMSource {
	return &SSMSource{client: client}
}

func (s *SSMSource) Get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", ErrEmptyParameter
	}
	return *out.Parameter.Value, nil
}

// Static serves fixed values, used for local development and tests.
type Static map[string]string

func (s Static) Get(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok || value == "" {
		return "", ErrEmptyParameter
	}
	return value, nil
}
