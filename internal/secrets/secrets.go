// Package secrets abstracts where sensitive startup material comes from.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var ErrEmptySecret = errors.New("secrets: secret value is empty")

// Source fetches a named secret value.
type Source interface {
	Get(ctx context.Context, id string) (string, error)
}

// SecretsManagerAPI is the slice of the AWS client the source needs.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ManagerSource reads secrets from AWS Secrets Manager.
type ManagerSource struct {
	client SecretsManagerAPI
}

func NewManagerSource(client SecretsManagerAPI) *ManagerSource {
	return &ManagerSource{client: client}
}

func (s *ManagerSource) Get(ctx context.Context, id string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", id, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", ErrEmptySecret
	}
	return *out.SecretString, nil
}

// Static serves fixed values, used for local development and tests.
type Static map[string]string

func (s Static) Get(_ context.Context, id string) (string, error) {
	value, ok := s[id]
	if !ok || value == "" {
		return "", ErrEmptySecret
	}
	return value, nil
}
