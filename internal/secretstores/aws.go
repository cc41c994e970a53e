package secretstores

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerClientAPI defines the AWS Secrets Manager operations used
// by the store. This allows for mocking in tests.
type SecretsManagerClientAPI interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSOptions configures the AWS Secrets Manager store.
type AWSOptions struct {
	Region string
	// Endpoint overrides the service endpoint (LocalStack, testing).
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Client          SecretsManagerClientAPI
}

// AWSSecretsManagerStore keeps secrets in AWS Secrets Manager.
type AWSSecretsManagerStore struct {
	client SecretsManagerClientAPI
	region string
}

// NewAWSSecretsManagerStore creates the store, building a real client unless
// one is supplied.
func NewAWSSecretsManagerStore(ctx context.Context, opts AWSOptions) (*AWSSecretsManagerStore, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	s := &AWSSecretsManagerStore{client: opts.Client, region: region}
	if s.client != nil {
		return s, nil
	}

	configOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	return s, nil
}

// Name implements Store.
func (s *AWSSecretsManagerStore) Name() string {
	return "aws.secretsmanager"
}

// Put implements Store. The secret is created on first use and gets a new
// version afterwards.
func (s *AWSSecretsManagerStore) Put(ctx context.Context, ref, value string) error {
	_, err := s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(ref),
		SecretString: aws.String(value),
		Description:  aws.String("credrotate managed credential"),
		Tags: []types.Tag{
			{Key: aws.String("managed-by"), Value: aws.String("credrotate")},
		},
	})
	if err == nil {
		return nil
	}

	var exists *types.ResourceExistsException
	if !errors.As(err, &exists) {
		return fmt.Errorf("aws.secretsmanager: failed to create %s: %w", ref, err)
	}

	if _, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(ref),
		SecretString: aws.String(value),
	}); err != nil {
		return fmt.Errorf("aws.secretsmanager: failed to update %s: %w", ref, err)
	}
	return nil
}

// Get implements Store.
func (s *AWSSecretsManagerStore) Get(ctx context.Context, ref string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return "", notFound(ref)
		}
		return "", fmt.Errorf("aws.secretsmanager: failed to read %s: %w", ref, err)
	}
	if out.SecretString != nil {
		return *out.SecretString, nil
	}
	if out.SecretBinary != nil {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("aws.secretsmanager: secret %s has no value", ref)
}

// Delete implements Store. Secrets are removed without the recovery window
// because every credential gets a fresh name.
func (s *AWSSecretsManagerStore) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(ref),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil && !isAWSNotFound(err) {
		return fmt.Errorf("aws.secretsmanager: failed to delete %s: %w", ref, err)
	}
	return nil
}

func isAWSNotFound(err error) bool {
	var resourceNotFound *types.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}
