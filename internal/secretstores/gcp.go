package secretstores

import (
	"context"
	"fmt"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPSecretManagerClientAPI defines the Secret Manager operations used by
// the store. This allows for mocking in tests.
type GCPSecretManagerClientAPI interface {
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest, opts ...gax.CallOption) error
}

// GCPOptions configures the Secret Manager store.
type GCPOptions struct {
	ProjectID       string
	CredentialsFile string
	Client          GCPSecretManagerClientAPI
}

// GCPSecretManagerStore keeps secrets in Google Cloud Secret Manager.
type GCPSecretManagerStore struct {
	client    GCPSecretManagerClientAPI
	projectID string
}

// NewGCPSecretManagerStore creates the store, building a real client unless
// one is supplied.
func NewGCPSecretManagerStore(ctx context.Context, opts GCPOptions) (*GCPSecretManagerStore, error) {
	projectID := opts.ProjectID
	if projectID == "" {
		projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if projectID == "" {
		return nil, fmt.Errorf("gcp.secretmanager: project_id is required (or set GOOGLE_CLOUD_PROJECT)")
	}

	s := &GCPSecretManagerStore{client: opts.Client, projectID: projectID}
	if s.client != nil {
		return s, nil
	}

	var clientOptions []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	s.client = client
	return s, nil
}

// Name implements Store.
func (s *GCPSecretManagerStore) Name() string {
	return "gcp.secretmanager"
}

// Put implements Store. The secret container is created on first use and
// every Put adds a version.
func (s *GCPSecretManagerStore) Put(ctx context.Context, ref, value string) error {
	_, err := s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.projectID,
		SecretId: ref,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
			Labels: map[string]string{"managed-by": "credrotate"},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("gcp.secretmanager: failed to create %s: %w", ref, err)
	}

	if _, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretName(ref),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}); err != nil {
		return fmt.Errorf("gcp.secretmanager: failed to add version to %s: %w", ref, err)
	}
	return nil
}

// Get implements Store.
func (s *GCPSecretManagerStore) Get(ctx context.Context, ref string) (string, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretName(ref) + "/versions/latest",
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", notFound(ref)
		}
		return "", fmt.Errorf("gcp.secretmanager: failed to read %s: %w", ref, err)
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("gcp.secretmanager: secret %s has no payload", ref)
	}
	return string(resp.GetPayload().GetData()), nil
}

// Delete implements Store.
func (s *GCPSecretManagerStore) Delete(ctx context.Context, ref string) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: s.secretName(ref)})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("gcp.secretmanager: failed to delete %s: %w", ref, err)
	}
	return nil
}

func (s *GCPSecretManagerStore) secretName(ref string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, ref)
}
