package secretstores

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/credrotate/internal/azureauth"
)

// AzureKeyVaultClientAPI defines the Key Vault operations used by the store.
// This allows for mocking in tests.
type AzureKeyVaultClientAPI interface {
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
}

// AzureKeyVaultStore keeps secrets in Azure Key Vault.
type AzureKeyVaultStore struct {
	client   AzureKeyVaultClientAPI
	vaultURL string
}

// NewAzureKeyVaultStore creates the store. client may be nil, in which case
// one is built from auth.
func NewAzureKeyVaultStore(vaultURL string, auth azureauth.Options, client AzureKeyVaultClientAPI) (*AzureKeyVaultStore, error) {
	if vaultURL == "" {
		return nil, fmt.Errorf("azure.keyvault: vault_url is required")
	}
	s := &AzureKeyVaultStore{client: client, vaultURL: vaultURL}
	if s.client != nil {
		return s, nil
	}

	cred, err := azureauth.NewCredential(auth)
	if err != nil {
		return nil, err
	}
	kv, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}
	s.client = kv
	return s, nil
}

// Name implements Store.
func (s *AzureKeyVaultStore) Name() string {
	return "azure.keyvault"
}

// Put implements Store.
func (s *AzureKeyVaultStore) Put(ctx context.Context, ref, value string) error {
	_, err := s.client.SetSecret(ctx, ref, azsecrets.SetSecretParameters{
		Value:       to.Ptr(value),
		ContentType: to.Ptr("text/plain"),
		Tags:        map[string]*string{"managed-by": to.Ptr("credrotate")},
	}, nil)
	if err != nil {
		return fmt.Errorf("azure.keyvault: failed to store %s: %w", ref, err)
	}
	return nil
}

// Get implements Store.
func (s *AzureKeyVaultStore) Get(ctx context.Context, ref string) (string, error) {
	resp, err := s.client.GetSecret(ctx, ref, "", nil)
	if err != nil {
		if isAzureNotFound(err) {
			return "", notFound(ref)
		}
		return "", fmt.Errorf("azure.keyvault: failed to read %s: %w", ref, err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("azure.keyvault: secret %s has no value", ref)
	}
	return *resp.Value, nil
}

// Delete implements Store. Key Vault keeps deleted secrets recoverable for
// the vault's retention period.
func (s *AzureKeyVaultStore) Delete(ctx context.Context, ref string) error {
	if _, err := s.client.DeleteSecret(ctx, ref, nil); err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("azure.keyvault: failed to delete %s: %w", ref, err)
	}
	return nil
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
