// Package azureauth builds Azure token credentials from configuration.
package azureauth

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// Options selects how to authenticate against Azure.
type Options struct {
	TenantID           string `yaml:"tenant_id,omitempty"`
	ClientID           string `yaml:"client_id,omitempty"`
	ClientSecret       string `yaml:"client_secret,omitempty"`
	UseManagedIdentity bool   `yaml:"use_managed_identity,omitempty"`
	UserAssignedID     string `yaml:"user_assigned_identity_id,omitempty"`
}

// Method names the authentication flow NewCredential picks for o.
func (o Options) Method() string {
	switch {
	case o.UseManagedIdentity && o.UserAssignedID != "":
		return "user-assigned managed identity"
	case o.UseManagedIdentity:
		return "system-assigned managed identity"
	case o.ClientSecret != "":
		return "service principal"
	default:
		return "default credential chain"
	}
}

// Validate checks that the selected flow has what it needs.
func (o Options) Validate() error {
	if !o.UseManagedIdentity && o.ClientSecret != "" {
		if o.TenantID == "" || o.ClientID == "" {
			return fmt.Errorf("client_secret requires tenant_id and client_id")
		}
	}
	return nil
}

// NewCredential creates a token credential for o.
func NewCredential(o Options) (azcore.TokenCredential, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	var cred azcore.TokenCredential
	var err error

	switch {
	case o.UseManagedIdentity && o.UserAssignedID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(o.UserAssignedID),
		})
	case o.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	case o.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(o.TenantID, o.ClientID, o.ClientSecret, nil)
	default:
		// Azure CLI, environment or workload identity
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}
