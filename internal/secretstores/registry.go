package secretstores

import (
	"context"
	"fmt"
	"sort"

	"github.com/systmms/credrotate/internal/config"
)

// Factory builds a store from its configuration.
type Factory func(ctx context.Context, cfg config.SecretStoreConfig) (Store, error)

// Registry manages secret store creation and registration
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a new secret store registry with built-in secret stores
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("keyring", func(_ context.Context, cfg config.SecretStoreConfig) (Store, error) {
		return NewKeyringStore(cfg.Service), nil
	})
	r.Register("aws.secretsmanager", func(ctx context.Context, cfg config.SecretStoreConfig) (Store, error) {
		return NewAWSSecretsManagerStore(ctx, AWSOptions{
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	})
	r.Register("azure.keyvault", func(_ context.Context, cfg config.SecretStoreConfig) (Store, error) {
		return NewAzureKeyVaultStore(cfg.VaultURL, cfg.Options, nil)
	})
	r.Register("gcp.secretmanager", func(ctx context.Context, cfg config.SecretStoreConfig) (Store, error) {
		return NewGCPSecretManagerStore(ctx, GCPOptions{
			ProjectID:       cfg.ProjectID,
			CredentialsFile: cfg.CredentialsFile,
		})
	})

	return r
}

// Register adds or replaces the factory of a store type
func (r *Registry) Register(storeType string, factory Factory) {
	r.factories[storeType] = factory
}

// CreateSecretStore creates a secret store instance from configuration
func (r *Registry) CreateSecretStore(ctx context.Context, cfg config.SecretStoreConfig) (Store, error) {
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown secret store type: %s", cfg.Type)
	}
	store, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s secret store: %w", cfg.Type, err)
	}
	return store, nil
}

// GetSupportedTypes returns a sorted list of supported secret store types
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a secret store type is supported
func (r *Registry) IsSupported(storeType string) bool {
	_, ok := r.factories[storeType]
	return ok
}
