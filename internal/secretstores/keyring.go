package secretstores

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service name used when none is set.
const DefaultKeyringService = "credrotate"

// KeyringStore keeps secrets in the OS keychain (macOS Keychain, Secret
// Service on Linux, Windows Credential Manager).
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keyring store under service.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

// Name implements Store.
func (k *KeyringStore) Name() string {
	return "keyring"
}

// Put implements Store.
func (k *KeyringStore) Put(ctx context.Context, ref, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Set(k.service, ref, value); err != nil {
		return fmt.Errorf("keyring: failed to store %s: %w", ref, err)
	}
	return nil
}

// Get implements Store.
func (k *KeyringStore) Get(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	secret, err := keyring.Get(k.service, ref)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", notFound(ref)
		}
		return "", fmt.Errorf("keyring: failed to read %s: %w", ref, err)
	}
	return secret, nil
}

// Delete implements Store.
func (k *KeyringStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Delete(k.service, ref); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring: failed to delete %s: %w", ref, err)
	}
	return nil
}
