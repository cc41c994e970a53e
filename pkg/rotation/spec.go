package rotation

import (
	"context"
	"fmt"
	"time"

	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/secretstores"
	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/credential"
	"github.com/systmms/credrotate/pkg/provisioning"
)

// Verifier checks that a credential works before it is promoted.
type Verifier interface {
	Verify(ctx context.Context, login, password string) error
}

// Spec is the immutable description of one rotation spec for a pass,
// together with the collaborators it runs against.
type Spec struct {
	Name      string
	Interval  time.Duration
	Policy    credential.CredentialPolicy
	Resources []binder.Resource

	API     provisioning.API
	Secrets secretstores.Store
	// SecretPrefix prefixes password references; defaults to "credrotate".
	SecretPrefix string
	// StoreTimeout bounds every secret store call. Zero means no timeout.
	StoreTimeout time.Duration

	// Verifier is optional.
	Verifier Verifier
}

// Validate checks the parts of the spec a pass depends on.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("spec name is required")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("%w: spec %s: %s must be positive", dserrors.ErrInvalidInterval, s.Name, s.Interval)
	}
	if err := s.Policy.Validate(); err != nil {
		return fmt.Errorf("spec %s: %w", s.Name, err)
	}
	if s.API == nil {
		return fmt.Errorf("spec %s: no provisioning API", s.Name)
	}
	if s.Secrets == nil {
		return fmt.Errorf("spec %s: no secret store", s.Name)
	}
	return nil
}

func (s Spec) binderSpec() binder.Spec {
	return binder.Spec{Name: s.Name, Resources: s.Resources}
}

func (s Spec) resource(name string) (binder.Resource, bool) {
	for _, r := range s.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return binder.Resource{}, false
}

func (s Spec) passwordRef(credentialID string) string {
	return secretstores.Ref(s.SecretPrefix, s.Name, credentialID)
}

func (s Spec) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.StoreTimeout)
}
