package secretstores

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Store keeps credential passwords. Plans and state records only ever hold
// the reference a password was stored under.
type Store interface {
	// Name returns the store type.
	Name() string
	// Put stores value under ref, replacing any previous value.
	Put(ctx context.Context, ref, value string) error
	// Get returns the value stored under ref.
	Get(ctx context.Context, ref string) (string, error)
	// Delete removes ref. Deleting a missing secret is not an error.
	Delete(ctx context.Context, ref string) error
}

// Ref returns the secret name for a spec's credential. The result only
// contains letters, digits and dashes, which every supported store accepts.
func Ref(prefix, spec, credentialID string) string {
	if prefix == "" {
		prefix = "credrotate"
	}
	return sanitize(prefix) + "-" + sanitize(spec) + "-" + sanitize(credentialID)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func notFound(ref string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, ref)
}
