package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned by Read, Update and Destroy for unknown resources.
var ErrNotFound = errors.New("resource not found")

// ErrAlreadyExists is returned by Create when the resource already exists.
var ErrAlreadyExists = errors.New("resource already exists")

// ResourceID identifies a resource inside the provisioning API.
type ResourceID string

// ResourceSpec is the desired shape of a resource sent on Create.
type ResourceSpec struct {
	// Name is the logical name from configuration.
	Name string
	// Type is the provider resource type, e.g. Microsoft.DBforPostgreSQL/flexibleServers.
	Type       string
	APIVersion string
	// Identity holds the literals that address the resource (name, parent...).
	Identity map[string]string
	// Fields are flattened, dotted attribute paths.
	Fields map[string]string
	// Secrets are write-only fields.
	Secrets map[string]string
}

// RemoteState is what the provisioning API reports for a resource.
type RemoteState struct {
	ID     ResourceID        `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Clone returns a deep copy.
func (s *RemoteState) Clone() *RemoteState {
	if s == nil {
		return nil
	}
	return &RemoteState{ID: s.ID, Fields: cloneFields(s.Fields)}
}

// Keys returns the field names in sorted order.
func (s *RemoteState) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// API is the provisioning interface consumed by the binder.
type API interface {
	// Name identifies the backend in logs and plans.
	Name() string
	// ID returns the identifier Create would assign to spec, without calling
	// the remote API. It lets callers find an existing resource before the
	// first create was ever acknowledged.
	ID(spec ResourceSpec) (ResourceID, error)
	Create(ctx context.Context, spec ResourceSpec) (ResourceID, error)
	Read(ctx context.Context, id ResourceID) (*RemoteState, error)
	Update(ctx context.Context, id ResourceID, fields map[string]string) (*RemoteState, error)
	Destroy(ctx context.Context, id ResourceID) error
}

// DefaultID addresses a resource as "<type>/<name>", where name is
// identity["name"] or, failing that, the logical name.
func DefaultID(spec ResourceSpec) (ResourceID, error) {
	name := spec.Identity["name"]
	if name == "" {
		name = spec.Name
	}
	if name == "" {
		return "", fmt.Errorf("resource has no name")
	}
	if spec.Type == "" {
		return ResourceID(name), nil
	}
	return ResourceID(strings.TrimSuffix(spec.Type, "/") + "/" + name), nil
}

func cloneFields(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
