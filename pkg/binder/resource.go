package binder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/systmms/credrotate/pkg/provisioning"
)

// CredentialTag is the tag that records which credential a resource carries.
const CredentialTag = "credrotate-credential"

// CredentialTagField is the flattened field path of CredentialTag.
const CredentialTagField = "tags." + CredentialTag

// CredentialFields names the fields that receive the login and password.
type CredentialFields struct {
	Login    string `yaml:"login" json:"login"`
	Password string `yaml:"password" json:"password"`
}

// Resource is the declared shape of one managed resource.
type Resource struct {
	Name             string            `yaml:"name" json:"name"`
	Type             string            `yaml:"type" json:"type"`
	APIVersion       string            `yaml:"api_version,omitempty" json:"api_version,omitempty"`
	Identity         map[string]string `yaml:"identity,omitempty" json:"identity,omitempty"`
	Fields           map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
	IgnoreChanges    []string          `yaml:"ignore_changes,omitempty" json:"ignore_changes,omitempty"`
	ForceNew         []string          `yaml:"force_new,omitempty" json:"force_new,omitempty"`
	BindCredential   bool              `yaml:"bind_credential,omitempty" json:"bind_credential,omitempty"`
	CredentialFields CredentialFields  `yaml:"credential_fields,omitempty" json:"credential_fields,omitempty"`
	DependsOn        []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Validate checks a single resource in isolation.
func (r Resource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("resource name is required")
	}
	if r.BindCredential {
		if r.CredentialFields.Login == "" || r.CredentialFields.Password == "" {
			return fmt.Errorf("resource %s: bind_credential requires credential_fields.login and credential_fields.password", r.Name)
		}
		if r.CredentialFields.Login == r.CredentialFields.Password {
			return fmt.Errorf("resource %s: login and password fields must differ", r.Name)
		}
	}
	for _, dep := range r.DependsOn {
		if dep == r.Name {
			return fmt.Errorf("resource %s depends on itself", r.Name)
		}
	}
	return nil
}

// Desired returns the fields the resource should carry for a credential.
// The password is never part of it.
func (r Resource) Desired(credentialID, login string) map[string]string {
	out := make(map[string]string, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.BindCredential {
		out[r.CredentialFields.Login] = login
		out[CredentialTagField] = credentialID
	}
	return out
}

// Spec builds the provisioning request that creates the resource.
func (r Resource) Spec(credentialID, login, password string) provisioning.ResourceSpec {
	spec := provisioning.ResourceSpec{
		Name:       r.Name,
		Type:       r.Type,
		APIVersion: r.APIVersion,
		Identity:   r.Identity,
		Fields:     r.Desired(credentialID, login),
	}
	if r.BindCredential {
		spec.Secrets = map[string]string{r.CredentialFields.Password: password}
	}
	return spec
}

// Ignored reports whether changes to field are ignored.
func (r Resource) Ignored(field string) bool {
	return matchAny(r.IgnoreChanges, field)
}

// Immutable reports whether a change to field forces replacement.
func (r Resource) Immutable(field string) bool {
	if r.BindCredential && (field == r.CredentialFields.Login || field == CredentialTagField) {
		return true
	}
	return matchAny(r.ForceNew, field)
}

// matchAny matches field against exact names and "prefix.*" patterns.
func matchAny(patterns []string, field string) bool {
	for _, p := range patterns {
		if p == field {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, ".*"); ok && strings.HasPrefix(field, prefix+".") {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
