package binder

import (
	"fmt"
	"strings"

	"github.com/systmms/credrotate/pkg/credential"
	"github.com/systmms/credrotate/pkg/provisioning"
)

// Spec is the binder's view of a rotation spec.
type Spec struct {
	Name      string
	Resources []Resource
}

// Reconcile diffs desired against remote state and returns the plan that
// converges them. remote is keyed by resource name; a missing or nil entry
// means the resource does not exist.
func Reconcile(spec Spec, cred *credential.Credential, remote map[string]*provisioning.RemoteState) (*Plan, error) {
	if cred == nil {
		return nil, fmt.Errorf("reconcile %s: no credential", spec.Name)
	}

	g, err := BuildGraph(spec.Resources)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", spec.Name, err)
	}
	order, err := g.Order()
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", spec.Name, err)
	}

	plan := &Plan{
		Spec:         spec.Name,
		EpochID:      cred.EpochID,
		CredentialID: cred.ID,
		Login:        cred.Login,
	}

	// Resources that will be created from scratch in this plan.
	recreated := make(map[string]bool)

	for _, node := range order {
		if node.Kind != NodeResource {
			continue
		}
		r := node.Resource
		desired := r.Desired(cred.ID, cred.Login)
		current := remote[r.Name]

		if current == nil {
			plan.Actions = append(plan.Actions, Action{
				Resource: r.Name,
				Type:     ActionCreate,
				Changes:  createChanges(desired),
				Reason:   "resource does not exist",
			})
			recreated[r.Name] = true
			continue
		}

		changes, forced := diff(*r, desired, current)

		var replacedDeps []string
		for _, dep := range r.DependsOn {
			if recreated[dep] {
				replacedDeps = append(replacedDeps, dep)
			}
		}

		switch {
		case len(forced) > 0:
			plan.Actions = append(plan.Actions, Action{
				Resource:   r.Name,
				Type:       ActionReplace,
				ResourceID: current.ID,
				Changes:    changes,
				Reason:     "forces replacement: " + strings.Join(forced, ", "),
			})
			recreated[r.Name] = true
		case len(replacedDeps) > 0:
			plan.Actions = append(plan.Actions, Action{
				Resource:   r.Name,
				Type:       ActionReplace,
				ResourceID: current.ID,
				Changes:    changes,
				Reason:     "dependency replaced: " + strings.Join(replacedDeps, ", "),
			})
			recreated[r.Name] = true
		case len(changes) > 0:
			plan.Actions = append(plan.Actions, Action{
				Resource:   r.Name,
				Type:       ActionUpdate,
				ResourceID: current.ID,
				Changes:    changes,
				Reason:     "fields differ from declaration",
			})
		}
	}

	return plan, nil
}

// Drift returns the fields of current that differ from desired, excluding
// ignored fields. An empty result means the resource has converged.
func Drift(r Resource, credentialID, login string, current *provisioning.RemoteState) []FieldChange {
	if current == nil {
		return createChanges(r.Desired(credentialID, login))
	}
	changes, _ := diff(r, r.Desired(credentialID, login), current)
	return changes
}

func diff(r Resource, desired map[string]string, current *provisioning.RemoteState) (changes []FieldChange, forced []string) {
	for _, field := range sortedKeys(desired) {
		if r.Ignored(field) {
			continue
		}
		want := desired[field]
		have, ok := current.Fields[field]
		if ok && have == want {
			continue
		}
		changes = append(changes, FieldChange{Field: field, Before: have, After: want})
		if r.Immutable(field) {
			forced = append(forced, field)
		}
	}
	return changes, forced
}

func createChanges(desired map[string]string) []FieldChange {
	changes := make([]FieldChange, 0, len(desired))
	for _, field := range sortedKeys(desired) {
		changes = append(changes, FieldChange{Field: field, After: desired[field]})
	}
	return changes
}
