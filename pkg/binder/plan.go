package binder

import (
	"fmt"
	"time"

	"github.com/systmms/credrotate/pkg/provisioning"
)

// ActionType is the kind of change an Action makes.
type ActionType string

const (
	ActionCreate  ActionType = "create"
	ActionUpdate  ActionType = "update-in-place"
	ActionReplace ActionType = "destroy-then-create"
)

// FieldChange is one field's before and after value.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before,omitempty"`
	After  string `json:"after"`
}

// Action is one step of a Plan.
type Action struct {
	Resource string     `json:"resource"`
	Type     ActionType `json:"type"`
	// ResourceID is the existing remote resource for update and replace.
	ResourceID provisioning.ResourceID `json:"resource_id,omitempty"`
	Changes    []FieldChange           `json:"changes,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}

// Fields returns the changes as a field map.
func (a Action) Fields() map[string]string {
	out := make(map[string]string, len(a.Changes))
	for _, c := range a.Changes {
		out[c.Field] = c.After
	}
	return out
}

// Plan is an ordered set of actions for one spec.
type Plan struct {
	ID           string    `json:"id"`
	Spec         string    `json:"spec"`
	BaseSerial   uint64    `json:"base_serial"`
	EpochID      uint64    `json:"epoch_id"`
	CredentialID string    `json:"credential_id"`
	Login        string    `json:"login"`
	PasswordRef  string    `json:"password_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	// Actions are in topological order.
	Actions []Action `json:"actions"`
}

// IsEmpty reports whether the plan changes nothing.
func (p *Plan) IsEmpty() bool {
	return p == nil || len(p.Actions) == 0
}

// Count returns the number of actions of type t.
func (p *Plan) Count(t ActionType) int {
	n := 0
	for _, a := range p.Actions {
		if a.Type == t {
			n++
		}
	}
	return n
}

// Destroys returns the replace actions in reverse topological order, so
// dependents go before the resources they depend on.
func (p *Plan) Destroys() []Action {
	var out []Action
	for i := len(p.Actions) - 1; i >= 0; i-- {
		if p.Actions[i].Type == ActionReplace {
			out = append(out, p.Actions[i])
		}
	}
	return out
}

// HasReplace reports whether any action destroys a resource.
func (p *Plan) HasReplace() bool {
	return p.Count(ActionReplace) > 0
}

// Summary renders the action counts.
func (p *Plan) Summary() string {
	if p.IsEmpty() {
		return "No changes. Resources match the current credential."
	}
	return fmt.Sprintf("Plan: %d to create, %d to update in place, %d to replace.",
		p.Count(ActionCreate), p.Count(ActionUpdate), p.Count(ActionReplace))
}
