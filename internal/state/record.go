package state

import (
	"time"

	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/epoch"
	"github.com/systmms/credrotate/pkg/provisioning"
)

// CredentialRecord is a credential as persisted: the password lives in a
// secret store and only its reference is kept here.
type CredentialRecord struct {
	ID          string    `json:"id"`
	EpochID     uint64    `json:"epoch_id"`
	Login       string    `json:"login"`
	PasswordRef string    `json:"password_ref"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is the persisted state of one spec.
type Record struct {
	Spec string `json:"spec"`
	// Serial increases on every save. Saved plans carry the serial they were
	// computed against.
	Serial    uint64              `json:"serial"`
	LastEpoch epoch.Epoch         `json:"last_epoch"`
	Current   *CredentialRecord   `json:"current,omitempty"`
	Pending   *CredentialRecord   `json:"pending,omitempty"`
	Binding   binder.BindingState `json:"binding"`
	// Resources maps resource names to the IDs acknowledged by the
	// provisioning API.
	Resources map[string]provisioning.ResourceID `json:"resources,omitempty"`
	// Remote caches the last refreshed remote state per resource.
	Remote     map[string]*provisioning.RemoteState `json:"remote,omitempty"`
	LastAction string                               `json:"last_action,omitempty"`
	LastError  string                               `json:"last_error,omitempty"`
	UpdatedAt  time.Time                            `json:"updated_at"`
}

// NewRecord returns the record of a spec that has never run.
func NewRecord(spec string) *Record {
	return &Record{
		Spec:      spec,
		Binding:   binder.StateAbsent,
		Resources: make(map[string]provisioning.ResourceID),
		Remote:    make(map[string]*provisioning.RemoteState),
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Current != nil {
		c := *r.Current
		out.Current = &c
	}
	if r.Pending != nil {
		p := *r.Pending
		out.Pending = &p
	}
	out.Resources = make(map[string]provisioning.ResourceID, len(r.Resources))
	for k, v := range r.Resources {
		out.Resources[k] = v
	}
	out.Remote = make(map[string]*provisioning.RemoteState, len(r.Remote))
	for k, v := range r.Remote {
		out.Remote[k] = v.Clone()
	}
	return &out
}

// SetBinding moves the binding state, rejecting invalid transitions.
func (r *Record) SetBinding(next binder.BindingState) error {
	state, err := r.Binding.Transition(next)
	if err != nil {
		return err
	}
	r.Binding = state
	return nil
}

func (r *Record) normalize() {
	if r.Binding == "" {
		r.Binding = binder.StateAbsent
	}
	if r.Resources == nil {
		r.Resources = make(map[string]provisioning.ResourceID)
	}
	if r.Remote == nil {
		r.Remote = make(map[string]*provisioning.RemoteState)
	}
}
