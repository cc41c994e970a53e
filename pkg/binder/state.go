package binder

import "fmt"

// BindingState is the lifecycle state of a spec's bound resources.
type BindingState string

const (
	// StateAbsent means nothing has been provisioned yet.
	StateAbsent BindingState = "absent"

	// StateProvisioned means the resources carry the current credential.
	StateProvisioned BindingState = "provisioned"

	// StateStale means a new epoch exists and the resources still carry the
	// previous credential.
	StateStale BindingState = "stale"

	// StateDestroying means a destroy-then-create is in progress.
	StateDestroying BindingState = "destroying"
)

// String returns the string representation of the state.
func (s BindingState) String() string {
	return string(s)
}

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[BindingState][]BindingState{
	StateAbsent:      {StateProvisioned, StateDestroying},
	StateProvisioned: {StateStale, StateDestroying},
	StateStale:       {StateDestroying, StateProvisioned},
	StateDestroying:  {StateProvisioned},
}

// CanTransitionTo checks if a transition from s to next is valid.
func (s BindingState) CanTransitionTo(next BindingState) bool {
	for _, valid := range ValidTransitions[s] {
		if valid == next {
			return true
		}
	}
	return false
}

// Transition returns next, or an error if the move is not allowed.
// Staying in the same state is always allowed.
func (s BindingState) Transition(next BindingState) (BindingState, error) {
	if s == next || s.CanTransitionTo(next) {
		return next, nil
	}
	return s, fmt.Errorf("invalid binding transition %s -> %s", s, next)
}

// Valid reports whether s is one of the known states.
func (s BindingState) Valid() bool {
	_, ok := ValidTransitions[s]
	return ok
}
