package provisioning

import (
	"context"
	"fmt"
	"sync"
)

// Operation names used by Memory for call logging and fault injection.
const (
	OpCreate  = "create"
	OpRead    = "read"
	OpUpdate  = "update"
	OpDestroy = "destroy"
)

// Call records one invocation against Memory.
type Call struct {
	Op string
	ID ResourceID
}

// Memory is an in-process provisioning backend.
type Memory struct {
	mu        sync.Mutex
	resources map[ResourceID]*RemoteState
	secrets   map[ResourceID]map[string]string
	faults    map[string][]error
	calls     []Call
}

// NewMemory creates an empty backend.
func NewMemory() *Memory {
	return &Memory{
		resources: make(map[ResourceID]*RemoteState),
		secrets:   make(map[ResourceID]map[string]string),
		faults:    make(map[string][]error),
	}
}

// Name implements API.
func (m *Memory) Name() string {
	return "memory"
}

// ID implements API: <type>/<identity name or logical name>.
func (m *Memory) ID(spec ResourceSpec) (ResourceID, error) {
	return DefaultID(spec)
}

// Create implements API.
func (m *Memory) Create(ctx context.Context, spec ResourceSpec) (ResourceID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := m.ID(spec)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpCreate, ID: id})
	if err := m.fault(OpCreate); err != nil {
		return "", err
	}
	if _, exists := m.resources[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	m.resources[id] = &RemoteState{ID: id, Fields: cloneFields(spec.Fields)}
	if m.resources[id].Fields == nil {
		m.resources[id].Fields = map[string]string{}
	}
	m.secrets[id] = cloneFields(spec.Secrets)
	return id, nil
}

// Read implements API.
func (m *Memory) Read(ctx context.Context, id ResourceID) (*RemoteState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpRead, ID: id})
	if err := m.fault(OpRead); err != nil {
		return nil, err
	}
	state, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return state.Clone(), nil
}

// Update implements API.
func (m *Memory) Update(ctx context.Context, id ResourceID, fields map[string]string) (*RemoteState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpUpdate, ID: id})
	if err := m.fault(OpUpdate); err != nil {
		return nil, err
	}
	state, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for k, v := range fields {
		state.Fields[k] = v
	}
	return state.Clone(), nil
}

// Destroy implements API.
func (m *Memory) Destroy(ctx context.Context, id ResourceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpDestroy, ID: id})
	if err := m.fault(OpDestroy); err != nil {
		return err
	}
	if _, ok := m.resources[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.resources, id)
	delete(m.secrets, id)
	return nil
}

// FailNext makes the next calls of op return errs, in order.
func (m *Memory) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

// Drift changes a field behind the orchestrator's back.
func (m *Memory) Drift(id ResourceID, field, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.resources[id]; ok {
		state.Fields[field] = value
	}
}

// Secret returns a write-only field as the backend received it.
func (m *Memory) Secret(id ResourceID, field string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secrets[id][field]
	return v, ok
}

// Calls returns the call log.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf returns only the calls of op.
func (m *Memory) CallsOf(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Len returns the number of live resources.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

func (m *Memory) fault(op string) error {
	queue := m.faults[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.faults[op] = queue[1:]
	return err
}
