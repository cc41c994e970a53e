package rotation

import (
	"fmt"
	"sync"
	"time"

	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/internal/metrics"
	"github.com/systmms/credrotate/internal/state"
	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/credential"
	"github.com/systmms/credrotate/pkg/epoch"
)

// Pass outcomes recorded in history and metrics.
const (
	StatusSuccess = "success"
	StatusNoop    = "noop"
	StatusFailed  = "failed"
)

// Options configures an Orchestrator.
type Options struct {
	Store *state.FileStore
	// Generator defaults to a crypto/rand backed generator.
	Generator *credential.Generator
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Logger defaults to discarding output.
	Logger *logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs rotation passes. One Orchestrator serves any number of
// specs; passes of different specs may run concurrently.
type Orchestrator struct {
	store     *state.FileStore
	generator *credential.Generator
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:     opts.Store,
		generator: opts.Generator,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	if o.generator == nil {
		o.generator = credential.NewGenerator()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	return o
}

// Evaluation is the clock gate's verdict for a spec.
type Evaluation struct {
	Spec string `json:"spec"`
	// Last is the recorded epoch, Epoch the one a pass would use now.
	Last     epoch.Epoch `json:"last_epoch"`
	Epoch    epoch.Epoch `json:"epoch"`
	Advanced bool        `json:"advanced"`
	NextDue  time.Time   `json:"next_due"`

	// CredentialID is the trigger key of Epoch under the spec's policy.
	CredentialID        string `json:"credential_id"`
	CurrentCredentialID string `json:"current_credential_id,omitempty"`
	// RotationDue is true when a pass would bind a new credential, either
	// because the epoch advanced or because the policy changed.
	RotationDue bool `json:"rotation_due"`
}

// Evaluate runs the clock gate against the recorded epoch without changing
// any state.
func (o *Orchestrator) Evaluate(spec Spec) (*Evaluation, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	rec, err := o.store.Load(spec.Name)
	if err != nil {
		return nil, err
	}
	return o.evaluate(spec, rec)
}

func (o *Orchestrator) evaluate(spec Spec, rec *state.Record) (*Evaluation, error) {
	gate, err := epoch.NewGate(spec.Interval, rec.LastEpoch)
	if err != nil {
		return nil, err
	}
	next, advanced, err := gate.Advance(o.now())
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{
		Spec:         spec.Name,
		Last:         rec.LastEpoch,
		Epoch:        next,
		Advanced:     advanced,
		NextDue:      gate.NextDue(),
		CredentialID: credential.TriggerKey(next, spec.Policy),
	}
	if rec.Current != nil {
		ev.CurrentCredentialID = rec.Current.ID
	}
	ev.RotationDue = ev.CredentialID != ev.CurrentCredentialID
	return ev, nil
}

// SpecStatus is what `status` reports for a spec.
type SpecStatus struct {
	Record     *state.Record   `json:"record"`
	NextDue    time.Time       `json:"next_due"`
	LockHolder *state.LockInfo `json:"lock_holder,omitempty"`
}

// Status returns the recorded state of spec and who holds its lock.
func (o *Orchestrator) Status(spec string, interval time.Duration) (*SpecStatus, error) {
	rec, err := o.store.Load(spec)
	if err != nil {
		return nil, err
	}
	holder, err := o.store.LockHolder(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to probe lock of %s: %w", spec, err)
	}
	st := &SpecStatus{Record: rec, LockHolder: holder}
	if !rec.LastEpoch.IsZero() && interval > 0 {
		st.NextDue = rec.LastEpoch.Expires(interval)
	}
	return st, nil
}

// lock takes the in-process and the cross-process lock of spec without
// waiting for either.
func (o *Orchestrator) lock(spec string) (func(), error) {
	o.mu.Lock()
	m, ok := o.locks[spec]
	if !ok {
		m = &sync.Mutex{}
		o.locks[spec] = m
	}
	o.mu.Unlock()

	if !m.TryLock() {
		return nil, fmt.Errorf("%w: %s", dserrors.ErrReconciliationInProgress, spec)
	}
	fl, err := o.store.Lock(spec)
	if err != nil {
		m.Unlock()
		return nil, err
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			o.logger.Warn("Failed to release lock of %s: %v", spec, err)
		}
		m.Unlock()
	}, nil
}

func (o *Orchestrator) recordPass(action string, spec Spec, rec *state.Record, res *Result, start time.Time, passErr error) {
	duration := o.now().Sub(start)
	entry := &state.HistoryEntry{
		Spec:     spec.Name,
		Action:   action,
		Status:   StatusSuccess,
		Duration: duration,
		EpochID:  rec.LastEpoch.ID,
		Binding:  string(rec.Binding),
	}
	if res != nil {
		entry.Status = res.Status
		entry.OldVersion = res.OldCredential
		entry.NewVersion = res.NewCredential
		entry.Steps = res.Steps
		if res.Plan != nil {
			entry.PlanID = res.Plan.ID
		}
		res.Duration = duration
	}
	if passErr != nil {
		entry.Status = StatusFailed
		entry.Error = passErr.Error()
		if res != nil {
			res.Status = StatusFailed
		}
	}
	if err := o.store.AppendHistory(entry); err != nil {
		o.logger.Warn("Failed to record history for %s: %v", spec.Name, err)
	}

	if o.metrics != nil {
		o.metrics.RecordPass(spec.Name, entry.Status, duration)
		var nextDue time.Time
		if !rec.LastEpoch.IsZero() {
			nextDue = rec.LastEpoch.Expires(spec.Interval)
		}
		o.metrics.RecordState(spec.Name, rec.LastEpoch.ID, string(rec.Binding), nextDue)
	}
}

func bindingOf(rec *state.Record) string {
	if rec == nil {
		return string(binder.StateAbsent)
	}
	return string(rec.Binding)
}
