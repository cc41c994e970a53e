package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/state"
	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/provisioning"
)

// Result describes an applied plan.
type Result struct {
	Spec   string
	Plan   *binder.Plan
	Status string
	// Binding is the binding state after the pass.
	Binding binder.BindingState
	// Promoted is true when the plan's credential became current.
	Promoted      bool
	OldCredential string
	NewCredential string
	Steps         []state.StepResult
	Duration      time.Duration
}

// Apply executes a plan produced by Plan. It fails with ErrStalePlan when
// the state record changed since the plan was computed.
func (o *Orchestrator) Apply(ctx context.Context, spec Spec, p *binder.Plan) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	unlock, err := o.lock(spec.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := o.store.Load(spec.Name)
	if err != nil {
		return nil, err
	}

	start := o.now()
	res, err := o.apply(ctx, spec, rec, p)
	o.recordPass("apply", spec, rec, res, start, err)
	return res, err
}

// Rotate plans and applies in one pass.
func (o *Orchestrator) Rotate(ctx context.Context, spec Spec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	unlock, err := o.lock(spec.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := o.store.Load(spec.Name)
	if err != nil {
		return nil, err
	}

	start := o.now()
	p, err := o.plan(ctx, spec, rec)
	if err != nil {
		o.recordPass("rotate", spec, rec, nil, start, err)
		return nil, err
	}
	res, err := o.apply(ctx, spec, rec, p)
	o.recordPass("rotate", spec, rec, res, start, err)
	return res, err
}

func (o *Orchestrator) apply(ctx context.Context, spec Spec, rec *state.Record, p *binder.Plan) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("no plan to apply")
	}
	if p.Spec != spec.Name {
		return nil, fmt.Errorf("plan is for spec %s, not %s", p.Spec, spec.Name)
	}
	if p.BaseSerial != rec.Serial {
		return nil, fmt.Errorf("%w: plan %s was computed at serial %d, state of %s is at serial %d",
			dserrors.ErrStalePlan, p.ID, p.BaseSerial, spec.Name, rec.Serial)
	}

	cred := rec.Pending
	if cred == nil || cred.ID != p.CredentialID {
		cred = rec.Current
	}
	if cred == nil || cred.ID != p.CredentialID {
		return nil, fmt.Errorf("%w: credential %s of plan %s is no longer staged", dserrors.ErrStalePlan, p.CredentialID, p.ID)
	}
	promote := rec.Pending != nil && rec.Pending.ID == cred.ID

	res := &Result{
		Spec:          spec.Name,
		Plan:          p,
		Status:        StatusSuccess,
		NewCredential: cred.ID,
	}
	if rec.Current != nil {
		res.OldCredential = rec.Current.ID
	}
	if p.IsEmpty() && !promote {
		res.Status = StatusNoop
	}

	var password string
	if o.needsPassword(spec, p, promote) {
		var err error
		if password, err = o.password(ctx, spec, cred.PasswordRef); err != nil {
			return res, err
		}
	}

	if p.HasReplace() {
		if err := o.transition(rec, binder.StateDestroying); err != nil {
			return res, err
		}
		for _, a := range p.Destroys() {
			if err := o.step(res, "destroy "+a.Resource, func() error {
				return o.destroy(ctx, spec, rec, a)
			}); err != nil {
				return res, o.fail(rec, "destroy", a.Resource, err)
			}
		}
	}

	for _, a := range p.Actions {
		var run func() error
		switch a.Type {
		case binder.ActionCreate, binder.ActionReplace:
			run = func() error { return o.create(ctx, spec, rec, a, cred, password) }
		case binder.ActionUpdate:
			run = func() error { return o.update(ctx, spec, rec, a) }
		default:
			return res, fmt.Errorf("unknown action %q for %s", a.Type, a.Resource)
		}
		if err := o.step(res, string(a.Type)+" "+a.Resource, run); err != nil {
			return res, o.fail(rec, string(a.Type), a.Resource, err)
		}
		if o.metrics != nil {
			o.metrics.RecordAction(spec.Name, string(a.Type))
		}
	}

	// The binding only reaches provisioned once the new login is known to work.
	if promote && spec.Verifier != nil {
		if err := o.step(res, "verify "+cred.Login, func() error {
			return spec.Verifier.Verify(ctx, cred.Login, password)
		}); err != nil {
			res.Binding = rec.Binding
			return res, o.fail(rec, "verify", cred.Login, err)
		}
	}

	if err := o.transition(rec, binder.StateProvisioned); err != nil {
		return res, err
	}
	res.Binding = rec.Binding

	if !promote {
		return res, nil
	}

	old := rec.Current
	rec.Current = rec.Pending
	rec.Pending = nil
	rec.LastAction = "promote"
	rec.LastError = ""
	if err := o.store.Save(rec); err != nil {
		return res, err
	}
	res.Promoted = true
	o.logger.Info("Credential %s is now current for %s", cred.ID, spec.Name)

	// Only now that the new credential is durable may the old password go.
	if old != nil && old.PasswordRef != cred.PasswordRef {
		o.deleteSecret(ctx, spec, old.PasswordRef)
	}
	return res, nil
}

// needsPassword reports whether applying p requires the plaintext password.
func (o *Orchestrator) needsPassword(spec Spec, p *binder.Plan, promote bool) bool {
	if promote && spec.Verifier != nil {
		return true
	}
	for _, a := range p.Actions {
		if a.Type == binder.ActionUpdate {
			continue
		}
		if r, ok := spec.resource(a.Resource); ok && r.BindCredential {
			return true
		}
	}
	return false
}

func (o *Orchestrator) password(ctx context.Context, spec Spec, ref string) (string, error) {
	sctx, cancel := spec.storeCtx(ctx)
	defer cancel()
	password, err := spec.Secrets.Get(sctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to read password %s from %s: %w", ref, spec.Secrets.Name(), err)
	}
	return password, nil
}

func (o *Orchestrator) deleteSecret(ctx context.Context, spec Spec, ref string) {
	sctx, cancel := spec.storeCtx(ctx)
	defer cancel()
	if err := spec.Secrets.Delete(sctx, ref); err != nil {
		o.logger.Warn("Failed to delete password %s from %s: %v", ref, spec.Secrets.Name(), err)
		return
	}
	o.logger.Debug("Deleted password %s from %s", ref, spec.Secrets.Name())
}

// destroy removes a resource that is about to be replaced. The resource is
// read first; one that is already gone is not an error.
func (o *Orchestrator) destroy(ctx context.Context, spec Spec, rec *state.Record, a binder.Action) error {
	id := a.ResourceID
	if recorded, ok := rec.Resources[a.Resource]; ok {
		id = recorded
	}

	_, err := spec.API.Read(ctx, id)
	switch {
	case errors.Is(err, provisioning.ErrNotFound):
		o.logger.Debug("%s is already gone", id)
	case err != nil:
		return err
	default:
		if err := spec.API.Destroy(ctx, id); err != nil && !errors.Is(err, provisioning.ErrNotFound) {
			return err
		}
		o.logger.Info("Destroyed %s (%s)", a.Resource, a.Reason)
	}

	delete(rec.Resources, a.Resource)
	delete(rec.Remote, a.Resource)
	return o.store.Save(rec)
}

// create creates a resource and records it as soon as the API acknowledges it.
func (o *Orchestrator) create(ctx context.Context, spec Spec, rec *state.Record, a binder.Action, cred *state.CredentialRecord, password string) error {
	r, ok := spec.resource(a.Resource)
	if !ok {
		return fmt.Errorf("resource %s is not declared", a.Resource)
	}
	rs := r.Spec(cred.ID, cred.Login, password)

	id, err := spec.API.Create(ctx, rs)
	if errors.Is(err, provisioning.ErrAlreadyExists) {
		// An earlier create may have succeeded without being recorded.
		id, err = o.adopt(ctx, spec, r, rs, cred)
	}
	if err != nil {
		return err
	}

	rec.Resources[r.Name] = id
	current, err := spec.API.Read(ctx, id)
	if err != nil {
		o.logger.Debug("Read after create of %s failed, caching declared fields: %v", id, err)
		current = &provisioning.RemoteState{ID: id, Fields: r.Desired(cred.ID, cred.Login)}
	}
	rec.Remote[r.Name] = current
	if err := o.store.Save(rec); err != nil {
		return err
	}
	o.logger.Info("Created %s as %s", r.Name, id)
	return nil
}

// adopt accepts an existing resource as created when it already matches the
// declaration.
func (o *Orchestrator) adopt(ctx context.Context, spec Spec, r binder.Resource, rs provisioning.ResourceSpec, cred *state.CredentialRecord) (provisioning.ResourceID, error) {
	id, err := spec.API.ID(rs)
	if err != nil {
		return "", err
	}
	current, err := spec.API.Read(ctx, id)
	if err != nil {
		return "", err
	}
	if drift := binder.Drift(r, cred.ID, cred.Login, current); len(drift) > 0 {
		fields := make([]string, 0, len(drift))
		for _, c := range drift {
			fields = append(fields, c.Field)
		}
		return "", fmt.Errorf("%w: %s differs in %s", provisioning.ErrAlreadyExists, id, strings.Join(fields, ", "))
	}
	o.logger.Debug("Adopted existing %s", id)
	return id, nil
}

func (o *Orchestrator) update(ctx context.Context, spec Spec, rec *state.Record, a binder.Action) error {
	current, err := spec.API.Update(ctx, a.ResourceID, a.Fields())
	if err != nil {
		return err
	}
	rec.Resources[a.Resource] = a.ResourceID
	rec.Remote[a.Resource] = current
	if err := o.store.Save(rec); err != nil {
		return err
	}
	o.logger.Info("Updated %s in place", a.Resource)
	return nil
}

func (o *Orchestrator) transition(rec *state.Record, next binder.BindingState) error {
	if rec.Binding == next {
		return nil
	}
	if err := rec.SetBinding(next); err != nil {
		return err
	}
	return o.store.Save(rec)
}

// step runs fn and appends its outcome to res.
func (o *Orchestrator) step(res *Result, name string, fn func() error) error {
	started := o.now()
	err := fn()
	completed := o.now()
	sr := state.StepResult{
		Name:        name,
		Status:      StatusSuccess,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}
	if err != nil {
		sr.Status = StatusFailed
		sr.Error = err.Error()
	}
	res.Steps = append(res.Steps, sr)
	return err
}

// fail records a failed step in the state record and wraps it as
// ProvisioningFailed.
func (o *Orchestrator) fail(rec *state.Record, action, resource string, cause error) error {
	err := &dserrors.ProvisioningFailed{
		Action:        action,
		Resource:      resource,
		LastKnownGood: bindingOf(rec),
		Cause:         cause,
	}
	rec.LastAction = action + " " + resource
	rec.LastError = err.Error()
	if serr := o.store.Save(rec); serr != nil {
		o.logger.Warn("Failed to record failure of %s: %v", rec.Spec, serr)
	}
	o.logger.Error("%v", err)
	return err
}
