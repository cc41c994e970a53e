package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/systmms/credrotate/internal/state"
	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/credential"
	"github.com/systmms/credrotate/pkg/epoch"
	"github.com/systmms/credrotate/pkg/provisioning"
)

// Plan evaluates the clock gate, prepares the credential of the current
// epoch and diffs every resource against it. The returned plan can be
// applied later with Apply as long as no other pass saves state first.
func (o *Orchestrator) Plan(ctx context.Context, spec Spec) (*binder.Plan, error) {
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
	return o.plan(ctx, spec, rec)
}

func (o *Orchestrator) plan(ctx context.Context, spec Spec, rec *state.Record) (*binder.Plan, error) {
	ev, err := o.evaluate(spec, rec)
	if err != nil {
		return nil, err
	}
	if ev.Advanced {
		o.logger.Info("Epoch of %s advanced to %s", spec.Name, ev.Epoch)
	}

	pendingBefore := rec.Pending
	cred, discarded, err := o.credential(ctx, spec, rec, ev.Epoch)
	if err != nil {
		return nil, err
	}
	// A password staged by this call is unreferenced until the record is saved.
	staged := rec.Pending != nil && rec.Pending != pendingBefore
	saved := false
	defer func() {
		if staged && !saved {
			o.deleteSecret(ctx, spec, rec.Pending.PasswordRef)
		}
	}()

	remote, err := o.refresh(ctx, spec, rec, cred)
	if err != nil {
		return nil, err
	}

	p, err := binder.Reconcile(spec.binderSpec(), cred, remote)
	if err != nil {
		return nil, err
	}

	rec.LastEpoch = ev.Epoch
	rec.Remote = remote
	if !p.IsEmpty() && rec.Binding == binder.StateProvisioned {
		if err := rec.SetBinding(binder.StateStale); err != nil {
			return nil, err
		}
	}
	rec.LastAction = "plan"
	rec.LastError = ""
	if err := o.store.Save(rec); err != nil {
		return nil, err
	}
	saved = true

	if discarded != nil {
		o.deleteSecret(ctx, spec, discarded.PasswordRef)
	}

	p.ID = uuid.NewString()
	p.BaseSerial = rec.Serial
	p.PasswordRef = spec.passwordRef(cred.ID)
	p.CreatedAt = o.now().UTC()

	o.logger.Debug("Planned %s: %s", spec.Name, p.Summary())
	return p, nil
}

// credential returns the credential of epoch e. A credential already staged
// or current for e's trigger key is restored from the record; otherwise a new
// one is generated and its password staged in the secret store as pending.
// The pending credential it replaces, if any, is returned so its secret can
// be deleted once the record is saved.
func (o *Orchestrator) credential(ctx context.Context, spec Spec, rec *state.Record, e epoch.Epoch) (*credential.Credential, *state.CredentialRecord, error) {
	key := credential.TriggerKey(e, spec.Policy)

	if rec.Current != nil && rec.Current.ID == key {
		discarded := rec.Pending
		rec.Pending = nil
		return restore(rec.Current), discarded, nil
	}
	if rec.Pending != nil && rec.Pending.ID == key {
		return restore(rec.Pending), nil, nil
	}

	cred, err := o.generator.Generate(e, spec.Policy)
	if err != nil {
		return nil, nil, err
	}
	password, err := cred.Password.Reveal()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read generated password: %w", err)
	}

	ref := spec.passwordRef(cred.ID)
	sctx, cancel := spec.storeCtx(ctx)
	defer cancel()
	if err := spec.Secrets.Put(sctx, ref, password); err != nil {
		return nil, nil, fmt.Errorf("failed to stage password in %s: %w", spec.Secrets.Name(), err)
	}
	o.logger.Info("Generated credential %s for %s (login %s)", cred.ID, spec.Name, cred.Login)

	discarded := rec.Pending
	rec.Pending = &state.CredentialRecord{
		ID:          cred.ID,
		EpochID:     cred.EpochID,
		Login:       cred.Login,
		PasswordRef: ref,
		CreatedAt:   cred.CreatedAt,
	}
	return cred, discarded, nil
}

func restore(r *state.CredentialRecord) *credential.Credential {
	return &credential.Credential{
		ID:        r.ID,
		EpochID:   r.EpochID,
		Login:     r.Login,
		CreatedAt: r.CreatedAt,
	}
}

// refresh reads the remote state of every declared resource. Resources the
// record has no id for yet are looked up under the id a create would assign.
func (o *Orchestrator) refresh(ctx context.Context, spec Spec, rec *state.Record, cred *credential.Credential) (map[string]*provisioning.RemoteState, error) {
	remote := make(map[string]*provisioning.RemoteState, len(spec.Resources))
	for _, r := range spec.Resources {
		id, ok := rec.Resources[r.Name]
		if !ok {
			var err error
			id, err = spec.API.ID(r.Spec(cred.ID, cred.Login, ""))
			if err != nil {
				return nil, fmt.Errorf("resource %s: %w", r.Name, err)
			}
		}

		current, err := spec.API.Read(ctx, id)
		if errors.Is(err, provisioning.ErrNotFound) {
			delete(rec.Resources, r.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("refresh %s: %w", r.Name, err)
		}
		rec.Resources[r.Name] = id
		remote[r.Name] = current
	}

	for name := range rec.Resources {
		if _, declared := spec.resource(name); !declared {
			o.logger.Warn("Resource %s of %s is no longer declared and is left in place", name, spec.Name)
		}
	}
	return remote, nil
}

// WritePlan saves a plan as JSON. Plans never contain passwords.
func WritePlan(path string, p *binder.Plan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// ReadPlan loads a plan written by WritePlan.
func ReadPlan(path string) (*binder.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var p binder.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	return &p, nil
}
