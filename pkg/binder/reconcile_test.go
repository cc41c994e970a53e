package binder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credrotate/pkg/credential"
	"github.com/systmms/credrotate/pkg/epoch"
	"github.com/systmms/credrotate/pkg/provisioning"
)

func serverResource() Resource {
	return Resource{
		Name:           "server",
		Type:           "Microsoft.DBforPostgreSQL/flexibleServers",
		Identity:       map[string]string{"name": "pg-demo"},
		BindCredential: true,
		CredentialFields: CredentialFields{
			Login:    "properties.administratorLogin",
			Password: "properties.administratorLoginPassword",
		},
		Fields: map[string]string{
			"location":           "westeurope",
			"properties.version": "14",
			"zone":               "1",
		},
		IgnoreChanges: []string{"zone"},
		ForceNew:      []string{"location"},
	}
}

func firewallResource() Resource {
	return Resource{
		Name:      "firewall",
		Type:      "Microsoft.DBforPostgreSQL/flexibleServers/firewallRules",
		Identity:  map[string]string{"name": "allow-office"},
		Fields:    map[string]string{"properties.startIpAddress": "10.0.0.1"},
		DependsOn: []string{"server"},
	}
}

func cred(id, login string) *credential.Credential {
	return &credential.Credential{ID: id, EpochID: 1, Login: login}
}

// provision creates every resource in api and returns the refreshed remote map.
func provision(t *testing.T, api *provisioning.Memory, spec Spec, c *credential.Credential) map[string]*provisioning.RemoteState {
	t.Helper()
	ctx := context.Background()
	remote := make(map[string]*provisioning.RemoteState)
	for _, r := range spec.Resources {
		id, err := api.Create(ctx, r.Spec(c.ID, c.Login, "pw"))
		require.NoError(t, err)
		state, err := api.Read(ctx, id)
		require.NoError(t, err)
		remote[r.Name] = state
	}
	return remote
}

func TestReconcileCreatesMissing(t *testing.T) {
	t.Parallel()

	spec := Spec{Name: "pgadmin", Resources: []Resource{firewallResource(), serverResource()}}
	plan, err := Reconcile(spec, cred("1-abc", "aLogin"), nil)
	require.NoError(t, err)

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, "server", plan.Actions[0].Resource)
	assert.Equal(t, ActionCreate, plan.Actions[0].Type)
	assert.Equal(t, "firewall", plan.Actions[1].Resource)
	assert.Equal(t, ActionCreate, plan.Actions[1].Type)

	fields := plan.Actions[0].Fields()
	assert.Equal(t, "aLogin", fields["properties.administratorLogin"])
	assert.Equal(t, "1-abc", fields[CredentialTagField])
	assert.NotContains(t, fields, "properties.administratorLoginPassword")
	assert.Equal(t, "Plan: 2 to create, 0 to update in place, 0 to replace.", plan.Summary())
}

// Scenario A: a day later the gate yields a new epoch, the generator a new
// credential, and the bound server must be replaced.
func TestScenarioNewEpochReplaces(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := credential.CredentialPolicy{Login: credential.LoginPolicy(9), Password: credential.DefaultPasswordPolicy()}
	gen := credential.NewGenerator()
	api := provisioning.NewMemory()
	spec := Spec{Name: "pgadmin", Resources: []Resource{serverResource()}}

	gate, err := epoch.NewGate(24*time.Hour, epoch.Epoch{})
	require.NoError(t, err)
	first, _, err := gate.Advance(start)
	require.NoError(t, err)
	c1, err := gen.Generate(first, policy)
	require.NoError(t, err)
	remote := provision(t, api, spec, c1)

	second, advanced, err := gate.Advance(start.Add(25 * time.Hour))
	require.NoError(t, err)
	require.True(t, advanced)
	c2, err := gen.Generate(second, policy)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Login, c2.Login)

	plan, err := Reconcile(spec, c2, remote)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, ActionReplace, plan.Actions[0].Type)
	assert.Equal(t, remote["server"].ID, plan.Actions[0].ResourceID)
	assert.Contains(t, plan.Actions[0].Reason, "properties.administratorLogin")
	assert.Len(t, plan.Destroys(), 1)
}

// Scenario B: an hour later nothing changes.
func TestScenarioSameEpochEmptyPlan(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := credential.CredentialPolicy{Login: credential.LoginPolicy(9), Password: credential.DefaultPasswordPolicy()}
	gen := credential.NewGenerator()
	api := provisioning.NewMemory()
	spec := Spec{Name: "pgadmin", Resources: []Resource{serverResource(), firewallResource()}}

	gate, err := epoch.NewGate(24*time.Hour, epoch.Epoch{})
	require.NoError(t, err)
	first, _, err := gate.Advance(start)
	require.NoError(t, err)
	c1, err := gen.Generate(first, policy)
	require.NoError(t, err)
	remote := provision(t, api, spec, c1)

	again, advanced, err := gate.Advance(start.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, advanced)
	c2, err := gen.Generate(again, policy)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	plan, err := Reconcile(spec, c2, remote)
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
	assert.Equal(t, "No changes. Resources match the current credential.", plan.Summary())
}

// Scenario C: drift on an ignored field produces no action.
func TestScenarioIgnoredDrift(t *testing.T) {
	t.Parallel()

	api := provisioning.NewMemory()
	spec := Spec{Name: "pgadmin", Resources: []Resource{serverResource()}}
	c := cred("1-abc", "aLogin")
	remote := provision(t, api, spec, c)

	api.Drift(remote["server"].ID, "zone", "3")
	refreshed, err := api.Read(context.Background(), remote["server"].ID)
	require.NoError(t, err)
	remote["server"] = refreshed
	require.Equal(t, "3", refreshed.Fields["zone"])

	plan, err := Reconcile(spec, c, remote)
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
}

func TestReconcileUpdateInPlace(t *testing.T) {
	t.Parallel()

	api := provisioning.NewMemory()
	spec := Spec{Name: "pgadmin", Resources: []Resource{serverResource(), firewallResource()}}
	c := cred("1-abc", "aLogin")
	remote := provision(t, api, spec, c)

	remote["server"].Fields["properties.version"] = "13"
	remote["server"].Fields["properties.unmanaged"] = "anything"

	plan, err := Reconcile(spec, c, remote)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)

	action := plan.Actions[0]
	assert.Equal(t, ActionUpdate, action.Type)
	assert.Equal(t, []FieldChange{{Field: "properties.version", Before: "13", After: "14"}}, action.Changes)
}

func TestReconcileForceNewAndCascade(t *testing.T) {
	t.Parallel()

	api := provisioning.NewMemory()
	spec := Spec{Name: "pgadmin", Resources: []Resource{serverResource(), firewallResource()}}
	c := cred("1-abc", "aLogin")
	remote := provision(t, api, spec, c)

	remote["server"].Fields["location"] = "northeurope"

	plan, err := Reconcile(spec, c, remote)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, ActionReplace, plan.Actions[0].Type)
	assert.Equal(t, "forces replacement: location", plan.Actions[0].Reason)
	assert.Equal(t, ActionReplace, plan.Actions[1].Type)
	assert.Equal(t, "dependency replaced: server", plan.Actions[1].Reason)

	destroys := plan.Destroys()
	require.Len(t, destroys, 2)
	assert.Equal(t, "firewall", destroys[0].Resource)
	assert.Equal(t, "server", destroys[1].Resource)
}

func TestReconcileRecreatesDependentsOfMissingResource(t *testing.T) {
	t.Parallel()

	api := provisioning.NewMemory()
	spec := Spec{Name: "pgadmin", Resources: []Resource{serverResource(), firewallResource()}}
	c := cred("1-abc", "aLogin")
	remote := provision(t, api, spec, c)
	delete(remote, "server")

	plan, err := Reconcile(spec, c, remote)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, ActionCreate, plan.Actions[0].Type)
	assert.Equal(t, ActionReplace, plan.Actions[1].Type)
}

func TestReconcileErrors(t *testing.T) {
	t.Parallel()

	_, err := Reconcile(Spec{Name: "x"}, nil, nil)
	assert.Error(t, err)

	cyclic := Spec{Name: "x", Resources: []Resource{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}}
	_, err = Reconcile(cyclic, cred("1-a", "aLogin"), nil)
	assert.Error(t, err)
}

func TestMatchAny(t *testing.T) {
	t.Parallel()

	patterns := []string{"zone", "tags.*"}
	assert.True(t, matchAny(patterns, "zone"))
	assert.True(t, matchAny(patterns, "tags.owner"))
	assert.False(t, matchAny(patterns, "tags"))
	assert.False(t, matchAny(patterns, "zones"))
}

func TestDrift(t *testing.T) {
	t.Parallel()

	r := serverResource()
	assert.Len(t, Drift(r, "1-a", "aLogin", nil), 5)

	state := &provisioning.RemoteState{ID: "x", Fields: r.Desired("1-a", "aLogin")}
	state.Fields["zone"] = "2"
	assert.Empty(t, Drift(r, "1-a", "aLogin", state))
}
