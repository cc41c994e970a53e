package binder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/credrotate/internal/errors"
)

func nodeIDs(nodes []*Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestBuildGraphOrder(t *testing.T) {
	t.Parallel()

	resources := []Resource{
		{Name: "firewall", DependsOn: []string{"server"}},
		{Name: "replica", DependsOn: []string{"server"}},
		{Name: "server", BindCredential: true, CredentialFields: CredentialFields{Login: "login", Password: "password"}},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{
		EpochNode,
		CredentialNode,
		"resource.server",
		"resource.firewall",
		"resource.replica",
	}, nodeIDs(order))

	assert.ElementsMatch(t, []string{"resource.firewall", "resource.replica"}, g.Dependents("resource.server"))
}

func TestBuildGraphCycle(t *testing.T) {
	t.Parallel()

	resources := []Resource{
		{Name: "a", DependsOn: []string{"c"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	_, err = g.Order()
	require.ErrorIs(t, err, dserrors.ErrCyclicDependency)
	assert.Contains(t, err.Error(), "resource.a")
}

func TestBuildGraphErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		resources []Resource
		contains  string
	}{
		{"unknown dependency", []Resource{{Name: "a", DependsOn: []string{"ghost"}}}, "unknown resource ghost"},
		{"duplicate", []Resource{{Name: "a"}, {Name: "a"}}, "declared twice"},
		{"self dependency", []Resource{{Name: "a", DependsOn: []string{"a"}}}, "depends on itself"},
		{"missing name", []Resource{{}}, "name is required"},
		{"bind without fields", []Resource{{Name: "a", BindCredential: true}}, "credential_fields"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.resources)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestGraphAddEdge(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	require.NoError(t, g.AddNode(&Node{ID: "x"}))
	require.NoError(t, g.AddNode(&Node{ID: "y"}))
	assert.Error(t, g.AddNode(&Node{ID: "x"}))
	assert.Error(t, g.AddEdge("x", "nope"))

	require.NoError(t, g.AddEdge("x", "y"))
	require.NoError(t, g.AddEdge("x", "y"))
	assert.Equal(t, []string{"y"}, g.Dependents("x"))

	n, ok := g.Node("y")
	require.True(t, ok)
	assert.Equal(t, "y", n.ID)
}
