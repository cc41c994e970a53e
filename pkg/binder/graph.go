package binder

import (
	"fmt"
	"strings"

	dserrors "github.com/systmms/credrotate/internal/errors"
)

// NodeKind types the nodes of a dependency graph.
type NodeKind string

const (
	NodeEpoch      NodeKind = "epoch"
	NodeCredential NodeKind = "credential"
	NodeResource   NodeKind = "resource"
)

// Well-known node IDs.
const (
	EpochNode      = "epoch"
	CredentialNode = "credential"
)

// Node is one vertex of the graph.
type Node struct {
	ID       string
	Kind     NodeKind
	Resource *Resource
}

// Graph is a directed graph whose edges point from a node to the nodes that
// depend on it.
type Graph struct {
	nodes []*Node
	index map[string]*Node
	edges map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		index: make(map[string]*Node),
		edges: make(map[string][]string),
	}
}

// AddNode adds n. IDs must be unique.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.index[n.ID]; exists {
		return fmt.Errorf("duplicate node %q", n.ID)
	}
	g.nodes = append(g.nodes, n)
	g.index[n.ID] = n
	return nil
}

// AddEdge records that to depends on from.
func (g *Graph) AddEdge(from, to string) error {
	if _, ok := g.index[from]; !ok {
		return fmt.Errorf("unknown node %q", from)
	}
	if _, ok := g.index[to]; !ok {
		return fmt.Errorf("unknown node %q", to)
	}
	for _, existing := range g.edges[from] {
		if existing == to {
			return nil
		}
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Dependents returns the direct dependents of id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.edges[id]...)
}

// Order returns the nodes in topological order (Kahn's algorithm). Ties are
// broken by insertion order so the result is deterministic.
func (g *Graph) Order() ([]*Node, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indegree[n.ID] += 0
		for _, to := range g.edges[n.ID] {
			indegree[to]++
		}
	}

	var queue []string
	for _, n := range g.nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]*Node, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, g.index[id])
		for _, to := range g.edges[id] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if len(order) != len(g.nodes) {
		var stuck []string
		for _, n := range g.nodes {
			if indegree[n.ID] > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		return nil, fmt.Errorf("%w: %s", dserrors.ErrCyclicDependency, strings.Join(stuck, ", "))
	}
	return order, nil
}

// BuildGraph builds the epoch -> credential -> resources graph for a spec.
func BuildGraph(resources []Resource) (*Graph, error) {
	g := NewGraph()
	_ = g.AddNode(&Node{ID: EpochNode, Kind: NodeEpoch})
	_ = g.AddNode(&Node{ID: CredentialNode, Kind: NodeCredential})
	_ = g.AddEdge(EpochNode, CredentialNode)

	for i := range resources {
		r := &resources[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if err := g.AddNode(&Node{ID: resourceNode(r.Name), Kind: NodeResource, Resource: r}); err != nil {
			return nil, fmt.Errorf("resource %s declared twice", r.Name)
		}
	}

	for i := range resources {
		r := &resources[i]
		if r.BindCredential {
			_ = g.AddEdge(CredentialNode, resourceNode(r.Name))
		}
		for _, dep := range r.DependsOn {
			if err := g.AddEdge(resourceNode(dep), resourceNode(r.Name)); err != nil {
				return nil, fmt.Errorf("resource %s depends on unknown resource %s", r.Name, dep)
			}
		}
	}
	return g, nil
}

func resourceNode(name string) string {
	return "resource." + name
}
