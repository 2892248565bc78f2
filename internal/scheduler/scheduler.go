// Package scheduler maintains the dependency DAG the coordinator walks
// while dispatching builds: one node per (name, version) recipe, edges
// from a dependency to its dependents, repeatedly picking the
// lexicographically-first node with no unbuilt dependency left.
package scheduler

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Key identifies one recipe version.
type Key struct {
	Name    string
	Version string
}

func (k Key) String() string { return k.Name + ":" + k.Version }

type node struct {
	id  int64
	key Key
}

func (n *node) ID() int64 { return n.id }

// Graph is the coordinator's mutable view of the dependency DAG: which
// recipes remain to build, and which of those remaining recipes are ready
// (all their dependencies already built).
type Graph struct {
	g        *simple.DirectedGraph
	byKey    map[Key]*node
	nextID   int64
	built    map[Key]bool
}

// New builds a Graph from a set of recipes and their declared dependency
// keys. deps[k] lists the keys k depends on; an edge is added from each
// dependency to k, so k becomes ready once every dependency node is
// removed.
func New(deps map[Key][]Key) *Graph {
	gr := &Graph{
		g:     simple.NewDirectedGraph(),
		byKey: make(map[Key]*node),
		built: make(map[Key]bool),
	}
	get := func(k Key) *node {
		if n, ok := gr.byKey[k]; ok {
			return n
		}
		n := &node{id: gr.nextID, key: k}
		gr.nextID++
		gr.byKey[k] = n
		gr.g.AddNode(n)
		return n
	}
	for k, ds := range deps {
		n := get(k)
		for _, d := range ds {
			dn := get(d)
			gr.g.SetEdge(gr.g.NewEdge(dn, n))
		}
	}
	return gr
}

// Ready returns every remaining node with in-degree zero (no unbuilt
// dependency), in lexicographic (Name, then Version) order.
func (gr *Graph) Ready() []Key {
	var ready []Key
	for it := gr.g.Nodes(); it.Next(); {
		n := it.Node().(*node)
		if gr.g.To(n.ID()).Len() == 0 {
			ready = append(ready, n.key)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Name != ready[j].Name {
			return ready[i].Name < ready[j].Name
		}
		return ready[i].Version < ready[j].Version
	})
	return ready
}

// NextReady returns the lexicographically-first ready node, or ok=false if
// none remain (either the graph is empty or every remaining node is stuck
// in a cycle).
func (gr *Graph) NextReady() (Key, bool) {
	ready := gr.Ready()
	if len(ready) == 0 {
		return Key{}, false
	}
	return ready[0], true
}

// MarkBuilt removes a completed node from the graph, making its dependents
// potentially ready.
func (gr *Graph) MarkBuilt(k Key) {
	n, ok := gr.byKey[k]
	if !ok {
		return
	}
	gr.g.RemoveNode(n.ID())
	gr.built[k] = true
}

// Len reports how many recipes remain unbuilt in the graph.
func (gr *Graph) Len() int { return gr.g.Nodes().Len() }

// Remaining lists every recipe still in the graph, in lexicographic order;
// once Ready() returns none but Remaining() is non-empty, those recipes sit
// in a dependency cycle.
func (gr *Graph) Remaining() []Key {
	var out []Key
	for it := gr.g.Nodes(); it.Next(); {
		out = append(out, it.Node().(*node).key)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// CheckAcyclic reports an error naming every recipe participating in a
// dependency cycle, using gonum's topological sort to find them. It does
// not mutate the graph.
func (gr *Graph) CheckAcyclic() error {
	_, err := topo.Sort(gr.g)
	if err == nil {
		return nil
	}
	unorderable, ok := err.(topo.Unorderable)
	if !ok {
		return err
	}
	var cyclic []string
	for _, component := range unorderable {
		for _, n := range component {
			cyclic = append(cyclic, n.(*node).key.String())
		}
	}
	sort.Strings(cyclic)
	return fmt.Errorf("scheduler: cyclic dependency among remaining packages: %v", cyclic)
}

var _ graph.Node = (*node)(nil)
