// Package dag maintains the asset dependency graph: which assets an asset
// loads, and therefore which assets must be re-imported when one changes.
package dag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vk/assetpipe/internal/assetid"
)

// Graph is a concurrency-safe directed acyclic graph of asset ids. An edge
// dep -> asset means "asset depends on dep": changing dep dirties asset.
type Graph struct {
	mutex sync.RWMutex
	nodes map[assetid.AssetID]*node
}

// node is a single vertex. It is un-exported to force interaction through
// the Graph API rather than direct struct manipulation.
type node struct {
	id assetid.AssetID
	// deps holds the assets this node depends on (predecessors).
	deps map[assetid.AssetID]*node
	// dependents holds the assets that depend on this node (successors).
	dependents map[assetid.AssetID]*node
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[assetid.AssetID]*node),
	}
}

// AddNode adds the asset to the graph. Adding an existing asset does nothing.
func (g *Graph) AddNode(id assetid.AssetID) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.addNodeLocked(id)
}

func (g *Graph) addNodeLocked(id assetid.AssetID) *node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &node{
		id:         id,
		deps:       make(map[assetid.AssetID]*node),
		dependents: make(map[assetid.AssetID]*node),
	}
	g.nodes[id] = n
	return n
}

// SetDependencies replaces the dependency set of an asset. Missing nodes are
// created implicitly: an asset may depend on something not yet imported.
// A self-dependency is rejected.
func (g *Graph) SetDependencies(id assetid.AssetID, deps []assetid.AssetID) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n := g.addNodeLocked(id)
	for depID := range n.deps {
		delete(n.deps[depID].dependents, id)
		delete(n.deps, depID)
	}
	for _, depID := range deps {
		if depID == id {
			return fmt.Errorf("asset %s cannot depend on itself", id)
		}
		dep := g.addNodeLocked(depID)
		n.deps[depID] = dep
		dep.dependents[id] = n
	}
	return nil
}

// RemoveNode deletes the asset and all of its edges. Dependents keep their
// node; their dependency simply dangles until re-imported.
func (g *Graph) RemoveNode(id assetid.AssetID) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for depID := range n.deps {
		delete(n.deps[depID].dependents, id)
	}
	for depID := range n.dependents {
		delete(n.dependents[depID].deps, id)
	}
	delete(g.nodes, id)
}

// Dependencies returns the assets the given asset directly depends on.
func (g *Graph) Dependencies(id assetid.AssetID) ([]assetid.AssetID, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("asset not in graph: %s", id)
	}
	deps := make([]assetid.AssetID, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	return deps, nil
}

// Dependents returns the assets that directly depend on the given asset.
func (g *Graph) Dependents(id assetid.AssetID) ([]assetid.AssetID, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("asset not in graph: %s", id)
	}
	dependents := make([]assetid.AssetID, 0, len(n.dependents))
	for depID := range n.dependents {
		dependents = append(dependents, depID)
	}
	return dependents, nil
}

// TransitiveDependents returns every asset reachable from id along dependent
// edges, excluding id itself. These are the assets dirtied by a change to id.
// An unknown id yields an empty result: nothing can depend on an asset the
// graph has never seen.
func (g *Graph) TransitiveDependents(id assetid.AssetID) []assetid.AssetID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	start, ok := g.nodes[id]
	if !ok {
		return nil
	}

	visited := map[assetid.AssetID]bool{id: true}
	var out []assetid.AssetID
	queue := []*node{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for depID, dependent := range n.dependents {
			if visited[depID] {
				continue
			}
			visited[depID] = true
			out = append(out, depID)
			queue = append(queue, dependent)
		}
	}
	return out
}

// DetectCycles checks the graph for cycles. A non-nil error names the first
// asset found inside one.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with three node sets:
	// permanent: fully visited, known cycle-free.
	// temporary: on the current recursion stack.
	// unvisited: everything else.
	permanent := make(map[assetid.AssetID]bool)
	temporary := make(map[assetid.AssetID]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("dependency cycle detected involving asset %s", n.id)
		}
		temporary[n.id] = true
		for _, dependent := range n.dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range g.nodes {
		if !permanent[n.id] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// SortByDepth orders the given assets so that every asset comes after all of
// its dependencies that are also in the set. Assets at equal depth sort by
// id for determinism. The pipeline uses this to re-import a dirty batch in
// dependency order, each asset exactly once.
func (g *Graph) SortByDepth(ids []assetid.AssetID) []assetid.AssetID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	depth := make(map[assetid.AssetID]int, len(g.nodes))
	var measure func(n *node, seen map[assetid.AssetID]bool) int
	measure = func(n *node, seen map[assetid.AssetID]bool) int {
		if d, ok := depth[n.id]; ok {
			return d
		}
		if seen[n.id] {
			return 0 // cycle guard; DetectCycles reports these properly
		}
		seen[n.id] = true
		max := 0
		for _, dep := range n.deps {
			if d := measure(dep, seen) + 1; d > max {
				max = d
			}
		}
		delete(seen, n.id)
		depth[n.id] = max
		return max
	}

	sorted := make([]assetid.AssetID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		var di, dj int
		if n, ok := g.nodes[sorted[i]]; ok {
			di = measure(n, map[assetid.AssetID]bool{})
		}
		if n, ok := g.nodes[sorted[j]]; ok {
			dj = measure(n, map[assetid.AssetID]bool{})
		}
		if di != dj {
			return di < dj
		}
		return sorted[i].String() < sorted[j].String()
	})
	return sorted
}
