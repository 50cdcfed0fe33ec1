package graph

import (
	"sort"

	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

// Spec is the minimal block description the graph needs: an identity and
// the ordered upstream references. Authoring order is the order specs are
// added, and it decides ties during topological sorting.
type Spec struct {
	ID          string
	UpstreamIDs []string
}

// Graph models block dependencies as a DAG. Mutation methods never leave
// the graph partially changed: a rejected edge or node is not recorded.
type Graph struct {
	ids        []string
	order      map[string]int
	upstream   map[string][]string
	downstream map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		order:      make(map[string]int),
		upstream:   make(map[string][]string),
		downstream: make(map[string][]string),
	}
}

// Build constructs a graph from block specs in authoring order.
func Build(specs []Spec) (*Graph, error) {
	g := New()
	for _, spec := range specs {
		if err := g.AddNode(spec.ID); err != nil {
			return nil, err
		}
	}
	for _, spec := range specs {
		for _, up := range spec.UpstreamIDs {
			if err := g.AddEdge(up, spec.ID); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// AddNode registers a block id. Duplicate registration is a validation error.
func (g *Graph) AddNode(id string) error {
	if id == "" {
		return streamerrors.NewValidationError("block", "block id cannot be empty", nil)
	}
	if _, exists := g.order[id]; exists {
		return streamerrors.NewValidationError("block", "duplicate block id "+id, nil)
	}
	g.order[id] = len(g.ids)
	g.ids = append(g.ids, id)
	return nil
}

// HasNode reports whether the id is registered.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.order[id]
	return ok
}

// AddEdge records a dependency from -> to. It fails with
// DanglingReferenceError when either endpoint is unknown and with
// CycleError when the edge would close a cycle (a self-edge included).
// A rejected edge leaves the graph unchanged.
func (g *Graph) AddEdge(from, to string) error {
	if !g.HasNode(from) {
		return streamerrors.NewDanglingReferenceError(from)
	}
	if !g.HasNode(to) {
		return streamerrors.NewDanglingReferenceError(to)
	}
	if from == to {
		return streamerrors.NewCycleError(from, to, []string{from, to})
	}
	if path := g.path(to, from); path != nil {
		return streamerrors.NewCycleError(from, to, append(path, to))
	}

	g.downstream[from] = append(g.downstream[from], to)
	g.upstream[to] = append(g.upstream[to], from)
	return nil
}

// Remove drops a node and its own edge lists. References from other nodes
// are left dangling on purpose: cleaning them up is the caller's policy.
func (g *Graph) Remove(id string) error {
	idx, ok := g.order[id]
	if !ok {
		return streamerrors.NewDanglingReferenceError(id)
	}
	delete(g.order, id)
	delete(g.upstream, id)
	delete(g.downstream, id)
	g.ids = append(g.ids[:idx], g.ids[idx+1:]...)
	for i := idx; i < len(g.ids); i++ {
		g.order[g.ids[i]] = i
	}
	return nil
}

// Upstream returns the recorded upstream edges of id, skipping dangling
// references.
func (g *Graph) Upstream(id string) []string {
	return g.known(g.upstream[id])
}

// Downstream returns the recorded downstream edges of id, skipping
// dangling references.
func (g *Graph) Downstream(id string) []string {
	return g.known(g.downstream[id])
}

// TopologicalOrder returns every block id so that upstream blocks precede
// their dependents. Ties among independent blocks are broken by ascending
// authoring order, so the result is deterministic.
func (g *Graph) TopologicalOrder() []string {
	return g.orderSubset(nil)
}

// OrderSubset returns the topological order restricted to the given set.
// Edges through blocks outside the set still constrain the ordering.
func (g *Graph) OrderSubset(set map[string]bool) []string {
	return g.orderSubset(set)
}

// Levels groups the topological order into sets of blocks with no
// dependency path between them; blocks in the same level may run
// concurrently.
func (g *Graph) Levels() [][]string {
	indegree := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		indegree[id] = len(g.known(g.upstream[id]))
	}

	frontier := make([]string, 0, len(g.ids))
	for _, id := range g.ids {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	var levels [][]string
	for len(frontier) > 0 {
		g.sortByAuthoring(frontier)
		levels = append(levels, append([]string(nil), frontier...))

		var next []string
		for _, id := range frontier {
			for _, dep := range g.known(g.downstream[id]) {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}
	return levels
}

// DownstreamClosure returns every block transitively reachable by
// following downstream edges from id, in authoring order.
func (g *Graph) DownstreamClosure(id string) ([]string, error) {
	return g.closure(id, g.downstream)
}

// UpstreamClosure returns every block transitively reachable by following
// upstream edges from id, in authoring order.
func (g *Graph) UpstreamClosure(id string) ([]string, error) {
	return g.closure(id, g.upstream)
}

func (g *Graph) closure(id string, edges map[string][]string) ([]string, error) {
	if !g.HasNode(id) {
		return nil, streamerrors.NewDanglingReferenceError(id)
	}

	seen := map[string]bool{id: true}
	queue := []string{id}
	var reachable []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.known(edges[current]) {
			if seen[next] {
				continue
			}
			seen[next] = true
			reachable = append(reachable, next)
			queue = append(queue, next)
		}
	}

	g.sortByAuthoring(reachable)
	return reachable, nil
}

func (g *Graph) orderSubset(set map[string]bool) []string {
	include := func(id string) bool {
		return set == nil || set[id]
	}

	indegree := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		indegree[id] = len(g.known(g.upstream[id]))
	}

	frontier := make([]string, 0, len(g.ids))
	for _, id := range g.ids {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	result := make([]string, 0, len(g.ids))
	for len(frontier) > 0 {
		g.sortByAuthoring(frontier)
		id := frontier[0]
		frontier = frontier[1:]

		if include(id) {
			result = append(result, id)
		}
		for _, dep := range g.known(g.downstream[id]) {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}
	return result
}

// path returns the node sequence from -> ... -> to following downstream
// edges, or nil when to is unreachable.
func (g *Graph) path(from, to string) []string {
	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == to {
			var path []string
			for node := to; node != ""; node = parent[node] {
				path = append([]string{node}, path...)
				if node == from {
					break
				}
			}
			return path
		}
		for _, next := range g.known(g.downstream[current]) {
			if _, visited := parent[next]; visited {
				continue
			}
			parent[next] = current
			queue = append(queue, next)
		}
	}
	return nil
}

func (g *Graph) known(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if g.HasNode(id) {
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) sortByAuthoring(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return g.order[ids[i]] < g.order[ids[j]]
	})
}
