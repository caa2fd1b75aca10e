// Package graph builds and holds the static asset graph: every known
// input and output asset, and the builder actions linking them.
package graph

import (
	"sort"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// Graph records assets and the actions producing them. It is an explicit
// object passed through the build lifecycle (discover, plan, execute,
// persist) rather than ambient state, so tests can construct isolated
// graphs.
//
// Invariants, enforced at construction:
//   - every AssetID is globally unique across the build
//   - every generated asset has exactly one producing action
type Graph struct {
	pkg string

	nodes   map[domain.AssetID]*domain.Node
	actions map[domain.ActionID]*domain.Action

	// upstream maps an action to the actions producing its inputs;
	// downstream is the reverse relation.
	upstream   map[domain.ActionID][]domain.ActionID
	downstream map[domain.ActionID][]domain.ActionID

	// sourceTarget records which target discovered each source asset.
	// Generated assets inherit the target of their primary input.
	sourceTarget map[domain.AssetID]string
}

// New creates an empty graph for a package.
func New(pkg string) *Graph {
	return &Graph{
		pkg:          pkg,
		nodes:        make(map[domain.AssetID]*domain.Node),
		actions:      make(map[domain.ActionID]*domain.Action),
		upstream:     make(map[domain.ActionID][]domain.ActionID),
		downstream:   make(map[domain.ActionID][]domain.ActionID),
		sourceTarget: make(map[domain.AssetID]string),
	}
}

// Package returns the package name the graph was discovered for.
func (g *Graph) Package() string { return g.pkg }

// Node returns the node for an asset.
func (g *Graph) Node(id domain.AssetID) (*domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by asset id for deterministic iteration.
func (g *Graph) Nodes() []*domain.Node {
	nodes := make([]*domain.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.String() < nodes[j].ID.String() })
	return nodes
}

// Action returns an action by id.
func (g *Graph) Action(id domain.ActionID) (*domain.Action, bool) {
	a, ok := g.actions[id]
	return a, ok
}

// Actions returns all actions sorted by id.
func (g *Graph) Actions() []*domain.Action {
	actions := make([]*domain.Action, 0, len(g.actions))
	for _, a := range g.actions {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].ID() < actions[j].ID() })
	return actions
}

// Producer returns the action producing an asset, or ok=false for sources
// and unknown assets.
func (g *Graph) Producer(id domain.AssetID) (*domain.Action, bool) {
	n, ok := g.nodes[id]
	if !ok || n.ProducedBy == "" {
		return nil, false
	}
	a, ok := g.actions[n.ProducedBy]
	return a, ok
}

// Upstream returns the actions producing inputs of the given action.
func (g *Graph) Upstream(id domain.ActionID) []domain.ActionID {
	return g.upstream[id]
}

// Downstream returns the actions consuming outputs of the given action.
func (g *Graph) Downstream(id domain.ActionID) []domain.ActionID {
	return g.downstream[id]
}

// TargetOf returns the name of the target that owns an asset.
func (g *Graph) TargetOf(id domain.AssetID) string {
	return g.sourceTarget[id]
}

// TransitiveInputs returns the primary input chain of an action: its own
// primary input plus the primary inputs of every upstream producer,
// deduplicated, sorted. The scheduler compares the digests of exactly this
// set against the ledger to decide whether the action may be skipped.
func (g *Graph) TransitiveInputs(id domain.ActionID) []domain.AssetID {
	seen := make(map[domain.AssetID]struct{})
	var visit func(aid domain.ActionID)
	visit = func(aid domain.ActionID) {
		a, ok := g.actions[aid]
		if !ok {
			return
		}
		if _, dup := seen[a.Input]; dup {
			return
		}
		seen[a.Input] = struct{}{}
		for _, up := range g.upstream[aid] {
			visit(up)
		}
	}
	visit(id)

	inputs := make([]domain.AssetID, 0, len(seen))
	for in := range seen {
		inputs = append(inputs, in)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].String() < inputs[j].String() })
	return inputs
}

// addSource registers a hand-written asset discovered from a target glob.
// Re-discovery by a second target is a no-op, not a conflict: targets may
// legitimately overlap on sources.
func (g *Graph) addSource(id domain.AssetID, target string) *domain.Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &domain.Node{
		ID:         id,
		Generated:  false,
		LastStatus: domain.ActionSucceeded,
	}
	g.nodes[id] = n
	g.sourceTarget[id] = target
	return n
}

// addAction registers an action and its declared outputs, wiring dependency
// edges to the producers of its primary input. Output collisions are
// ConflictErrors.
func (g *Graph) addAction(def domain.BuilderDefinition, input domain.AssetID) error {
	action := &domain.Action{
		BuilderKey: def.Key,
		Input:      input,
		Outputs:    def.OutputsFor(input),
		Status:     domain.ActionPending,
	}
	id := action.ID()

	for _, out := range action.Outputs {
		if existing, ok := g.nodes[out]; ok {
			producers := []string{def.Key}
			if existing.Generated {
				if prior, ok := g.actions[existing.ProducedBy]; ok {
					producers = append(producers, prior.BuilderKey)
				}
			} else {
				producers = append(producers, "source")
			}
			return &domain.ConflictError{Asset: out, Producers: producers, Input: input}
		}
	}

	g.actions[id] = action
	for _, out := range action.Outputs {
		g.nodes[out] = &domain.Node{
			ID:         out,
			Generated:  true,
			ProducedBy: id,
			LastStatus: domain.ActionPending,
		}
		g.sourceTarget[out] = g.sourceTarget[input]
	}

	if producer, ok := g.Producer(input); ok {
		g.upstream[id] = append(g.upstream[id], producer.ID())
		g.downstream[producer.ID()] = append(g.downstream[producer.ID()], id)
	}
	return nil
}

// RemoveSource drops a disappeared source and, transitively, every action
// and generated asset derived from it. Used by watch mode when a file is
// deleted between passes.
func (g *Graph) RemoveSource(id domain.AssetID) {
	n, ok := g.nodes[id]
	if !ok || n.Generated {
		return
	}
	g.removeNode(id)
}

func (g *Graph) removeNode(id domain.AssetID) {
	delete(g.sourceTarget, id)
	delete(g.nodes, id)

	// Remove every action keyed on this asset as primary input.
	for aid, a := range g.actions {
		if a.Input != id {
			continue
		}
		delete(g.actions, aid)
		delete(g.upstream, aid)
		for _, down := range g.downstream[aid] {
			g.pruneUpstream(down, aid)
		}
		delete(g.downstream, aid)
		for _, out := range a.Outputs {
			g.removeNode(out)
		}
	}
}

func (g *Graph) pruneUpstream(id, gone domain.ActionID) {
	ups := g.upstream[id]
	for i, up := range ups {
		if up == gone {
			g.upstream[id] = append(ups[:i], ups[i+1:]...)
			return
		}
	}
}
