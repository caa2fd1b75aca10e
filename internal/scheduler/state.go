// Package scheduler plans and executes builder actions over a discovered
// asset graph: topological ordering, digest-based skipping, failure
// replay, and bounded parallel execution.
package scheduler

import (
	"fmt"

	"github.com/kilnbuild/kiln/internal/graph"
	"github.com/kilnbuild/kiln/pkg/domain"
)

// transition performs a validated status change on an action. The caller
// supplies the expected prior status so races surface as errors instead of
// silent corruption.
func transition(a *domain.Action, from, to domain.ActionStatus) error {
	if a.Status != from {
		return fmt.Errorf("invalid transition for %s: expected %s, got %s", a.ID(), from, a.Status)
	}
	if !allowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %s: %s -> %s", a.ID(), from, to)
	}
	a.Status = to
	return nil
}

func allowedTransition(from, to domain.ActionStatus) bool {
	switch from {
	case domain.ActionPending:
		return to == domain.ActionRunning || to == domain.ActionCached || to == domain.ActionBlocked
	case domain.ActionRunning:
		return to == domain.ActionSucceeded || to == domain.ActionFailed
	default:
		return false
	}
}

// blockDependents transitively marks every pending downstream action of a
// failed action as blocked, so dependents are skipped rather than executed
// with partial or missing input. It returns the actions it blocked, in
// deterministic order.
func blockDependents(g *graph.Graph, failed domain.ActionID) []*domain.Action {
	var blocked []*domain.Action
	var visit func(id domain.ActionID)
	visit = func(id domain.ActionID) {
		for _, downID := range g.Downstream(id) {
			down, ok := g.Action(downID)
			if !ok || down.Status != domain.ActionPending {
				continue
			}
			down.Status = domain.ActionBlocked
			blocked = append(blocked, down)
			visit(downID)
		}
	}
	visit(failed)
	return blocked
}
