package scheduler

import (
	"context"
	"log/slog"
	"sort"

	"github.com/kilnbuild/kiln/internal/graph"
	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
)

// ReplayedFailure pairs a skipped action with the diagnostics recorded on
// its last real run, so failures are reprinted instead of silently hidden
// on unrelated successful rebuilds.
type ReplayedFailure struct {
	Action *domain.Action
	Record domain.FailureRecord
}

// Plan is the ordered outcome of change detection over the graph.
type Plan struct {
	// Run holds the actions to execute, topologically ordered: an action
	// never appears before the producers of its transitive inputs.
	Run []*domain.Action

	// Cached holds actions skipped because nothing they consume changed
	// since their last recorded success.
	Cached []*domain.Action

	// CachedFailures holds actions skipped with a prior recorded failure
	// and unchanged inputs: not re-executed, diagnostics re-emitted.
	CachedFailures []*ReplayedFailure
}

// Planner computes build plans from a graph and the digest ledger.
type Planner struct {
	Graph  *graph.Graph
	Store  ports.CacheStore
	Logger *slog.Logger
}

// Plan computes the minimal set of actions to (re)run. changed optionally
// names inputs known to have changed (watch mode); digest comparison
// against the ledger runs regardless, so a cold ledger means a full build.
//
// An action is skipped iff its primary input digest and every transitive
// dependency digest are unchanged since the last recorded run. A prior
// failure with unchanged inputs becomes a CachedFailure.
func (p *Planner) Plan(ctx context.Context, changed map[domain.AssetID]struct{}) (*Plan, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ordered, err := p.topoOrder()
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	dirty := make(map[domain.ActionID]bool)

	for _, action := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Each plan pass owns the lifecycle from the start; terminal
		// statuses from a previous pass (watch mode) are stale here.
		action.Status = domain.ActionPending
		id := action.ID()

		needsRun := false
		for _, up := range p.Graph.Upstream(id) {
			if dirty[up] {
				needsRun = true
				break
			}
		}
		if !needsRun {
			needsRun, err = p.inputsChanged(ctx, action, changed)
			if err != nil {
				return nil, err
			}
		}

		if needsRun {
			dirty[id] = true
			plan.Run = append(plan.Run, action)
			continue
		}

		// Unchanged. Either a clean skip or a replayed failure.
		rec, failed, err := p.Store.Failure(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := transition(action, domain.ActionPending, domain.ActionCached); err != nil {
			return nil, err
		}
		if failed {
			logger.Debug("replaying cached failure", "action", id)
			plan.CachedFailures = append(plan.CachedFailures, &ReplayedFailure{Action: action, Record: *rec})
		} else {
			plan.Cached = append(plan.Cached, action)
		}
	}

	return plan, nil
}

// inputsChanged compares the action's transitive input digests and its own
// recorded outputs against the ledger.
func (p *Planner) inputsChanged(ctx context.Context, action *domain.Action, changed map[domain.AssetID]struct{}) (bool, error) {
	for _, in := range p.Graph.TransitiveInputs(action.ID()) {
		if _, hinted := changed[in]; hinted {
			return true, nil
		}
		node, ok := p.Graph.Node(in)
		if !ok {
			return false, domain.ErrAssetNotFound
		}
		recorded, known, err := p.Store.Digest(ctx, in)
		if err != nil {
			return false, err
		}
		if !known {
			// A generated input that was never produced because its
			// producer failed is not stale; the failure replays instead.
			if node.Generated {
				if producer, ok := p.Graph.Producer(in); ok {
					if _, failed, err := p.Store.Failure(ctx, producer.ID()); err != nil {
						return false, err
					} else if failed {
						continue
					}
				}
			}
			// Never recorded: first build or post-clean.
			return true, nil
		}
		if node.Source() && node.Digest != recorded {
			return true, nil
		}
	}

	// A declared output with no ledger entry means the action has never
	// completed (or the cache was evicted underneath us).
	for _, out := range action.Outputs {
		if _, known, err := p.Store.Digest(ctx, out); err != nil {
			return false, err
		} else if !known {
			// A recorded failure legitimately has no outputs; it is
			// replayable, not stale.
			if _, failed, err := p.Store.Failure(ctx, action.ID()); err != nil {
				return false, err
			} else if failed {
				continue
			}
			return true, nil
		}
	}
	return false, nil
}

// topoOrder returns all actions ordered so producers precede consumers,
// stable by (depth asc, action id asc) for deterministic plans.
func (p *Planner) topoOrder() ([]*domain.Action, error) {
	actions := p.Graph.Actions()

	depth := make(map[domain.ActionID]int, len(actions))
	var depthOf func(id domain.ActionID) int
	depthOf = func(id domain.ActionID) int {
		if d, ok := depth[id]; ok {
			return d
		}
		// The graph is acyclic by construction: edges follow extension
		// rewrites and a builder never consumes its own outputs.
		d := 0
		for _, up := range p.Graph.Upstream(id) {
			if ud := depthOf(up) + 1; ud > d {
				d = ud
			}
		}
		depth[id] = d
		return d
	}
	for _, a := range actions {
		depthOf(a.ID())
	}

	sort.SliceStable(actions, func(i, j int) bool {
		di, dj := depth[actions[i].ID()], depth[actions[j].ID()]
		if di != dj {
			return di < dj
		}
		return actions[i].ID() < actions[j].ID()
	})
	return actions, nil
}
