package scheduler

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/internal/graph"
	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
	"github.com/kilnbuild/kiln/pkg/registry"
)

// OutputRouter places one generated asset into its destinations and
// returns the digest of the stored content. The concrete implementation
// lives in internal/router.
type OutputRouter interface {
	Route(ctx context.Context, id domain.AssetID, data []byte, buildTo domain.BuildTo) (digest string, err error)
}

// Result summarizes one executed build pass.
type Result struct {
	Succeeded int
	Failed    int
	Cached    int
	Blocked   int

	// Failures holds errors from actions that ran and failed this pass.
	Failures []*domain.ActionError

	// Replayed holds prior failures re-emitted without re-running.
	Replayed []*ReplayedFailure

	Duration time.Duration
}

// OK reports whether the pass ended with no failed and no replayed-failed
// actions. The process exit code follows this.
func (r *Result) OK() bool {
	return r.Failed == 0 && len(r.Replayed) == 0
}

// Executor runs a plan over a bounded worker pool per task category.
// Coordination is single-threaded: one goroutine owns all status
// transitions and dependency counts, workers only execute builders and
// report back.
type Executor struct {
	Graph    *graph.Graph
	Registry *registry.Registry
	Store    ports.CacheStore
	Router   OutputRouter
	Resolver *config.Resolver
	Targets  map[string]domain.Target
	FS       fs.FS
	Runtime  config.RuntimeConfig
	Mode     domain.BuildMode
	Hooks    domain.LifecycleHooks
	Logger   *slog.Logger
}

type actionResult struct {
	action *domain.Action
	err    *domain.ActionError
}

// Execute runs the plan. Independent actions run concurrently, bounded per
// category; actions sharing a dependency edge are strictly ordered. A
// failure never aborts independent siblings: dependents are blocked and
// skipped, the rest of the pass continues.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	result := &Result{
		Cached:   len(plan.Cached),
		Replayed: plan.CachedFailures,
	}

	if e.Hooks.OnBuildStart != nil {
		e.Hooks.OnBuildStart(ctx, &domain.BuildEvent{
			Timestamp: start, Mode: e.Mode, Actions: len(plan.Run),
		})
	}

	inRun := make(map[domain.ActionID]*domain.Action, len(plan.Run))
	pendingDeps := make(map[domain.ActionID]int, len(plan.Run))
	for _, a := range plan.Run {
		inRun[a.ID()] = a
	}
	for _, a := range plan.Run {
		n := 0
		for _, up := range e.Graph.Upstream(a.ID()) {
			if _, ok := inRun[up]; ok {
				n++
			}
		}
		pendingDeps[a.ID()] = n
	}

	sems := newSemaphores(e.Runtime)
	results := make(chan actionResult)
	var wg sync.WaitGroup

	dispatch := func(a *domain.Action) {
		if err := transition(a, domain.ActionPending, domain.ActionRunning); err != nil {
			// Coordinator bug; surface loudly rather than deadlock.
			panic(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.runAction(ctx, sems, a)
			select {
			case results <- res:
			case <-ctx.Done():
			}
		}()
	}

	// Seed with actions whose in-plan dependencies are already satisfied.
	for _, a := range plan.Run {
		if pendingDeps[a.ID()] == 0 {
			dispatch(a)
		}
	}

	remaining := len(plan.Run)
	var ctxErr error

coordinate:
	for remaining > 0 {
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break coordinate
		case res := <-results:
			remaining--
			a := res.action
			if res.err != nil {
				result.Failed++
				result.Failures = append(result.Failures, res.err)
				// Every pending action is part of the plan, so each
				// blocked dependent reduces the remaining count.
				for _, blocked := range blockDependents(e.Graph, a.ID()) {
					remaining--
					result.Blocked++
					e.markOutputs(blocked, domain.ActionBlocked)
					// Persist the block as a failure record so no-op
					// rebuilds replay the whole failed chain, not just
					// its root.
					rec := domain.FailureRecord{
						ActionID:   blocked.ID(),
						Message:    fmt.Sprintf("blocked by failure of %s", a.ID()),
						RecordedAt: time.Now().UTC(),
					}
					if err := e.Store.PutFailure(ctx, rec); err != nil {
						logger.Error("recording blocked action", "action", blocked.ID(), "error", err)
					}
				}
				continue
			}
			result.Succeeded++
			for _, downID := range e.Graph.Downstream(a.ID()) {
				down, ok := inRun[downID]
				if !ok || down.Status != domain.ActionPending {
					continue
				}
				pendingDeps[downID]--
				if pendingDeps[downID] == 0 {
					dispatch(down)
				}
			}
		}
	}

	// Let in-flight workers finish before the graph is read again; clients
	// of the store only ever observe committed writes.
	wg.Wait()

	result.Duration = time.Since(start)
	if e.Hooks.OnBuildEnd != nil {
		e.Hooks.OnBuildEnd(ctx, &domain.BuildEvent{
			Timestamp: time.Now(), Mode: e.Mode,
			Actions: len(plan.Run), Duration: result.Duration, Failed: result.Failed,
		})
	}
	if ctxErr != nil {
		return result, ctxErr
	}
	return result, nil
}

// runAction executes one builder invocation on a worker goroutine. All
// status mutation happens on the coordinator; this function only touches
// the store and router, which are safe per the one-producer-per-output
// invariant.
func (e *Executor) runAction(ctx context.Context, sems *semaphores, a *domain.Action) actionResult {
	def, ok := e.Registry.Definition(a.BuilderKey)
	if !ok {
		return e.fail(ctx, a, fmt.Errorf("builder %s not registered", a.BuilderKey), "")
	}

	release, err := sems.acquire(ctx, def.Category)
	if err != nil {
		return e.fail(ctx, a, err, "")
	}
	defer release()

	logger := e.loggerFor(a)
	logger.Debug("action started")
	started := time.Now()
	if e.Hooks.OnActionStart != nil {
		e.Hooks.OnActionStart(ctx, &domain.ActionEvent{
			Timestamp: started, ActionID: a.ID(), Builder: a.BuilderKey,
			Input: a.Input, Status: domain.ActionRunning,
		})
	}

	inputData, err := e.readInput(ctx, a.Input)
	if err != nil {
		return e.fail(ctx, a, err, "")
	}

	runner, _ := e.Registry.Runner(a.BuilderKey)
	step := ports.BuildStep{
		Builder:   def,
		Input:     a.Input,
		InputData: inputData,
		Options:   e.Resolver.Resolve(def, e.Targets[e.Graph.TargetOf(a.Input)], e.Mode),
		Mode:      e.Mode,
	}

	res, err := runner.Build(ctx, step)
	if err != nil {
		logger.Warn("action failed", "error", err, "duration", time.Since(started))
		out := ""
		if res != nil {
			out = res.Log
		}
		return e.fail(ctx, a, err, out)
	}

	declared := make(map[domain.AssetID]bool, len(a.Outputs))
	for _, out := range a.Outputs {
		declared[out] = true
	}
	for out, data := range res.Outputs {
		if !declared[out] {
			return e.fail(ctx, a, fmt.Errorf("undeclared output %s", out), res.Log)
		}
		digest, err := e.Router.Route(ctx, out, data, def.BuildTo)
		if err != nil {
			return e.fail(ctx, a, err, res.Log)
		}
		if node, ok := e.Graph.Node(out); ok {
			node.Digest = digest
			node.LastStatus = domain.ActionSucceeded
		}
	}

	if err := e.Store.DeleteFailure(ctx, a.ID()); err != nil {
		return e.fail(ctx, a, err, "")
	}

	e.commit(a, domain.ActionSucceeded)
	logger.Debug("action succeeded", "duration", time.Since(started))
	if e.Hooks.OnActionEnd != nil {
		e.Hooks.OnActionEnd(ctx, &domain.ActionEvent{
			Timestamp: time.Now(), ActionID: a.ID(), Builder: a.BuilderKey,
			Input: a.Input, Status: domain.ActionSucceeded, Duration: time.Since(started),
		})
	}
	return actionResult{action: a}
}

func (e *Executor) fail(ctx context.Context, a *domain.Action, err error, output string) actionResult {
	actionErr := &domain.ActionError{ActionID: a.ID(), Err: err, Output: output}

	rec := domain.FailureRecord{
		ActionID:   a.ID(),
		Message:    err.Error(),
		Output:     output,
		RecordedAt: time.Now().UTC(),
	}
	if putErr := e.Store.PutFailure(ctx, rec); putErr != nil {
		e.loggerFor(a).Error("recording failure", "error", putErr)
	}

	e.commit(a, domain.ActionFailed)
	for _, out := range a.Outputs {
		if node, ok := e.Graph.Node(out); ok {
			node.Failure = &rec
		}
	}
	if e.Hooks.OnActionEnd != nil {
		e.Hooks.OnActionEnd(ctx, &domain.ActionEvent{
			Timestamp: time.Now(), ActionID: a.ID(), Builder: a.BuilderKey,
			Input: a.Input, Status: domain.ActionFailed, Error: err.Error(),
		})
	}
	return actionResult{action: a, err: actionErr}
}

// commit records the terminal status on the action and its output nodes.
// Only the owning worker touches its action after dispatch, so no lock is
// needed; the coordinator reads the status only after receiving the
// worker's result.
func (e *Executor) commit(a *domain.Action, status domain.ActionStatus) {
	a.Status = status
	e.markOutputs(a, status)
}

func (e *Executor) markOutputs(a *domain.Action, status domain.ActionStatus) {
	for _, out := range a.Outputs {
		if node, ok := e.Graph.Node(out); ok {
			node.LastStatus = status
		}
	}
}

// readInput fetches primary input content: generated inputs come from the
// cache store, sources from the file system.
func (e *Executor) readInput(ctx context.Context, id domain.AssetID) ([]byte, error) {
	node, ok := e.Graph.Node(id)
	if !ok {
		return nil, domain.ErrAssetNotFound
	}
	if node.Generated {
		data, ok, err := e.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: generated input %s missing from cache", domain.ErrAssetNotFound, id)
		}
		return data, nil
	}
	return fs.ReadFile(e.FS, id.Path)
}

func (e *Executor) loggerFor(a *domain.Action) *slog.Logger {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("builder", a.BuilderKey, "input", a.Input.String())
}

// semaphores bounds concurrent builder executions per task category.
type semaphores struct {
	mu      sync.Mutex
	pools   map[string]chan struct{}
	runtime config.RuntimeConfig
}

func newSemaphores(rc config.RuntimeConfig) *semaphores {
	return &semaphores{pools: make(map[string]chan struct{}), runtime: rc}
}

func (s *semaphores) acquire(ctx context.Context, category string) (func(), error) {
	s.mu.Lock()
	pool, ok := s.pools[category]
	if !ok {
		pool = make(chan struct{}, s.runtime.PoolSize(category))
		s.pools[category] = pool
	}
	s.mu.Unlock()

	select {
	case pool <- struct{}{}:
		return func() { <-pool }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
