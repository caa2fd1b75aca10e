package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/internal/adapters/memory"
	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/internal/graph"
	"github.com/kilnbuild/kiln/internal/scheduler"
	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
	"github.com/kilnbuild/kiln/pkg/registry"
)

// storeRouter is the minimal router: everything lands in the cache store.
type storeRouter struct {
	store ports.CacheStore
}

func (r *storeRouter) Route(ctx context.Context, id domain.AssetID, data []byte, buildTo domain.BuildTo) (string, error) {
	digest := graph.HashBytes(data)
	return digest, r.store.Put(ctx, id, data, digest)
}

type executorFixture struct {
	graph    *graph.Graph
	store    *memory.Store
	registry *registry.Registry
	executor *scheduler.Executor
	fsys     fstest.MapFS
}

func newExecutorFixture(t *testing.T, fsys fstest.MapFS, defs []domain.BuilderDefinition, runners map[string]ports.BuilderRunnerFunc) *executorFixture {
	t.Helper()

	reg := registry.New()
	for _, def := range defs {
		require.NoError(t, reg.Register(def, runners[def.Key]))
	}

	g, err := graph.Discover(context.Background(), fsys, "demo",
		[]domain.Target{chainTarget()}, defs, nil)
	require.NoError(t, err)
	require.NoError(t, g.LoadSourceDigests(fsys))

	store := memory.New()
	return &executorFixture{
		graph:    g,
		store:    store,
		registry: reg,
		fsys:     fsys,
		executor: &scheduler.Executor{
			Graph:    g,
			Registry: reg,
			Store:    store,
			Router:   &storeRouter{store: store},
			Resolver: config.NewResolver(&config.File{Package: "demo"}, nil),
			Targets:  map[string]domain.Target{domain.DefaultTargetName: chainTarget()},
			FS:       fsys,
			Runtime:  config.DefaultRuntimeConfig(),
			Mode:     domain.ModeDev,
		},
	}
}

func (f *executorFixture) execute(t *testing.T) (*scheduler.Plan, *scheduler.Result) {
	t.Helper()
	planner := &scheduler.Planner{Graph: f.graph, Store: f.store}
	plan, err := planner.Plan(context.Background(), nil)
	require.NoError(t, err)
	result, err := f.executor.Execute(context.Background(), plan)
	require.NoError(t, err)
	return plan, result
}

func genRunner(out func(step ports.BuildStep) ([]byte, error)) ports.BuilderRunnerFunc {
	return func(ctx context.Context, step ports.BuildStep) (*ports.BuildResult, error) {
		data, err := out(step)
		if err != nil {
			return nil, err
		}
		out0 := step.Builder.OutputsFor(step.Input)[0]
		return &ports.BuildResult{Outputs: map[domain.AssetID][]byte{out0: data}}, nil
	}
}

func TestExecute_ChainedBuildersSeeUpstreamOutput(t *testing.T) {
	runners := map[string]ports.BuilderRunnerFunc{
		"pkg:gen": genRunner(func(step ports.BuildStep) ([]byte, error) {
			return []byte("part of " + step.Input.Path), nil
		}),
		"pkg:info": genRunner(func(step ports.BuildStep) ([]byte, error) {
			// The generated input's content arrives from the cache store.
			return []byte(fmt.Sprintf("{%q: %d}", step.Input.Path, len(step.InputData))), nil
		}),
	}
	f := newExecutorFixture(t, chainFS(),
		[]domain.BuilderDefinition{genDef(), infoDef()}, runners)

	_, result := f.execute(t)

	assert.True(t, result.OK())
	assert.Equal(t, 4, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.Blocked)

	ctx := context.Background()
	gen, ok, err := f.store.Get(ctx, domain.NewAssetID("demo", "lib/a.g.dart"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("part of lib/a.dart"), gen)

	info, ok, err := f.store.Get(ctx, domain.NewAssetID("demo", "lib/a.info.json"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"lib/a.g.dart": 18}`), info)
}

func TestExecute_FailureBlocksDependentsOnly(t *testing.T) {
	runners := map[string]ports.BuilderRunnerFunc{
		"pkg:gen": genRunner(func(step ports.BuildStep) ([]byte, error) {
			if step.Input.Path == "lib/a.dart" {
				return nil, errors.New("syntax error")
			}
			return []byte("part of " + step.Input.Path), nil
		}),
		"pkg:info": genRunner(func(step ports.BuildStep) ([]byte, error) {
			return []byte("{}"), nil
		}),
	}
	f := newExecutorFixture(t, chainFS(),
		[]domain.BuilderDefinition{genDef(), infoDef()}, runners)

	_, result := f.execute(t)

	assert.False(t, result.OK())
	assert.Equal(t, 1, result.Failed, "pkg:gen on lib/a.dart")
	assert.Equal(t, 1, result.Blocked, "pkg:info on lib/a.g.dart")
	assert.Equal(t, 2, result.Succeeded, "the b chain is independent and completes")

	require.Len(t, result.Failures, 1)
	assert.Equal(t, actionID("pkg:gen", "lib/a.dart"), result.Failures[0].ActionID)

	// Both the failure and the block are persisted for replay.
	ctx := context.Background()
	rec, ok, err := f.store.Failure(ctx, actionID("pkg:gen", "lib/a.dart"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "syntax error", rec.Message)

	_, ok, err = f.store.Failure(ctx, actionID("pkg:info", "lib/a.g.dart"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecute_RecoveryClearsFailureRecord(t *testing.T) {
	var failFirst atomic.Bool
	failFirst.Store(true)

	runners := map[string]ports.BuilderRunnerFunc{
		"pkg:gen": genRunner(func(step ports.BuildStep) ([]byte, error) {
			if failFirst.Load() {
				return nil, errors.New("transient failure")
			}
			return []byte("part of " + step.Input.Path), nil
		}),
	}
	fsys := fstest.MapFS{"lib/a.dart": {Data: []byte("class A {}")}}
	f := newExecutorFixture(t, fsys, []domain.BuilderDefinition{genDef()}, runners)

	_, result := f.execute(t)
	assert.Equal(t, 1, result.Failed)

	// The source changes; the rebuilt action succeeds and clears its record.
	failFirst.Store(false)
	fsys["lib/a.dart"] = &fstest.MapFile{Data: []byte("class A { int x; }")}
	require.NoError(t, f.graph.LoadSourceDigests(fsys))

	_, result = f.execute(t)
	assert.True(t, result.OK())
	assert.Equal(t, 1, result.Succeeded)

	_, ok, err := f.store.Failure(context.Background(), actionID("pkg:gen", "lib/a.dart"))
	require.NoError(t, err)
	assert.False(t, ok, "a successful re-run clears the recorded failure")
}

func TestExecute_LowResourcesSerializesWorkers(t *testing.T) {
	var inFlight, peak atomic.Int32

	runners := map[string]ports.BuilderRunnerFunc{
		"pkg:gen": genRunner(func(step ports.BuildStep) ([]byte, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return []byte("out"), nil
		}),
	}
	fsys := fstest.MapFS{
		"lib/a.dart": {Data: []byte("a")},
		"lib/b.dart": {Data: []byte("b")},
		"lib/c.dart": {Data: []byte("c")},
		"lib/d.dart": {Data: []byte("d")},
	}
	f := newExecutorFixture(t, fsys, []domain.BuilderDefinition{genDef()}, runners)
	f.executor.Runtime = config.RuntimeConfig{DefaultWorkers: 4, LowResources: true}

	_, result := f.execute(t)

	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, int32(1), peak.Load(), "low-resources mode runs one action at a time")
}

func TestExecute_UndeclaredOutputFailsAction(t *testing.T) {
	runners := map[string]ports.BuilderRunnerFunc{
		"pkg:gen": func(ctx context.Context, step ports.BuildStep) (*ports.BuildResult, error) {
			return &ports.BuildResult{Outputs: map[domain.AssetID][]byte{
				domain.NewAssetID("demo", "lib/surprise.txt"): []byte("nope"),
			}}, nil
		},
	}
	fsys := fstest.MapFS{"lib/a.dart": {Data: []byte("a")}}
	f := newExecutorFixture(t, fsys, []domain.BuilderDefinition{genDef()}, runners)

	_, result := f.execute(t)

	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Err.Error(), "undeclared output")
}
