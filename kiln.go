// Package kiln is an incremental build orchestration engine: it discovers
// an asset graph from declarative configuration, plans the minimal set of
// builder actions from content digests, and executes them over bounded
// worker pools with cached-failure replay.
package kiln

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kilnbuild/kiln/internal/adapters/cached"
	"github.com/kilnbuild/kiln/internal/adapters/file"
	"github.com/kilnbuild/kiln/internal/builders"
	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/internal/graph"
	"github.com/kilnbuild/kiln/internal/logging"
	"github.com/kilnbuild/kiln/internal/router"
	"github.com/kilnbuild/kiln/internal/scheduler"
	"github.com/kilnbuild/kiln/internal/watch"
	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
	"github.com/kilnbuild/kiln/pkg/registry"
)

// Engine is the high-level entry point for the kiln library. It wraps
// discovery, planning, and execution behind a simplified API.
type Engine struct {
	root       string
	name       string
	configName string
	mode       domain.BuildMode
	defines    config.Defines
	runtime    config.RuntimeConfig
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
	store      ports.CacheStore
	registry   *registry.Registry

	file     *config.File
	resolver *config.Resolver

	mu        sync.Mutex
	lastGraph *graph.Graph
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStore injects a cache store, replacing the default on-disk store
// under <root>/.kiln/cache.
func WithStore(store ports.CacheStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithRegistry injects a builder registry, replacing the built-in one.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithRuntimeConfig sizes the scheduler's worker pools.
func WithRuntimeConfig(rc config.RuntimeConfig) Option {
	return func(e *Engine) {
		e.runtime = rc
	}
}

// WithMode selects dev or release mode.
func WithMode(mode domain.BuildMode) Option {
	return func(e *Engine) {
		e.mode = mode
	}
}

// WithDefines applies command-line option overrides, the highest
// precedence configuration layer.
func WithDefines(defines config.Defines) Option {
	return func(e *Engine) {
		e.defines = defines
	}
}

// WithConfigName selects kiln.<name>.yaml instead of kiln.yaml.
func WithConfigName(name string) Option {
	return func(e *Engine) {
		e.configName = name
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// New initializes an Engine over the project at root. The configuration
// file is loaded eagerly so invalid configuration fails here, before any
// build is attempted.
func New(root string, opts ...Option) (*Engine, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root: %w", err)
	}

	eng := &Engine{
		root:    absRoot,
		name:    filepath.Base(absRoot),
		runtime: config.DefaultRuntimeConfig(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	eng.logger = eng.logger.With("project", eng.name)

	if eng.registry == nil {
		eng.registry = registry.New()
		if err := builders.RegisterBuiltins(eng.registry); err != nil {
			return nil, err
		}
	}

	if eng.store == nil {
		base := file.NewStore(filepath.Join(absRoot, ".kiln", "cache"))
		store, err := cached.Wrap(base, cached.DefaultSize)
		if err != nil {
			return nil, err
		}
		eng.store = store
	}

	eng.file, err = config.Load(absRoot, eng.configName)
	if err != nil {
		return nil, err
	}
	if eng.file.Package == "" {
		eng.file.Package = eng.name
	}
	eng.resolver = config.NewResolver(eng.file, eng.defines)

	return eng, nil
}

// Package returns the package name builds run under.
func (e *Engine) Package() string {
	return e.file.Package
}

// Mode returns the engine's build mode.
func (e *Engine) Mode() domain.BuildMode {
	return e.mode
}

// Build runs one full build pass: discovery, planning, execution. Action
// failures are reported in the Result, not as an error; the returned error
// covers configuration and infrastructure problems only.
func (e *Engine) Build(ctx context.Context) (*scheduler.Result, error) {
	return e.build(ctx, nil)
}

func (e *Engine) build(ctx context.Context, changed map[domain.AssetID]struct{}) (*scheduler.Result, error) {
	g, err := e.discover(ctx)
	if err != nil {
		return nil, err
	}

	planner := &scheduler.Planner{Graph: g, Store: e.store, Logger: e.logger}
	plan, err := planner.Plan(ctx, changed)
	if err != nil {
		return nil, err
	}
	e.logger.Info("build planned",
		"run", len(plan.Run), "cached", len(plan.Cached), "replayed", len(plan.CachedFailures))

	targets := make(map[string]domain.Target)
	for _, t := range e.file.DomainTargets() {
		targets[t.Name] = t
	}

	executor := &scheduler.Executor{
		Graph:    g,
		Registry: e.registry,
		Store:    e.store,
		Router:   router.New(e.store, g, e.root, e.logger),
		Resolver: e.resolver,
		Targets:  targets,
		FS:       os.DirFS(e.root),
		Runtime:  e.runtime,
		Mode:     e.mode,
		Hooks:    e.hooks,
		Logger:   e.logger,
	}
	result, err := executor.Execute(ctx, plan)
	if err != nil {
		return result, err
	}

	// Record source digests so the next pass skips unchanged work. This
	// happens regardless of action failures: a failed action with
	// unchanged inputs must replay, not re-run.
	for _, node := range g.Nodes() {
		if node.Generated || node.Digest == "" {
			continue
		}
		if err := e.store.PutDigest(ctx, node.ID, node.Digest); err != nil {
			return result, fmt.Errorf("recording source digest: %w", err)
		}
	}

	e.mu.Lock()
	e.lastGraph = g
	e.mu.Unlock()
	return result, nil
}

// discover expands targets and builders into a fresh asset graph. The
// store backs the generated probe: only builder outputs ever have content
// in it, so a build-to-source file from an earlier pass is recognized even
// when its format cannot carry the generated marker.
func (e *Engine) discover(ctx context.Context) (*graph.Graph, error) {
	defs := e.resolver.ApplyFileDefaults(e.registry.Definitions())
	generated := func(id domain.AssetID) bool {
		_, ok, err := e.store.Get(ctx, id)
		return err == nil && ok
	}
	g, err := graph.Discover(ctx, os.DirFS(e.root), e.file.Package, e.file.DomainTargets(), defs, generated)
	if err != nil {
		return nil, err
	}
	if err := g.LoadSourceDigests(os.DirFS(e.root)); err != nil {
		return nil, err
	}
	return g, nil
}

// Graph discovers and returns the current asset graph without building.
func (e *Engine) Graph(ctx context.Context) (*graph.Graph, error) {
	return e.discover(ctx)
}

// Clean evicts all cached content, digests, and failure records. The next
// build runs everything.
func (e *Engine) Clean(ctx context.Context) error {
	e.logger.Info("evicting build cache")
	return e.store.EvictAll(ctx)
}

// Export copies the merged build view (sources plus generated outputs)
// into destDir. subdir, when non-empty, restricts and re-roots the copy.
// Export requires a prior Build in this engine's lifetime.
func (e *Engine) Export(ctx context.Context, destDir, subdir string) error {
	e.mu.Lock()
	g := e.lastGraph
	e.mu.Unlock()
	if g == nil {
		return fmt.Errorf("no build to export; run Build first")
	}
	return router.New(e.store, g, e.root, e.logger).MergeTo(ctx, destDir, subdir)
}

// Content resolves a project-relative path against the last built graph:
// generated assets come from the cache store, sources from disk. It
// implements the serve command's content source.
func (e *Engine) Content(ctx context.Context, path string) ([]byte, bool, error) {
	e.mu.Lock()
	g := e.lastGraph
	e.mu.Unlock()
	if g == nil {
		return nil, false, fmt.Errorf("no build yet")
	}

	id := domain.NewAssetID(e.file.Package, path)
	node, ok := g.Node(id)
	if !ok {
		return nil, false, nil
	}
	if node.Generated {
		return e.store.Get(ctx, id)
	}
	data, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Watch builds once, then rebuilds on every debounced batch of file
// changes until ctx is done. onPass is invoked after each pass, including
// the initial one.
func (e *Engine) Watch(ctx context.Context, onPass func(*scheduler.Result)) error {
	result, err := e.build(ctx, nil)
	if err != nil {
		return err
	}
	if onPass != nil {
		onPass(result)
	}

	watcher, err := watch.New(watch.DefaultConfig(e.root))
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-watcher.Errors():
			e.logger.Warn("watcher error", "error", err)
		case batch := <-watcher.Batches():
			changed := make(map[domain.AssetID]struct{}, len(batch.Changed)+len(batch.Removed))
			for p := range batch.Changed {
				changed[domain.NewAssetID(e.file.Package, p)] = struct{}{}
			}
			for p := range batch.Removed {
				changed[domain.NewAssetID(e.file.Package, p)] = struct{}{}
			}
			e.logger.Info("rebuilding", "changed", len(batch.Changed), "removed", len(batch.Removed))

			result, err := e.build(ctx, changed)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Discovery or planning went bad mid-pass (e.g. a source
				// vanished between the batch and the rebuild); report and
				// keep watching. The config file itself is loaded once in
				// New and is not re-read here.
				e.logger.Error("rebuild failed", "error", err)
				continue
			}
			if onPass != nil {
				onPass(result)
			}
		}
	}
}
