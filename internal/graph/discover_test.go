package graph_test

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/kilnbuild/kiln/internal/graph"
	"github.com/kilnbuild/kiln/pkg/domain"
)

func genBuilder() domain.BuilderDefinition {
	return domain.BuilderDefinition{
		Key:              "pkg:gen",
		InputExtension:   ".dart",
		OutputExtensions: []string{".g.dart"},
		GenerateFor:      []string{"lib/models/*.dart"},
	}
}

func projectFS() fstest.MapFS {
	return fstest.MapFS{
		"lib/util.dart":     {Data: []byte("util")},
		"lib/models/a.dart": {Data: []byte("model a")},
		"pubspec.yaml":      {Data: []byte("name: demo")},
		"web/index.html":    {Data: []byte("<html>")},
		"lib/.util.dart.swp": {Data: []byte("swap")},
	}
}

func defaultTarget() domain.Target {
	return domain.Target{
		Name:    domain.DefaultTargetName,
		Sources: domain.SourceSet{Include: []string{"lib/**", "pubspec.*"}},
	}
}

func TestDiscover_GenerateForFilter(t *testing.T) {
	g, err := graph.Discover(context.Background(), projectFS(), "demo",
		[]domain.Target{defaultTarget()},
		[]domain.BuilderDefinition{genBuilder()}, nil,
	)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	// lib/models/a.dart matches generate_for: one action with its output.
	action, ok := g.Producer(domain.NewAssetID("demo", "lib/models/a.g.dart"))
	if !ok {
		t.Fatal("expected pkg:gen to produce lib/models/a.g.dart")
	}
	if action.Input != domain.NewAssetID("demo", "lib/models/a.dart") {
		t.Errorf("wrong primary input: %v", action.Input)
	}

	// lib/util.dart is discovered but never passed to pkg:gen.
	if _, ok := g.Node(domain.NewAssetID("demo", "lib/util.dart")); !ok {
		t.Error("lib/util.dart should be discovered as a source")
	}
	if _, ok := g.Node(domain.NewAssetID("demo", "lib/util.g.dart")); ok {
		t.Error("lib/util.dart is outside generate_for and must not be built")
	}

	// Sources outside the target globs never enter the graph.
	if _, ok := g.Node(domain.NewAssetID("demo", "web/index.html")); ok {
		t.Error("web/index.html is outside target sources")
	}
}

func TestDiscover_SwapFilesExcluded(t *testing.T) {
	g, err := graph.Discover(context.Background(), projectFS(), "demo",
		[]domain.Target{defaultTarget()}, nil, nil)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if _, ok := g.Node(domain.NewAssetID("demo", "lib/.util.dart.swp")); ok {
		t.Error("editor swap files must not enter the graph")
	}
}

func TestDiscover_Excludes(t *testing.T) {
	target := defaultTarget()
	target.Sources.Exclude = []string{"lib/models/**"}

	g, err := graph.Discover(context.Background(), projectFS(), "demo",
		[]domain.Target{target},
		[]domain.BuilderDefinition{genBuilder()}, nil,
	)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if _, ok := g.Node(domain.NewAssetID("demo", "lib/models/a.dart")); ok {
		t.Error("excluded source must not enter the graph")
	}
	if len(g.Actions()) != 0 {
		t.Errorf("no actions expected, got %d", len(g.Actions()))
	}
}

func TestDiscover_ConflictingOutputs(t *testing.T) {
	second := genBuilder()
	second.Key = "pkg:other"

	_, err := graph.Discover(context.Background(), projectFS(), "demo",
		[]domain.Target{defaultTarget()},
		[]domain.BuilderDefinition{genBuilder(), second}, nil,
	)

	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Asset != domain.NewAssetID("demo", "lib/models/a.g.dart") {
		t.Errorf("wrong conflicting asset: %v", conflict.Asset)
	}
	// The error identifies both builder keys and the shared input.
	found := map[string]bool{}
	for _, p := range conflict.Producers {
		found[p] = true
	}
	if !found["pkg:gen"] || !found["pkg:other"] {
		t.Errorf("expected both builder keys in producers, got %v", conflict.Producers)
	}
	if conflict.Input != domain.NewAssetID("demo", "lib/models/a.dart") {
		t.Errorf("expected shared input in error, got %v", conflict.Input)
	}
	if !domain.FatalConfiguration(err) {
		t.Error("conflicting outputs must be fatal before any action runs")
	}
}

func TestDiscover_SourceCollision(t *testing.T) {
	fsys := projectFS()
	// A hand-written file at the path the builder declares as output.
	fsys["lib/models/a.g.dart"] = &fstest.MapFile{Data: []byte("hand-written")}

	def := genBuilder()
	def.BuildTo = domain.BuildToSource

	_, err := graph.Discover(context.Background(), fsys, "demo",
		[]domain.Target{defaultTarget()},
		[]domain.BuilderDefinition{def}, nil,
	)

	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for source collision, got %v", err)
	}
}

func TestDiscover_PriorSourceOutputIsNotASource(t *testing.T) {
	fsys := projectFS()
	// The output a build-to-source pass left behind: matches the same
	// globs as its neighbors but carries the generated marker.
	fsys["lib/models/a.g.dart"] = &fstest.MapFile{
		Data: []byte("// " + domain.GeneratedMarker + "\n\npart of a"),
	}

	def := genBuilder()
	def.BuildTo = domain.BuildToSource

	g, err := graph.Discover(context.Background(), fsys, "demo",
		[]domain.Target{defaultTarget()},
		[]domain.BuilderDefinition{def}, nil,
	)
	if err != nil {
		t.Fatalf("rediscovering a prior pass's output must not conflict: %v", err)
	}

	node, ok := g.Node(domain.NewAssetID("demo", "lib/models/a.g.dart"))
	if !ok {
		t.Fatal("expected lib/models/a.g.dart in the graph")
	}
	if !node.Generated {
		t.Error("a marker-carrying file must register as generated, not as a source")
	}
	if _, ok := g.Producer(node.ID); !ok {
		t.Error("the generated node must be owned by its producing action")
	}

	// It must not feed back into the builder as a primary input either.
	if _, ok := g.Node(domain.NewAssetID("demo", "lib/models/a.g.g.dart")); ok {
		t.Error("a prior output must never become a build input of its own builder")
	}
}

func TestDiscover_ChainedBuilders(t *testing.T) {
	// pkg:gen produces .g.dart; pkg:info consumes .g.dart downstream.
	info := domain.BuilderDefinition{
		Key:              "pkg:info",
		InputExtension:   ".g.dart",
		OutputExtensions: []string{".info.json"},
	}

	g, err := graph.Discover(context.Background(), projectFS(), "demo",
		[]domain.Target{defaultTarget()},
		[]domain.BuilderDefinition{genBuilder(), info}, nil,
	)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	downstream, ok := g.Producer(domain.NewAssetID("demo", "lib/models/a.info.json"))
	if !ok {
		t.Fatal("expected pkg:info action on the generated .g.dart")
	}

	ups := g.Upstream(downstream.ID())
	if len(ups) != 1 {
		t.Fatalf("expected one upstream producer, got %d", len(ups))
	}
	up, _ := g.Action(ups[0])
	if up.BuilderKey != "pkg:gen" {
		t.Errorf("expected pkg:gen upstream, got %s", up.BuilderKey)
	}

	// Transitive inputs cover the whole primary-input chain.
	inputs := g.TransitiveInputs(downstream.ID())
	want := map[domain.AssetID]bool{
		domain.NewAssetID("demo", "lib/models/a.g.dart"): true,
		domain.NewAssetID("demo", "lib/models/a.dart"):   true,
	}
	if len(inputs) != len(want) {
		t.Fatalf("expected %d transitive inputs, got %v", len(want), inputs)
	}
	for _, in := range inputs {
		if !want[in] {
			t.Errorf("unexpected transitive input %v", in)
		}
	}
}

func TestGraph_RemoveSource(t *testing.T) {
	g, err := graph.Discover(context.Background(), projectFS(), "demo",
		[]domain.Target{defaultTarget()},
		[]domain.BuilderDefinition{genBuilder()}, nil,
	)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	src := domain.NewAssetID("demo", "lib/models/a.dart")
	g.RemoveSource(src)

	if _, ok := g.Node(src); ok {
		t.Error("source node should be removed")
	}
	if _, ok := g.Node(domain.NewAssetID("demo", "lib/models/a.g.dart")); ok {
		t.Error("derived output should be removed with its source")
	}
	if len(g.Actions()) != 0 {
		t.Errorf("derived actions should be removed, got %d", len(g.Actions()))
	}
}

func TestGraph_LoadSourceDigests(t *testing.T) {
	fsys := projectFS()
	g, err := graph.Discover(context.Background(), fsys, "demo",
		[]domain.Target{defaultTarget()}, nil, nil)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if err := g.LoadSourceDigests(fsys); err != nil {
		t.Fatalf("LoadSourceDigests failed: %v", err)
	}

	n, _ := g.Node(domain.NewAssetID("demo", "lib/util.dart"))
	if n.Digest != graph.HashBytes([]byte("util")) {
		t.Errorf("unexpected digest %s", n.Digest)
	}
}
