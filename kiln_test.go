package kiln_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln"
	"github.com/kilnbuild/kiln/internal/builders"
	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/registry"
)

const projectConfig = `package: demo
targets:
  $default:
    sources: ["assets/**", "templates/**"]
global_options:
  kiln:substitute:
    options:
      vars:
        host: localhost
    release_options:
      vars:
        host: prod.example.com
`

// writeProject lays out a minimal project exercising both built-in
// builders: kiln:copy over assets/, kiln:substitute over templates/.
func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"kiln.yaml":             projectConfig,
		"assets/notes.txt":      "remember the milk\n",
		"templates/config.tmpl": "host={{host}} mode={{build_mode}}\n",
	}
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func newEngine(t *testing.T, root string, opts ...kiln.Option) *kiln.Engine {
	t.Helper()
	eng, err := kiln.New(root, opts...)
	require.NoError(t, err)
	return eng
}

func TestBuild_ColdThenWarm(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()

	result, err := newEngine(t, root).Build(ctx)
	require.NoError(t, err)
	require.True(t, result.OK())
	require.Equal(t, 2, result.Succeeded)
	require.Equal(t, 0, result.Cached)

	// A fresh engine over the same root shares the on-disk cache and
	// must skip everything.
	result, err = newEngine(t, root).Build(ctx)
	require.NoError(t, err)
	require.True(t, result.OK())
	require.Equal(t, 0, result.Succeeded)
	require.Equal(t, 2, result.Cached)
}

func TestBuild_SourceOutputsRediscoverAsCached(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "kiln.yaml"),
		[]byte("package: demo\ntargets:\n  $default:\n    sources: [\"lib/**\"]\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "a.txt"), []byte("alpha\n"), 0o644))

	// A build-to-source builder: its output lands inside lib/ and matches
	// the same source glob as the file it came from.
	newRegistry := func() *registry.Registry {
		reg := registry.New()
		def, runner := builders.Copy(".txt", ".g.txt")
		def.BuildTo = domain.BuildToSource
		require.NoError(t, reg.Register(def, runner))
		return reg
	}
	ctx := context.Background()

	result, err := newEngine(t, root, kiln.WithRegistry(newRegistry())).Build(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)

	genPath := filepath.Join(root, "lib", "a.g.txt")
	first, err := os.ReadFile(genPath)
	require.NoError(t, err)

	// No edits: the output written into the source tree must rediscover
	// as the action's own node, the action must cache, and the file must
	// stay byte-identical.
	result, err = newEngine(t, root, kiln.WithRegistry(newRegistry())).Build(ctx)
	require.NoError(t, err)
	require.True(t, result.OK())
	require.Equal(t, 0, result.Succeeded)
	require.Equal(t, 1, result.Cached)

	second, err := os.ReadFile(genPath)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestBuild_ChangedSourceRebuildsOnlyItsChain(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()

	_, err := newEngine(t, root).Build(ctx)
	require.NoError(t, err)

	tmpl := filepath.Join(root, "templates", "config.tmpl")
	require.NoError(t, os.WriteFile(tmpl, []byte("host={{host}}\n"), 0o644))

	result, err := newEngine(t, root).Build(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 1, result.Cached)
}

func TestContent_GeneratedAndSource(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()
	eng := newEngine(t, root)

	_, _, err := eng.Content(ctx, "templates/config.txt")
	require.Error(t, err, "content before any build has no graph to resolve against")

	_, err = eng.Build(ctx)
	require.NoError(t, err)

	data, ok, err := eng.Content(ctx, "templates/config.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "host=localhost mode=dev\n", string(data))

	data, ok, err = eng.Content(ctx, "assets/notes.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "remember the milk\n", string(data))

	_, ok, err = eng.Content(ctx, "assets/missing.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExport_WritesMergedView(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()
	eng := newEngine(t, root)

	dest := t.TempDir()
	require.Error(t, eng.Export(ctx, dest, ""), "export requires a prior build")

	_, err := eng.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.Export(ctx, dest, ""))

	for path, want := range map[string]string{
		"assets/notes.txt":      "remember the milk\n",
		"assets/notes.copy.txt": "remember the milk\n",
		"templates/config.txt":  "host=localhost mode=dev\n",
	} {
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(path)))
		require.NoError(t, err, path)
		require.Equal(t, want, string(data), path)
	}
}

func TestClean_ForcesFullRebuild(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()

	_, err := newEngine(t, root).Build(ctx)
	require.NoError(t, err)

	eng := newEngine(t, root)
	require.NoError(t, eng.Clean(ctx))

	result, err := eng.Build(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Succeeded)
	require.Equal(t, 0, result.Cached)
}

func TestBuild_ReleaseModePicksReleaseOptions(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()
	eng := newEngine(t, root, kiln.WithMode(domain.ModeRelease))

	_, err := eng.Build(ctx)
	require.NoError(t, err)

	data, ok, err := eng.Content(ctx, "templates/config.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "host=prod.example.com mode=release\n", string(data))
}

func TestBuild_DefinesOutrankFileOptions(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()
	eng := newEngine(t, root, kiln.WithDefines(config.Defines{
		"kiln:substitute": {"vars": map[string]any{"host": "10.0.0.1"}},
	}))

	_, err := eng.Build(ctx)
	require.NoError(t, err)

	data, ok, err := eng.Content(ctx, "templates/config.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "host=10.0.0.1 mode=dev\n", string(data))
}

func TestNew_RejectsBrokenConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "kiln.yaml"),
		[]byte("package: demo\nunknown_section: true\n"), 0o644))

	_, err := kiln.New(root)
	require.Error(t, err)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
