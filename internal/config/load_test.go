package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/pkg/domain"
)

const sampleConfig = `
package: demo
targets:
  $default:
    sources: ["lib/**", "pubspec.*"]
    builders:
      pkg:gen:
        generate_for: ["lib/models/*.dart"]
        options:
          opt: from-target
builders:
  pkg:gen:
    defaults:
      options:
        opt: from-defaults
global_options:
  pkg:gen:
    release_options:
      minify: true
`

func TestParse_Sample(t *testing.T) {
	file, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "demo", file.Package)

	targets := file.DomainTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, domain.DefaultTargetName, targets[0].Name)
	assert.Equal(t, []string{"lib/**", "pubspec.*"}, targets[0].Sources.Include)
	assert.Equal(t, []string{"lib/models/*.dart"}, targets[0].GenerateForOverride("pkg:gen"))

	assert.Equal(t, "from-defaults", file.Builders["pkg:gen"].Defaults.Options["opt"])
	assert.Equal(t, true, file.GlobalOptions["pkg:gen"].ReleaseOptions["minify"])
}

func TestParse_SourcesIncludeExcludeForm(t *testing.T) {
	file, err := config.Parse([]byte(`
targets:
  $default:
    sources:
      include: ["lib/**"]
      exclude: ["lib/generated/**"]
`))
	require.NoError(t, err)

	targets := file.DomainTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, []string{"lib/generated/**"}, targets[0].Sources.Exclude)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"malformed yaml":   "targets: [unclosed",
		"unknown top key":  "unknown_section: {}",
		"bad sources type": "targets: {$default: {sources: 42}}",
		"bad builder key":  "builders: {notakey: {defaults: {options: {}}}}",
		"malformed glob":   "targets: {$default: {sources: ['lib/[**']}}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, domain.FatalConfiguration(err), "config errors are fatal pre-run: %v", err)
		})
	}
}

func TestLoad_MissingFileIsEmptyConfig(t *testing.T) {
	file, err := config.Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Empty(t, file.Targets)
}

func TestLoad_NamedConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kiln.wasm.yaml"), []byte("package: demo\n"), 0o644))

	file, err := config.Load(dir, "wasm")
	require.NoError(t, err)
	assert.Equal(t, "demo", file.Package)

	// An explicitly named config must exist.
	_, err = config.Load(dir, "missing")
	assert.Error(t, err)
}

func TestRuntimeConfigFromEnv(t *testing.T) {
	env := func(vals map[string]string) func(string) string {
		return func(key string) string { return vals[key] }
	}

	t.Run("Unset", func(t *testing.T) {
		cfg, err := config.RuntimeConfigFromEnv(env(nil))
		require.NoError(t, err)
		assert.Equal(t, config.DefaultWorkerCount, cfg.PoolSize("codegen"))
	})

	t.Run("GlobalBound", func(t *testing.T) {
		cfg, err := config.RuntimeConfigFromEnv(env(map[string]string{config.WorkersEnvVar: "8"}))
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.PoolSize("codegen"))
		assert.Equal(t, 8, cfg.PoolSize(""))
	})

	t.Run("PerCategory", func(t *testing.T) {
		cfg, err := config.RuntimeConfigFromEnv(env(map[string]string{config.WorkersEnvVar: "codegen=2, compile=6"}))
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.PoolSize("codegen"))
		assert.Equal(t, 6, cfg.PoolSize("compile"))
		assert.Equal(t, config.DefaultWorkerCount, cfg.PoolSize("other"))
	})

	t.Run("LowResourcesClampsToOne", func(t *testing.T) {
		cfg, err := config.RuntimeConfigFromEnv(env(map[string]string{config.WorkersEnvVar: "8"}))
		require.NoError(t, err)
		cfg.LowResources = true
		assert.Equal(t, 1, cfg.PoolSize("codegen"))
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, raw := range []string{"0", "-2", "codegen", "codegen=zero"} {
			_, err := config.RuntimeConfigFromEnv(env(map[string]string{config.WorkersEnvVar: raw}))
			assert.Error(t, err, "value %q", raw)
		}
	})
}
