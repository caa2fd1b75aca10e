package builders_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/internal/builders"
	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
	"github.com/kilnbuild/kiln/pkg/registry"
)

func TestCopy(t *testing.T) {
	def, runner := builders.Copy(".txt", ".copy.txt")
	require.NoError(t, def.Validate())

	input := domain.NewAssetID("demo", "assets/readme.txt")
	res, err := runner.Build(context.Background(), ports.BuildStep{
		Builder:   def,
		Input:     input,
		InputData: []byte("hello"),
	})
	require.NoError(t, err)

	out := domain.NewAssetID("demo", "assets/readme.copy.txt")
	assert.Equal(t, []byte("hello"), res.Outputs[out])
}

func TestSubstitute(t *testing.T) {
	def, runner := builders.Substitute(".tmpl", ".txt")
	require.NoError(t, def.Validate())
	input := domain.NewAssetID("demo", "conf/app.tmpl")
	out := domain.NewAssetID("demo", "conf/app.txt")

	t.Run("Replaces Vars", func(t *testing.T) {
		res, err := runner.Build(context.Background(), ports.BuildStep{
			Builder:   def,
			Input:     input,
			InputData: []byte("host={{ host }} port={{port}}"),
			Options: map[string]any{
				"vars": map[string]string{"host": "localhost", "port": "8080"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "host=localhost port=8080", string(res.Outputs[out]))
	})

	t.Run("Build Mode Is Implicit", func(t *testing.T) {
		res, err := runner.Build(context.Background(), ports.BuildStep{
			Builder:   def,
			Input:     input,
			InputData: []byte("mode={{build_mode}}"),
			Mode:      domain.ModeRelease,
		})
		require.NoError(t, err)
		assert.Equal(t, "mode=release", string(res.Outputs[out]))
	})

	t.Run("Lenient Passes Unresolved Through", func(t *testing.T) {
		res, err := runner.Build(context.Background(), ports.BuildStep{
			Builder:   def,
			Input:     input,
			InputData: []byte("value={{ missing }}"),
			Options:   map[string]any{"strict": false},
		})
		require.NoError(t, err)
		assert.Equal(t, "value={{ missing }}", string(res.Outputs[out]))
	})

	t.Run("Strict Fails On Unresolved", func(t *testing.T) {
		res, err := runner.Build(context.Background(), ports.BuildStep{
			Builder:   def,
			Input:     input,
			InputData: []byte("value={{ missing }}"),
			Options:   map[string]any{"strict": true},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
		assert.Contains(t, res.Log, "missing")
	})
}

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New()
	require.NoError(t, builders.RegisterBuiltins(reg))

	_, ok := reg.Definition("kiln:copy")
	assert.True(t, ok)
	_, ok = reg.Definition("kiln:substitute")
	assert.True(t, ok)
}
