// Package builders ships the built-in builders: a copy builder and a
// template substitution builder. They are small on purpose; real build
// logic plugs in through pkg/registry and ports.BuilderRunner.
package builders

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
	"github.com/kilnbuild/kiln/pkg/registry"
)

// RegisterBuiltins installs the built-in builders into a registry with
// their default extensions.
func RegisterBuiltins(reg *registry.Registry) error {
	copyDef, copyRunner := Copy(".txt", ".copy.txt")
	if err := reg.Register(copyDef, copyRunner); err != nil {
		return err
	}
	subDef, subRunner := Substitute(".tmpl", ".txt")
	return reg.Register(subDef, subRunner)
}

// Copy returns a builder that reproduces its input under a new extension.
// Useful for staging assets into the build view and as the simplest
// possible runner in tests.
func Copy(inputExt, outputExt string) (domain.BuilderDefinition, ports.BuilderRunner) {
	def := domain.BuilderDefinition{
		Key:              "kiln:copy",
		InputExtension:   inputExt,
		OutputExtensions: []string{outputExt},
		Category:         "copy",
	}
	runner := ports.BuilderRunnerFunc(func(ctx context.Context, step ports.BuildStep) (*ports.BuildResult, error) {
		out := step.Builder.OutputsFor(step.Input)[0]
		return &ports.BuildResult{
			Outputs: map[domain.AssetID][]byte{out: step.InputData},
		}, nil
	})
	return def, runner
}

// SubstituteOptions are the options of the substitution builder, decoded
// from the resolved option map.
type SubstituteOptions struct {
	// Vars maps placeholder names to replacement values.
	Vars map[string]string `mapstructure:"vars"`

	// Strict makes unresolved placeholders a build failure instead of
	// passing through verbatim.
	Strict bool `mapstructure:"strict"`
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Substitute returns a builder replacing {{name}} placeholders in its
// input with values from the "vars" option. Build mode is always available
// as {{build_mode}}.
func Substitute(inputExt, outputExt string) (domain.BuilderDefinition, ports.BuilderRunner) {
	def := domain.BuilderDefinition{
		Key:              "kiln:substitute",
		InputExtension:   inputExt,
		OutputExtensions: []string{outputExt},
		Category:         "codegen",
		Defaults: domain.OptionDefaults{
			Options: map[string]any{"strict": false},
		},
	}
	runner := ports.BuilderRunnerFunc(func(ctx context.Context, step ports.BuildStep) (*ports.BuildResult, error) {
		// Weak typing: --define values arrive as strings.
		var opts SubstituteOptions
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &opts,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(step.Options); err != nil {
			return nil, fmt.Errorf("decoding substitute options: %w", err)
		}
		if opts.Vars == nil {
			opts.Vars = make(map[string]string)
		}
		if _, ok := opts.Vars["build_mode"]; !ok {
			opts.Vars["build_mode"] = step.Mode.String()
		}

		var unresolved []string
		rendered := placeholderPattern.ReplaceAllStringFunc(string(step.InputData), func(m string) string {
			name := placeholderPattern.FindStringSubmatch(m)[1]
			if val, ok := opts.Vars[name]; ok {
				return val
			}
			unresolved = append(unresolved, name)
			return m
		})
		if opts.Strict && len(unresolved) > 0 {
			return &ports.BuildResult{Log: "unresolved: " + strings.Join(unresolved, ", ")},
				fmt.Errorf("unresolved placeholders: %s", strings.Join(unresolved, ", "))
		}

		out := step.Builder.OutputsFor(step.Input)[0]
		return &ports.BuildResult{
			Outputs: map[domain.AssetID][]byte{out: []byte(rendered)},
		}, nil
	})
	return def, runner
}
