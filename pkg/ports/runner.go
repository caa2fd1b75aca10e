package ports

import (
	"context"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// BuildStep is everything a builder needs to process one primary input.
type BuildStep struct {
	// Builder is the definition the step executes under.
	Builder domain.BuilderDefinition

	// Input is the primary input asset.
	Input domain.AssetID

	// InputData is the primary input's content.
	InputData []byte

	// Options is the fully resolved flat option map for this invocation.
	// A builder that needs a key no layer defines must apply its own
	// runtime default or fail with a configuration error.
	Options map[string]any

	// Mode is the active build mode.
	Mode domain.BuildMode
}

// BuildResult is the output of one builder invocation. Outputs must be a
// subset of the builder's declared outputs for the step's input.
type BuildResult struct {
	Outputs map[domain.AssetID][]byte

	// Log carries human-readable builder output for diagnostics.
	Log string
}

// BuilderRunner executes build logic for a registered builder. Runners may
// block on external process execution; they must honor ctx cancellation.
type BuilderRunner interface {
	Build(ctx context.Context, step BuildStep) (*BuildResult, error)
}

// BuilderRunnerFunc adapts a function to the BuilderRunner interface.
type BuilderRunnerFunc func(ctx context.Context, step BuildStep) (*BuildResult, error)

func (f BuilderRunnerFunc) Build(ctx context.Context, step BuildStep) (*BuildResult, error) {
	return f(ctx, step)
}
