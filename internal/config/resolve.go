package config

import (
	"github.com/kilnbuild/kiln/pkg/domain"
)

// Resolver merges builder option layers into the final flat option map per
// builder invocation. Precedence, lowest to highest: builder-defined
// defaults (unconditional, then mode-specific), target overrides, global
// overrides, CLI --define overrides. Within each origin the mode-specific
// layer outranks the unconditional one.
type Resolver struct {
	file    *File
	defines Defines
}

// NewResolver creates a resolver over a loaded config file and parsed CLI
// defines.
func NewResolver(file *File, defines Defines) *Resolver {
	if file == nil {
		file = &File{}
	}
	return &Resolver{file: file, defines: defines}
}

// Resolve returns the final option map for one builder invocation. The
// merge is by string key: a key in a higher layer fully replaces the lower
// value; unset keys fall through. Builders apply their own runtime defaults
// for keys no layer defines.
func (r *Resolver) Resolve(builder domain.BuilderDefinition, target domain.Target, mode domain.BuildMode) map[string]any {
	layers := builder.DefaultLayers()

	if overrides, ok := target.Builders[builder.Key]; ok {
		layers = append(layers, overrides.Layers()...)
	}

	if group, ok := r.file.GlobalOptions[builder.Key]; ok {
		layers = append(layers,
			domain.OptionLayer{Tag: domain.LayerUnconditional, Origin: domain.OriginGlobal, Values: group.Options},
			domain.OptionLayer{Tag: domain.LayerDev, Origin: domain.OriginGlobal, Values: group.DevOptions},
			domain.OptionLayer{Tag: domain.LayerRelease, Origin: domain.OriginGlobal, Values: group.ReleaseOptions},
		)
	}

	if cli := r.defines[builder.Key]; len(cli) > 0 {
		layers = append(layers, domain.OptionLayer{
			Tag:    domain.LayerUnconditional,
			Origin: domain.OriginCLI,
			Values: cli,
		})
	}

	return domain.MergeLayers(mode, layers...)
}

// fileDefaults merges the config file's builders.<key>.defaults section
// into a builder definition, so defaults declared in the file behave
// exactly like defaults declared in code.
func (r *Resolver) fileDefaults(builder domain.BuilderDefinition) domain.BuilderDefinition {
	group, ok := r.file.Builders[builder.Key]
	if !ok {
		return builder
	}
	builder.Defaults.Options = overlay(builder.Defaults.Options, group.Defaults.Options)
	builder.Defaults.DevOptions = overlay(builder.Defaults.DevOptions, group.Defaults.DevOptions)
	builder.Defaults.ReleaseOptions = overlay(builder.Defaults.ReleaseOptions, group.Defaults.ReleaseOptions)
	return builder
}

// overlay merges over onto a fresh copy of base. Neither input is mutated:
// base is shared with the definition held by the registry.
func overlay(base, over map[string]any) map[string]any {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}

// ApplyFileDefaults returns copies of the definitions with file-level
// defaults folded in. Call once before discovery.
func (r *Resolver) ApplyFileDefaults(defs []domain.BuilderDefinition) []domain.BuilderDefinition {
	out := make([]domain.BuilderDefinition, len(defs))
	for i, def := range defs {
		out[i] = r.fileDefaults(def)
	}
	return out
}
