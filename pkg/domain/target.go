package domain

// DefaultTargetName is the target used when a config file declares none.
const DefaultTargetName = "$default"

// SourceSet is a target's source selection: include globs minus excludes.
type SourceSet struct {
	Include []string
	Exclude []string
}

// TargetBuilderOverrides are the per-target settings for one builder.
type TargetBuilderOverrides struct {
	// GenerateFor narrows the builder's input filter for this target.
	// Nil means the builder-declared filter applies unchanged.
	GenerateFor []string

	// Enabled disables the builder for this target when set to false.
	Enabled *bool

	Options        map[string]any
	DevOptions     map[string]any
	ReleaseOptions map[string]any
}

// Layers returns the target override layers in merge order.
func (o TargetBuilderOverrides) Layers() []OptionLayer {
	return []OptionLayer{
		{Tag: LayerUnconditional, Origin: OriginTarget, Values: o.Options},
		{Tag: LayerDev, Origin: OriginTarget, Values: o.DevOptions},
		{Tag: LayerRelease, Origin: OriginTarget, Values: o.ReleaseOptions},
	}
}

// Target is a named grouping of sources and per-builder overrides.
type Target struct {
	Name     string
	Sources  SourceSet
	Builders map[string]TargetBuilderOverrides
}

// BuilderEnabled reports whether the builder participates in this target.
func (t Target) BuilderEnabled(builderKey string) bool {
	o, ok := t.Builders[builderKey]
	if !ok || o.Enabled == nil {
		return true
	}
	return *o.Enabled
}

// GenerateForOverride returns the target-level generate_for filter for the
// builder, or nil when the target does not narrow it.
func (t Target) GenerateForOverride(builderKey string) []string {
	return t.Builders[builderKey].GenerateFor
}
