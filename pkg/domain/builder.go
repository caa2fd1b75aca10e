package domain

import (
	"fmt"
	"strings"
)

// BuildTo declares where a builder's outputs land.
type BuildTo int

const (
	// BuildToCache keeps outputs in the build cache only.
	BuildToCache BuildTo = iota
	// BuildToSource additionally writes outputs next to hand-written
	// sources, flagged as generated.
	BuildToSource
)

func (b BuildTo) String() string {
	switch b {
	case BuildToCache:
		return "cache"
	case BuildToSource:
		return "source"
	default:
		return fmt.Sprintf("BuildTo(%d)", int(b))
	}
}

// ParseBuildTo parses "cache" or "source".
func ParseBuildTo(s string) (BuildTo, error) {
	switch s {
	case "", "cache":
		return BuildToCache, nil
	case "source":
		return BuildToSource, nil
	default:
		return BuildToCache, fmt.Errorf("unknown build_to %q", s)
	}
}

// OptionDefaults holds a builder's declared default option layers.
type OptionDefaults struct {
	Options        map[string]any
	DevOptions     map[string]any
	ReleaseOptions map[string]any
}

// BuilderDefinition describes a unit of build logic: what it consumes, what
// it declares to produce, and its default options. Output declarations are
// static; a builder may never invent outputs at run time.
type BuilderDefinition struct {
	// Key uniquely identifies the builder, in "package:name" form.
	Key string

	// InputExtension is the extension of primary inputs, with leading dot.
	InputExtension string

	// OutputExtensions are the extensions of declared outputs, one output
	// asset per extension, derived from the primary input path.
	OutputExtensions []string

	// GenerateFor restricts which primary inputs the builder receives.
	// Empty means all inputs with the matching extension.
	GenerateFor []string

	// BuildTo declares output placement.
	BuildTo BuildTo

	// Defaults are the builder-declared option layers, lowest precedence.
	Defaults OptionDefaults

	// Category groups builders for worker-pool sizing. Empty means the
	// builder shares the default pool.
	Category string
}

// Validate checks the structural invariants of the definition.
func (d BuilderDefinition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("builder key is required")
	}
	pkg, name, ok := strings.Cut(d.Key, ":")
	if !ok || pkg == "" || name == "" {
		return fmt.Errorf("builder key %q must have package:name form", d.Key)
	}
	if !strings.HasPrefix(d.InputExtension, ".") {
		return fmt.Errorf("builder %s: input extension %q must start with a dot", d.Key, d.InputExtension)
	}
	if len(d.OutputExtensions) == 0 {
		return fmt.Errorf("builder %s: at least one output extension is required", d.Key)
	}
	for _, ext := range d.OutputExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("builder %s: output extension %q must start with a dot", d.Key, ext)
		}
		if ext == d.InputExtension {
			return fmt.Errorf("builder %s: output extension %q collides with its input extension", d.Key, ext)
		}
	}
	return nil
}

// OutputsFor returns the declared output AssetIDs for a primary input.
// The set is fully determined by the definition; this is what makes the
// asset graph statically known before any action runs.
//
// The full input extension is replaced, so a builder consuming ".g.dart"
// maps "a.g.dart" to "a" plus each output extension, not "a.g".
func (d BuilderDefinition) OutputsFor(input AssetID) []AssetID {
	base := strings.TrimSuffix(input.Path, d.InputExtension)
	outputs := make([]AssetID, 0, len(d.OutputExtensions))
	for _, ext := range d.OutputExtensions {
		outputs = append(outputs, AssetID{Package: input.Package, Path: base + ext})
	}
	return outputs
}

// DefaultLayers returns the builder default option layers in merge order
// (unconditional first, then mode-specific).
func (d BuilderDefinition) DefaultLayers() []OptionLayer {
	return []OptionLayer{
		{Tag: LayerUnconditional, Origin: OriginBuilderDefault, Values: d.Defaults.Options},
		{Tag: LayerDev, Origin: OriginBuilderDefault, Values: d.Defaults.DevOptions},
		{Tag: LayerRelease, Origin: OriginBuilderDefault, Values: d.Defaults.ReleaseOptions},
	}
}
