package domain

import (
	"fmt"
	"sort"
)

// BuildMode selects which per-mode option layers apply to a build.
type BuildMode int

const (
	ModeDev BuildMode = iota
	ModeRelease
)

func (m BuildMode) String() string {
	switch m {
	case ModeDev:
		return "dev"
	case ModeRelease:
		return "release"
	default:
		return fmt.Sprintf("BuildMode(%d)", int(m))
	}
}

// ParseBuildMode parses "dev" or "release".
func ParseBuildMode(s string) (BuildMode, error) {
	switch s {
	case "dev":
		return ModeDev, nil
	case "release":
		return ModeRelease, nil
	default:
		return ModeDev, fmt.Errorf("unknown build mode %q", s)
	}
}

// LayerTag marks when an option layer applies.
type LayerTag int

const (
	LayerUnconditional LayerTag = iota
	LayerDev
	LayerRelease
)

func (t LayerTag) String() string {
	switch t {
	case LayerUnconditional:
		return "unconditional"
	case LayerDev:
		return "dev"
	case LayerRelease:
		return "release"
	default:
		return fmt.Sprintf("LayerTag(%d)", int(t))
	}
}

// AppliesTo reports whether a layer with this tag participates in a build
// running in the given mode.
func (t LayerTag) AppliesTo(mode BuildMode) bool {
	switch t {
	case LayerUnconditional:
		return true
	case LayerDev:
		return mode == ModeDev
	case LayerRelease:
		return mode == ModeRelease
	default:
		return false
	}
}

// LayerOrigin identifies where an option layer was declared. Origins exist
// for diagnostics; precedence is determined solely by layer order.
type LayerOrigin int

const (
	OriginBuilderDefault LayerOrigin = iota
	OriginTarget
	OriginGlobal
	OriginCLI
)

func (o LayerOrigin) String() string {
	switch o {
	case OriginBuilderDefault:
		return "builder default"
	case OriginTarget:
		return "target"
	case OriginGlobal:
		return "global"
	case OriginCLI:
		return "cli"
	default:
		return fmt.Sprintf("LayerOrigin(%d)", int(o))
	}
}

// OptionLayer is a flat mapping from option name to value, tagged with when
// it applies and where it came from. Layers are merged by key only; values
// are never deep-merged.
type OptionLayer struct {
	Tag    LayerTag
	Origin LayerOrigin
	Values map[string]any
}

// MergeLayers merges an ordered list of layers into a single flat option
// map for a build in the given mode. Later layers take precedence: a key
// present in a later layer fully replaces the value from an earlier one.
// Layers whose tag does not apply to the mode are skipped. The input is
// never mutated.
func MergeLayers(mode BuildMode, layers ...OptionLayer) map[string]any {
	merged := make(map[string]any)
	for _, layer := range layers {
		if !layer.Tag.AppliesTo(mode) {
			continue
		}
		for k, v := range layer.Values {
			merged[k] = v
		}
	}
	return merged
}

// OptionKeys returns the sorted key set of an option map, for stable
// diagnostics output.
func OptionKeys(opts map[string]any) []string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
