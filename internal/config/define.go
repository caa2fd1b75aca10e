package config

import (
	"strings"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// Defines holds CLI --define overrides, keyed by builder key then option
// name. They merge at the highest precedence.
type Defines map[string]map[string]any

// ParseDefines parses repeated --define flags of the form
// "pkg:builder=key=value". Values stay strings; builders coerce them when
// decoding options.
func ParseDefines(flags []string) (Defines, error) {
	defines := make(Defines)
	for _, flag := range flags {
		builderKey, rest, ok := strings.Cut(flag, "=")
		if !ok {
			return nil, domain.NewConfigErrorf("invalid define %q: want builder=key=value", flag)
		}
		key, value, ok := strings.Cut(rest, "=")
		if !ok || key == "" {
			return nil, domain.NewConfigErrorf("invalid define %q: want builder=key=value", flag)
		}
		if !builderKeyPattern.MatchString(builderKey) {
			return nil, domain.NewConfigErrorf("invalid define %q: builder key must have package:name form", flag)
		}
		if defines[builderKey] == nil {
			defines[builderKey] = make(map[string]any)
		}
		defines[builderKey][key] = value
	}
	return defines, nil
}
