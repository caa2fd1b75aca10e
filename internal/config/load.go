package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// FileName is the default configuration file name.
const FileName = "kiln.yaml"

var builderKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*:[a-z][a-z0-9_]*$`)

// ConfigPath returns the configuration file path for a config name.
// An empty name selects kiln.yaml; "wasm" selects kiln.wasm.yaml.
func ConfigPath(root, name string) string {
	if name == "" {
		return filepath.Join(root, FileName)
	}
	return filepath.Join(root, fmt.Sprintf("kiln.%s.yaml", name))
}

// Load reads and validates the configuration file for the given root and
// config name. A missing file is not an error: every package is buildable
// with defaults, so Load returns an empty File.
func Load(root, name string) (*File, error) {
	path := ConfigPath(root, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if name != "" {
				// An explicitly selected config must exist.
				return nil, domain.NewConfigErrorf("config %q not found at %s", name, path)
			}
			return &File{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*File, error) {
	// First decode loosely for schema validation, then strictly into the
	// typed model. The loose pass keeps schema errors (with field paths)
	// ahead of Go decode errors.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, domain.NewConfigErrorf("malformed yaml: %v", err)
	}
	if raw == nil {
		return &File{}, nil
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.NewConfigErrorf("decoding config: %v", err)
	}
	if err := validateSemantics(&file); err != nil {
		return nil, err
	}
	return &file, nil
}

// validateSemantics checks what the schema cannot: glob syntax and builder
// key shape.
func validateSemantics(f *File) error {
	for name, tc := range f.Targets {
		for _, glob := range tc.Sources.Include {
			if !doublestar.ValidatePattern(glob) {
				return domain.NewConfigErrorf("target %s: malformed source glob %q", name, glob)
			}
		}
		for _, glob := range tc.Sources.Exclude {
			if !doublestar.ValidatePattern(glob) {
				return domain.NewConfigErrorf("target %s: malformed exclude glob %q", name, glob)
			}
		}
		for key, block := range tc.Builders {
			if !builderKeyPattern.MatchString(key) {
				return domain.NewConfigErrorf("target %s: invalid builder key %q (want package:name)", name, key)
			}
			for _, glob := range block.GenerateFor {
				if !doublestar.ValidatePattern(glob) {
					return domain.NewConfigErrorf("target %s, builder %s: malformed generate_for glob %q", name, key, glob)
				}
			}
		}
	}
	for key := range f.Builders {
		if !builderKeyPattern.MatchString(key) {
			return domain.NewConfigErrorf("builders: invalid builder key %q (want package:name)", key)
		}
	}
	for key := range f.GlobalOptions {
		if !builderKeyPattern.MatchString(key) {
			return domain.NewConfigErrorf("global_options: invalid builder key %q (want package:name)", key)
		}
	}
	return nil
}
