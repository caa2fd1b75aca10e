// Package config loads, validates, and resolves the declarative kiln
// configuration file (kiln.yaml).
package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// File is the parsed configuration file.
type File struct {
	// Package is the logical package name assets belong to.
	Package string `yaml:"package"`

	Targets       map[string]TargetConfig  `yaml:"targets"`
	Builders      map[string]BuilderConfig `yaml:"builders"`
	GlobalOptions map[string]OptionGroup   `yaml:"global_options"`
}

// TargetConfig is the per-target section.
type TargetConfig struct {
	Sources  SourcesConfig                  `yaml:"sources"`
	Builders map[string]TargetBuilderBlock `yaml:"builders"`
}

// SourcesConfig accepts either a bare glob list:
//
//	sources: ["lib/**", "pubspec.*"]
//
// or the include/exclude form:
//
//	sources:
//	  include: ["lib/**"]
//	  exclude: ["lib/generated/**"]
type SourcesConfig struct {
	Include []string
	Exclude []string
}

// UnmarshalYAML implements the shorthand described on SourcesConfig.
func (s *SourcesConfig) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var include []string
		if err := value.Decode(&include); err != nil {
			return err
		}
		s.Include = include
		return nil
	case yaml.MappingNode:
		var full struct {
			Include []string `yaml:"include"`
			Exclude []string `yaml:"exclude"`
		}
		if err := value.Decode(&full); err != nil {
			return err
		}
		s.Include = full.Include
		s.Exclude = full.Exclude
		return nil
	default:
		return fmt.Errorf("sources must be a glob list or an include/exclude mapping (line %d)", value.Line)
	}
}

// OptionGroup is the {options, dev_options, release_options} triple used by
// builder defaults, target overrides, and global overrides alike.
type OptionGroup struct {
	Options        map[string]any `yaml:"options"`
	DevOptions     map[string]any `yaml:"dev_options"`
	ReleaseOptions map[string]any `yaml:"release_options"`
}

// TargetBuilderBlock is the per-target, per-builder override section.
type TargetBuilderBlock struct {
	GenerateFor []string `yaml:"generate_for"`
	Enabled     *bool    `yaml:"enabled"`
	OptionGroup `yaml:",inline"`
}

// BuilderConfig is the top-level per-builder section.
type BuilderConfig struct {
	Defaults OptionGroup `yaml:"defaults"`
}

// DomainTargets converts the file's target sections into domain targets.
// A file without targets gets the implicit $default target over the whole
// package.
func (f *File) DomainTargets() []domain.Target {
	if len(f.Targets) == 0 {
		return []domain.Target{{
			Name:    domain.DefaultTargetName,
			Sources: domain.SourceSet{Include: []string{"**"}},
		}}
	}

	targets := make([]domain.Target, 0, len(f.Targets))
	for name, tc := range f.Targets {
		t := domain.Target{
			Name: name,
			Sources: domain.SourceSet{
				Include: tc.Sources.Include,
				Exclude: tc.Sources.Exclude,
			},
			Builders: make(map[string]domain.TargetBuilderOverrides, len(tc.Builders)),
		}
		for key, block := range tc.Builders {
			t.Builders[key] = domain.TargetBuilderOverrides{
				GenerateFor:    block.GenerateFor,
				Enabled:        block.Enabled,
				Options:        block.Options,
				DevOptions:     block.DevOptions,
				ReleaseOptions: block.ReleaseOptions,
			}
		}
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets
}
