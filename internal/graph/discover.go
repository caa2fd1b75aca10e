package graph

import (
	"bytes"
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// GeneratedProbe reports whether a prior pass produced the asset. It backs
// the generated-marker check for formats that cannot carry a header
// comment (json and friends); nil means no prior-pass knowledge.
type GeneratedProbe func(domain.AssetID) bool

// Discover walks the configured target sources and expands every builder's
// declared outputs into a static graph. The graph is fully known before any
// action executes: no builder may declare outputs dynamically at run time.
//
// Builders apply in the given order; outputs of earlier builders are
// visible as primary inputs to later builders in the same pass, but never
// to the builder that produced them.
//
// A build-to-source output from an earlier pass matches the same globs as
// the hand-written files next to it. It is not a source: its producing
// action re-registers it as a generated node, so registering it here would
// make every rebuild a false producer conflict. Such files are recognized
// by the generated marker they carry, or through the probe for marker-less
// formats.
func Discover(ctx context.Context, fsys fs.FS, pkg string, targets []domain.Target, defs []domain.BuilderDefinition, generated GeneratedProbe) (*Graph, error) {
	g := New(pkg)

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		paths, err := expandSources(fsys, target.Sources)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			id := domain.NewAssetID(pkg, p)
			if machineWritten(fsys, p) || (generated != nil && generated(id)) {
				continue
			}
			g.addSource(id, target.Name)
		}
	}

	targetsByName := make(map[string]domain.Target, len(targets))
	for _, t := range targets {
		targetsByName[t.Name] = t
	}

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Snapshot before this builder runs, so a builder never consumes
		// its own outputs.
		candidates := g.Nodes()

		for _, node := range candidates {
			target := targetsByName[g.TargetOf(node.ID)]
			ok, err := builderAccepts(def, target, node.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if err := g.addAction(def, node.ID); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

// builderAccepts applies the input-extension and generate_for filters: a
// builder only receives primary inputs matching its glob; everything else
// is skipped without invoking the builder.
func builderAccepts(def domain.BuilderDefinition, target domain.Target, id domain.AssetID) (bool, error) {
	if !strings.HasSuffix(id.Path, def.InputExtension) {
		return false, nil
	}
	if !target.BuilderEnabled(def.Key) {
		return false, nil
	}

	globs := def.GenerateFor
	if override := target.GenerateForOverride(def.Key); override != nil {
		globs = override
	}
	if len(globs) == 0 {
		return true, nil
	}
	for _, glob := range globs {
		match, err := doublestar.Match(glob, id.Path)
		if err != nil {
			return false, domain.NewConfigErrorf("builder %s: malformed generate_for glob %q", def.Key, glob)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// expandSources resolves a target's include globs against the file system,
// applies excludes and the swap-file heuristics, and returns a sorted path
// list.
func expandSources(fsys fs.FS, sources domain.SourceSet) ([]string, error) {
	seen := make(map[string]struct{})

	for _, glob := range sources.Include {
		matches, err := doublestar.Glob(fsys, glob, doublestar.WithFilesOnly())
		if err != nil {
			return nil, domain.NewConfigErrorf("malformed source glob %q: %v", glob, err)
		}
	match:
		for _, m := range matches {
			if TransientArtifact(m) {
				continue
			}
			for _, ex := range sources.Exclude {
				excluded, err := doublestar.Match(ex, m)
				if err != nil {
					return nil, domain.NewConfigErrorf("malformed exclude glob %q: %v", ex, err)
				}
				if excluded {
					continue match
				}
			}
			seen[m] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// machineWritten reports whether the file at p carries the generated-file
// marker. Unreadable files count as hand-written; a genuinely broken
// source surfaces later, when its digest is loaded.
func machineWritten(fsys fs.FS, p string) bool {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(domain.GeneratedMarker))
}

// TransientArtifact reports whether a path looks like an editor swap or
// temp file. These must never enter the graph: they appear and vanish
// mid-build and would otherwise surface as spurious asset-not-found
// errors. The heuristic covers the common cases (vim, emacs, generic temp
// files) and can never be exhaustive.
func TransientArtifact(p string) bool {
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swo"),
		strings.HasSuffix(base, ".swx"),
		strings.HasSuffix(base, ".tmp"),
		strings.HasPrefix(base, ".#"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"),
		base == "4913", // vim write-test file
		base == ".DS_Store":
		return true
	default:
		return false
	}
}
