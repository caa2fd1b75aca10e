// Package router places generated assets into their destinations: the
// cache store always, the source tree for build_to source builders, and
// merged output directories on demand.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/kilnbuild/kiln/internal/graph"
	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
)

// GeneratedMarker flags a file as machine-written. Its presence is what
// allows the router to overwrite a file on a later pass; a conflicting
// hand-written file never carries it.
const GeneratedMarker = domain.GeneratedMarker

// Router routes builder outputs. Zero-value fields are not usable; build
// one with New.
type Router struct {
	store  ports.CacheStore
	graph  *graph.Graph
	root   string
	fsys   fs.FS
	logger *slog.Logger
}

// New creates a router writing source outputs under root. The graph is
// consulted for ownership when merging output directories.
func New(store ports.CacheStore, g *graph.Graph, root string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		graph:  g,
		root:   root,
		fsys:   os.DirFS(root),
		logger: logger,
	}
}

// Route commits one generated asset. Cache outputs land in the store only;
// source outputs are additionally written next to hand-written files, with
// a do-not-edit header so both copies carry the marker. It returns the
// digest of the stored content.
func (r *Router) Route(ctx context.Context, id domain.AssetID, data []byte, buildTo domain.BuildTo) (string, error) {
	if buildTo == domain.BuildToSource {
		data = withHeader(id.Path, data)
	}

	digest := graph.HashBytes(data)
	if err := r.store.Put(ctx, id, data, digest); err != nil {
		return "", fmt.Errorf("storing %s: %w", id, err)
	}

	if buildTo == domain.BuildToSource {
		if err := r.writeSource(id, data); err != nil {
			return "", err
		}
	}
	return digest, nil
}

// writeSource places a generated file into the source tree. An existing
// file without the generated marker is hand-written and must not be
// clobbered.
func (r *Router) writeSource(id domain.AssetID, data []byte) error {
	dest := filepath.Join(r.root, filepath.FromSlash(id.Path))

	if existing, err := os.ReadFile(dest); err == nil {
		if !bytes.Contains(existing, []byte(GeneratedMarker)) {
			return &domain.ConflictError{
				Asset:     id,
				Producers: []string{"source"},
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking %s: %w", dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("ensuring directory for %s: %w", id, err)
	}
	if err := renameio.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	r.logger.Debug("wrote source output", "asset", id.String())
	return nil
}

// MergeTo copies the merged build view into destDir: hand-written sources
// from the project tree plus generated outputs from the store. subdir, when
// non-empty, restricts the copy to that source subtree and re-roots it at
// destDir. Only graph-tracked assets are written, so files already present
// in destDir that the graph does not know about are left alone.
func (r *Router) MergeTo(ctx context.Context, destDir, subdir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	written := 0
	for _, node := range r.graph.Nodes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := node.ID.Path
		if subdir != "" {
			if !strings.HasPrefix(rel, subdir+"/") {
				continue
			}
			rel = strings.TrimPrefix(rel, subdir+"/")
		}

		data, ok, err := r.contentOf(ctx, node)
		if err != nil {
			return err
		}
		if !ok {
			// Declared but never built (failed or blocked producer).
			continue
		}

		dest := filepath.Join(destDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating output dir for %s: %w", rel, err)
		}
		if err := renameio.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("copying %s: %w", rel, err)
		}
		written++
	}

	r.logger.Info("merged output written", "dir", destDir, "files", written)
	return nil
}

func (r *Router) contentOf(ctx context.Context, node *domain.Node) ([]byte, bool, error) {
	if node.Generated {
		data, ok, err := r.store.Get(ctx, node.ID)
		if err != nil {
			return nil, false, fmt.Errorf("reading %s from store: %w", node.ID, err)
		}
		return data, ok, nil
	}
	data, err := fs.ReadFile(r.fsys, node.ID.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading source %s: %w", node.ID, err)
	}
	return data, true, nil
}

// withHeader prepends the do-not-edit marker using a comment leader chosen
// by extension. Formats without comments (json and friends) ship bare, and
// content already carrying the marker is left untouched.
func withHeader(p string, data []byte) []byte {
	if bytes.Contains(data, []byte(GeneratedMarker)) {
		return data
	}

	var header string
	switch strings.ToLower(path.Ext(p)) {
	case ".dart", ".go", ".js", ".ts", ".tsx", ".jsx", ".css":
		header = "// " + GeneratedMarker + "\n\n"
	case ".yaml", ".yml", ".sh", ".py":
		header = "# " + GeneratedMarker + "\n\n"
	case ".html", ".htm", ".xml", ".md":
		header = "<!-- " + GeneratedMarker + " -->\n\n"
	default:
		return data
	}
	return append([]byte(header), data...)
}
