package domain

import (
	"fmt"
	"path"
	"strings"
)

// AssetID identifies a logical file known to the build: a (package, path)
// pair. Path is always slash-separated and relative to the package root.
// AssetID is an immutable value type and is used as a map key throughout
// the engine.
type AssetID struct {
	Package string
	Path    string
}

// NewAssetID creates an AssetID, normalizing the path to slash form.
func NewAssetID(pkg, p string) AssetID {
	return AssetID{Package: pkg, Path: path.Clean(strings.ReplaceAll(p, "\\", "/"))}
}

// ParseAssetID parses the "package|path" form produced by String.
func ParseAssetID(s string) (AssetID, error) {
	pkg, p, ok := strings.Cut(s, "|")
	if !ok || pkg == "" || p == "" {
		return AssetID{}, fmt.Errorf("invalid asset id %q: want package|path", s)
	}
	return NewAssetID(pkg, p), nil
}

// String renders the canonical "package|path" form.
func (id AssetID) String() string {
	return id.Package + "|" + id.Path
}

// Extension returns the file extension of the asset path, including the
// leading dot. Multi-part extensions like ".g.dart" are not collapsed;
// callers that care about them match on path suffixes instead.
func (id AssetID) Extension() string {
	return path.Ext(id.Path)
}

// ChangeExtension returns a copy of the id with ext replacing the current
// extension. ext must include the leading dot.
func (id AssetID) ChangeExtension(ext string) AssetID {
	base := strings.TrimSuffix(id.Path, path.Ext(id.Path))
	return AssetID{Package: id.Package, Path: base + ext}
}

// IsZero reports whether the id is the zero value.
func (id AssetID) IsZero() bool {
	return id.Package == "" && id.Path == ""
}
