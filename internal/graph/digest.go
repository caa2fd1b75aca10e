package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
)

// HashBytes returns the content digest in "sha256:<hex>" form.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// LoadSourceDigests reads every source asset from fsys and records its
// current content digest on the node. Generated nodes keep whatever digest
// the last build pass committed.
func (g *Graph) LoadSourceDigests(fsys fs.FS) error {
	for _, n := range g.Nodes() {
		if n.Generated {
			continue
		}
		data, err := fs.ReadFile(fsys, n.ID.Path)
		if err != nil {
			return fmt.Errorf("digesting %s: %w", n.ID, err)
		}
		n.Digest = HashBytes(data)
	}
	return nil
}
