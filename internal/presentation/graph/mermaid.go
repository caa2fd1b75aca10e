// Package graph renders the discovered asset graph for the graph command.
package graph

import (
	"fmt"
	"strings"

	buildgraph "github.com/kilnbuild/kiln/internal/graph"
	"github.com/kilnbuild/kiln/pkg/domain"
)

// GenerateMermaid produces a Mermaid flowchart of the asset graph.
// Semantic styling:
//   - hand-written sources: [Rectangle]
//   - generated assets: [[Subroutine]]
//   - edges labeled with the producing builder key
//
// Failed and blocked assets get overlay classes so a rendered graph shows
// at a glance where the last build stopped.
func GenerateMermaid(g *buildgraph.Graph) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range g.Nodes() {
		safeID := sanitizeMermaidID(node.ID.Path)

		opener, closer := "[", "]"
		if node.Generated {
			opener, closer = "[[", "]]"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, node.ID.Path, closer))
	}

	for _, action := range g.Actions() {
		safeFrom := sanitizeMermaidID(action.Input.Path)
		for _, out := range action.Outputs {
			sb.WriteString(fmt.Sprintf("    %s -- \"%s\" --> %s\n",
				safeFrom, action.BuilderKey, sanitizeMermaidID(out.Path)))
		}
	}

	var failed, blocked []string
	for _, node := range g.Nodes() {
		switch node.LastStatus {
		case domain.ActionFailed:
			failed = append(failed, sanitizeMermaidID(node.ID.Path))
		case domain.ActionBlocked:
			blocked = append(blocked, sanitizeMermaidID(node.ID.Path))
		}
	}
	if len(failed) > 0 || len(blocked) > 0 {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text for high contrast regardless of theme.
		sb.WriteString("    classDef failed fill:#fecaca,stroke:#b91c1c,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef blocked fill:#fde68a,stroke:#b45309,stroke-width:2px,color:#000;\n")
		for _, id := range failed {
			sb.WriteString(fmt.Sprintf("    class %s failed;\n", id))
		}
		for _, id := range blocked {
			sb.WriteString(fmt.Sprintf("    class %s blocked;\n", id))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
