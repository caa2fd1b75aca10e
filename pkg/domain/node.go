package domain

import "time"

// GeneratedMarker flags a file as machine-written. The router writes it
// into every build-to-source output; discovery and the conflict check
// treat any file carrying it as builder-owned, never hand-written.
const GeneratedMarker = "GENERATED CODE - DO NOT MODIFY BY HAND"

// FailureRecord preserves the diagnostics of a failed action so they can be
// replayed on later builds without re-running the builder.
type FailureRecord struct {
	ActionID   ActionID  `json:"action_id"`
	Message    string    `json:"message"`
	Output     string    `json:"output,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Node is one asset in the graph: a hand-written source or a declared
// builder output, together with its last known digest and build status.
type Node struct {
	ID AssetID

	// Generated is true for builder outputs, false for hand-written sources.
	Generated bool

	// ProducedBy is the producing action's ID; empty for sources. Exactly
	// one action may produce a node: the graph enforces this at discovery.
	ProducedBy ActionID

	// Digest is the content digest ("sha256:<hex>") as of the latest build
	// pass; empty when the asset has never been read or built.
	Digest string

	// LastStatus is the terminal status of the producing action on the
	// most recent pass. Sources stay ActionSucceeded once discovered.
	LastStatus ActionStatus

	// Failure holds the recorded diagnostics when LastStatus is
	// ActionFailed, for replay on no-op rebuilds.
	Failure *FailureRecord
}

// Source reports whether the node is a hand-written source file.
func (n *Node) Source() bool { return !n.Generated }
