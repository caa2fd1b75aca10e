package domain

import "fmt"

// ActionStatus is the lifecycle state of a builder action.
type ActionStatus int

const (
	ActionPending ActionStatus = iota
	ActionRunning
	ActionSucceeded
	ActionFailed
	// ActionCached means the action was skipped because its inputs were
	// unchanged since the last recorded run. A cached action may still
	// represent a prior failure; see Node.Failure.
	ActionCached
	// ActionBlocked means an upstream action failed; the action was
	// skipped rather than executed with partial inputs.
	ActionBlocked
)

func (s ActionStatus) String() string {
	switch s {
	case ActionPending:
		return "pending"
	case ActionRunning:
		return "running"
	case ActionSucceeded:
		return "succeeded"
	case ActionFailed:
		return "failed"
	case ActionCached:
		return "cached"
	case ActionBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("ActionStatus(%d)", int(s))
	}
}

// Terminal reports whether the status is final for a build pass.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionSucceeded, ActionFailed, ActionCached, ActionBlocked:
		return true
	default:
		return false
	}
}

// Action is one (builder, primary input) pairing. Its output set is fixed
// at discovery time.
type Action struct {
	BuilderKey string
	Input      AssetID
	Outputs    []AssetID
	Status     ActionStatus
}

// ActionID is the stable identity of an action within a graph.
type ActionID string

// ID derives the action's identity from its builder key and primary input.
func (a *Action) ID() ActionID {
	return ActionID(a.BuilderKey + "|" + a.Input.String())
}

func (id ActionID) String() string { return string(id) }
