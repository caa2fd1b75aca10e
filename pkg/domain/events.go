package domain

import (
	"context"
	"time"
)

// ActionEvent describes one action's execution for observability hooks.
type ActionEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	ActionID  ActionID      `json:"action_id"`
	Builder   string        `json:"builder"`
	Input     AssetID       `json:"input"`
	Status    ActionStatus  `json:"status"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// BuildEvent describes the start or end of a whole build pass.
type BuildEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Mode      BuildMode     `json:"mode"`
	Actions   int           `json:"actions"`
	Duration  time.Duration `json:"duration,omitempty"`
	Failed    int           `json:"failed,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability. All hooks are
// optional and must be non-blocking; they are invoked synchronously on the
// executing goroutine.
type LifecycleHooks struct {
	OnBuildStart  func(context.Context, *BuildEvent)
	OnBuildEnd    func(context.Context, *BuildEvent)
	OnActionStart func(context.Context, *ActionEvent)
	OnActionEnd   func(context.Context, *ActionEvent)
}
