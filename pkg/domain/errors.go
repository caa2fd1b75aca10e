package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAssetNotFound is returned when a requested asset is absent from the
// graph. This can be a transient editor-swap-file artifact; discovery
// excludes known swap-file patterns, but the error can never be fully
// eliminated.
var ErrAssetNotFound = errors.New("asset not found in graph")

// ConfigError reports an unresolvable option, malformed glob, or otherwise
// invalid configuration. It is fatal to the whole build and is surfaced
// before any action runs.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Detail
}

// NewConfigErrorf builds a ConfigError with a formatted detail message.
func NewConfigErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Detail: fmt.Sprintf(format, args...)}
}

// ConflictError reports two producers declared for the same AssetID, or a
// source-mode output colliding with a hand-written file. Fatal pre-run.
type ConflictError struct {
	Asset AssetID
	// Producers names the conflicting builder keys. A hand-written file is
	// represented as "source".
	Producers []string
	// Input is the shared primary input when both producers derive from
	// one, zero otherwise.
	Input AssetID
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("conflicting outputs: %s produced by %s",
		e.Asset, strings.Join(e.Producers, " and "))
	if !e.Input.IsZero() {
		msg += fmt.Sprintf(" for input %s", e.Input)
	}
	return msg
}

// ActionError reports a failed builder invocation. It is local: recorded
// against the node, reprinted on later no-op rebuilds, and never aborts
// independent actions. The overall process exit code still ends non-zero.
type ActionError struct {
	ActionID ActionID
	Err      error
	Output   string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.ActionID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// FatalConfiguration reports whether err must stop the build before any
// action runs (ConfigError or ConflictError).
func FatalConfiguration(err error) bool {
	var ce *ConfigError
	var fe *ConflictError
	return errors.As(err, &ce) || errors.As(err, &fe)
}
