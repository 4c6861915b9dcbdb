package plugin

import (
	"errors"
	"fmt"
)

// Stage names the step of the load pipeline that failed.
type Stage string

const (
	StageManifest  Stage = "manifest"
	StageApproval  Stage = "approval"
	StagePolicy    Stage = "policy"
	StageSandbox   Stage = "sandbox"
	StageSpawn     Stage = "spawn"
	StageHandshake Stage = "handshake"
)

var (
	// ErrNotApproved is returned when a plugin without a current approval
	// would be started.
	ErrNotApproved = errors.New("plugin is not approved")

	// ErrUnknownPlugin is returned for an id that no discovered plugin has.
	ErrUnknownPlugin = errors.New("unknown plugin")
)

// LoadError reports why a plugin could not be loaded. A plugin that fails
// any stage contributes no tools.
type LoadError struct {
	PluginID string
	// Dir is set when the manifest could not be read and no id is known.
	Dir   string
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	who := e.PluginID
	if who == "" {
		who = e.Dir
	}
	return fmt.Sprintf("loading plugin %q: %s: %v", who, e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Err
}
