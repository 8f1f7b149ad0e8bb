package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/anima-gfx/engine/core"
)

// BuildError reports a failed device build. It matches core.ErrBuild and
// the device error it wraps.
type BuildError struct {
	Key        Key
	Name       string
	Generation uint64
	// Attempt counts consecutive failures for Key, starting at 1.
	Attempt int
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building pipeline %q for generation %d (attempt %d): %s", e.Name, e.Generation, e.Attempt, e.Err)
}

func (e *BuildError) Unwrap() []error {
	return []error{core.ErrBuild, e.Err}
}

// BuildEvent is the payload of the pipeline rebuilt and build failed events.
type BuildEvent struct {
	Name       string
	Key        Key
	Generation uint64
	Version    uint64
	Err        error
}

func teardownError(name string, k Key) error {
	return fmt.Errorf("pipeline %q on target %s: %w", name, k.Target, core.ErrTeardownRace)
}
