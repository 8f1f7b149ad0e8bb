// Package target adapts presentable surfaces to the pipeline cache: each
// target exposes its current configuration and a generation counter that
// moves exactly once per reconfiguration.
package target

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

// RenderTarget is what the pipeline cache needs from a surface.
type RenderTarget interface {
	ID() uuid.UUID
	Name() string
	// CurrentGeneration starts at 1 and increases by one per reconfiguration.
	CurrentGeneration() uint64
	Describe() metadata.TargetConfig
	// Snapshot reads the configuration and its generation atomically.
	Snapshot() (metadata.TargetConfig, uint64)
	// Done is closed when the target is torn down.
	Done() <-chan struct{}
}
