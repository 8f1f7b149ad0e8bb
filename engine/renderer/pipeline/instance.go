package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

// Key identifies a cache entry: one descriptor on one render target.
type Key struct {
	Descriptor metadata.DescriptorKey
	Target     uuid.UUID
}

func (k Key) String() string {
	return k.Target.String() + "/" + string(k.Descriptor)
}

// Instance is a built pipeline for one target generation. It is immutable;
// a changed target produces a new Instance with a higher Version.
type Instance struct {
	handle     Handle
	generation uint64
	version    uint64
	descriptor *metadata.PipelineDescriptor
	config     metadata.TargetConfig
	key        Key
	targetDone <-chan struct{}

	// guarded by the owning cache's mutex
	lastUsed uint64

	destroyed atomic.Bool
}

func (i *Instance) Handle() Handle {
	return i.handle
}

func (i *Instance) BuiltForGeneration() uint64 {
	return i.generation
}

// Version increases by one per build of the same key.
func (i *Instance) Version() uint64 {
	return i.version
}

func (i *Instance) Descriptor() *metadata.PipelineDescriptor {
	return i.descriptor
}

func (i *Instance) Config() metadata.TargetConfig {
	return i.config
}

// Target is the ID of the render target the instance was built for.
func (i *Instance) Target() uuid.UUID {
	return i.key.Target
}

func (i *Instance) Key() Key {
	return i.key
}

// Check reports core.ErrTeardownRace once the instance's target is gone or
// the instance has been destroyed. Recording with a failing instance is a
// programming error.
func (i *Instance) Check() error {
	if i.destroyed.Load() {
		return fmt.Errorf("pipeline %q version %d already destroyed: %w", i.descriptor.Name(), i.version, core.ErrTeardownRace)
	}
	select {
	case <-i.targetDone:
		return teardownError(i.descriptor.Name(), i.key)
	default:
		return nil
	}
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s v%d gen %d", i.descriptor.Name(), i.version, i.generation)
}
