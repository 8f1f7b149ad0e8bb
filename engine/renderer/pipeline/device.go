// Package pipeline turns pipeline descriptors into GPU pipeline instances
// bound to render target generations, and defers their destruction until
// no frame in flight can still reference them.
package pipeline

import (
	"context"

	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

// Handle is an opaque backend pipeline object.
type Handle interface{}

// Device builds and destroys backend pipelines. CreatePipeline may block;
// it must give up when ctx is cancelled. DestroyPipeline is only called
// once no submitted frame references the handle.
type Device interface {
	CreatePipeline(ctx context.Context, descriptor *metadata.PipelineDescriptor, config metadata.TargetConfig) (Handle, error)
	DestroyPipeline(handle Handle)
}
