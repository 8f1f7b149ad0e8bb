package target

import (
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

// Window is the render target of a window surface and its swapchain.
type Window struct {
	id   uuid.UUID
	name string

	mu         sync.RWMutex
	config     metadata.TargetConfig
	generation uint64
	pending    *metadata.Extent2D
	destroyed  bool

	done chan struct{}
}

func NewWindow(name string, config metadata.TargetConfig) *Window {
	w := &Window{
		name:       name,
		config:     config,
		generation: 1,
		done:       make(chan struct{}),
	}
	w.id = core.IdentifierAquireNewID(w)
	return w
}

func (w *Window) ID() uuid.UUID {
	return w.id
}

func (w *Window) Name() string {
	return w.name
}

func (w *Window) CurrentGeneration() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.generation
}

func (w *Window) Describe() metadata.TargetConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *Window) Snapshot() (metadata.TargetConfig, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config, w.generation
}

func (w *Window) Done() <-chan struct{} {
	return w.done
}

// Reconfigure installs the configuration of a recreated swapchain and bumps
// the generation once. An identical configuration, or a torn down target,
// leaves the generation alone and returns false.
func (w *Window) Reconfigure(config metadata.TargetConfig) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed || config == w.config {
		return false
	}
	w.config = config
	w.generation++
	core.LogDebug("render target %s reconfigured to %s (generation %d)", w.name, config, w.generation)
	return true
}

// RequestResize records a surface size reported by the platform. Repeated
// requests before TakePendingResize coalesce into the last one.
func (w *Window) RequestResize(extent metadata.Extent2D) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return
	}
	w.pending = &extent
}

// TakePendingResize returns and clears the last requested size, if any.
func (w *Window) TakePendingResize() (metadata.Extent2D, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return metadata.Extent2D{}, false
	}
	extent := *w.pending
	w.pending = nil
	return extent, true
}

func (w *Window) Destroyed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.destroyed
}

// Teardown closes Done and releases the target identifier. Safe to call more
// than once.
func (w *Window) Teardown() {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.destroyed = true
	w.pending = nil
	w.mu.Unlock()

	close(w.done)
	if err := core.IdentifierReleaseID(w.id); err != nil {
		core.LogWarn("render target %s: %s", w.name, err)
	}
}
