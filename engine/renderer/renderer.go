package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/target"
	"github.com/spaghettifunk/anima-gfx/engine/systems"
)

const DefaultMaxBuildFailures = 3

var ErrUnknownPipeline = errors.New("unknown pipeline")

type Options struct {
	// MaxBuildFailures is how many consecutive failed builds of one pipeline
	// are skipped before DrawFrame returns the error.
	MaxBuildFailures int
	// Workers used to prewarm pipelines.
	Workers int
	Events  *core.EventSystem
	// WindowMode the platform window starts in.
	WindowMode metadata.WindowMode
}

type pendingRelease struct {
	descriptor *metadata.PipelineDescriptor
	epoch      uint64
}

// Renderer drives one window target through the pipeline cache.
type Renderer struct {
	backend          RendererBackend
	events           *core.EventSystem
	cache            *pipeline.Cache
	jobs             *systems.JobSystem
	workers          int
	maxBuildFailures int

	window *target.Window

	// set while the swapchain has to be recreated before the next frame
	resizePending bool
	pendingExtent metadata.Extent2D
	windowMode    metadata.WindowMode

	mu        sync.RWMutex
	pipelines map[string]*metadata.PipelineDescriptor
	order     []string
	releases  []pendingRelease
}

func New(backend RendererBackend, opts Options) *Renderer {
	if opts.MaxBuildFailures <= 0 {
		opts.MaxBuildFailures = DefaultMaxBuildFailures
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Events == nil {
		opts.Events = core.DefaultEventSystem()
	}
	return &Renderer{
		backend:          backend,
		events:           opts.Events,
		cache:            pipeline.NewCache(backend.Device(), pipeline.WithEventSystem(opts.Events)),
		workers:          opts.Workers,
		maxBuildFailures: opts.MaxBuildFailures,
		windowMode:       opts.WindowMode,
		pipelines:        make(map[string]*metadata.PipelineDescriptor),
	}
}

func (r *Renderer) Initialize(appName string, appWidth, appHeight uint32) error {
	config, err := r.backend.Initialize(appName, appWidth, appHeight)
	if err != nil {
		return err
	}
	jobs, err := systems.NewJobSystem(r.workers, 16)
	if err != nil {
		return err
	}
	r.jobs = jobs
	config.Mode = r.windowMode
	r.window = target.NewWindow(appName, config)
	r.events.Register(core.EVENT_CODE_RESIZED, r, r.onResized)
	r.events.Register(core.EVENT_CODE_WINDOW_MODE_CHANGED, r, r.onWindowModeChanged)
	core.LogInfo("renderer initialized for %s", config)
	return nil
}

func (r *Renderer) onResized(ctx core.EventContext) bool {
	ev, ok := ctx.Data.(core.ResizeEvent)
	if !ok || r.window == nil {
		return false
	}
	r.window.RequestResize(metadata.Extent2D{Width: ev.Width, Height: ev.Height})
	// other listeners may want the size too
	return false
}

// A mode switch recreates the swapchain and bumps the target generation
// even when the framebuffer size stays the same.
func (r *Renderer) onWindowModeChanged(ctx core.EventContext) bool {
	mode, ok := ctx.Data.(metadata.WindowMode)
	if !ok || r.window == nil {
		return false
	}
	r.windowMode = mode
	r.scheduleRecreate()
	return false
}

func (r *Renderer) Window() *target.Window { return r.window }

func (r *Renderer) Backend() RendererBackend { return r.backend }

func (r *Renderer) Stats() pipeline.Stats { return r.cache.Stats() }

// RegisterPipeline adds descriptor under its name. A descriptor already
// registered under that name is evicted from the cache and released once
// no frame or build can still use it. The renderer owns descriptor from
// now on.
func (r *Renderer) RegisterPipeline(descriptor *metadata.PipelineDescriptor) (replaced bool, err error) {
	name := descriptor.Name()
	if name == "" {
		return false, fmt.Errorf("%w: pipeline descriptor has no name", core.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.pipelines[name]
	if !ok {
		r.order = append(r.order, name)
	} else if old != descriptor {
		r.retireDescriptorLocked(old)
	}
	r.pipelines[name] = descriptor
	core.LogInfo("pipeline %q registered (key %s)", name, descriptor.Key())
	return ok, nil
}

func (r *Renderer) UnregisterPipeline(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.pipelines[name]
	if !ok {
		return false
	}
	delete(r.pipelines, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.retireDescriptorLocked(old)
	return true
}

func (r *Renderer) retireDescriptorLocked(descriptor *metadata.PipelineDescriptor) {
	n := r.cache.Evict(descriptor)
	r.releases = append(r.releases, pendingRelease{descriptor: descriptor, epoch: r.cache.Epoch()})
	core.LogDebug("pipeline %q superseded, %d instances retired", descriptor.Name(), n)
}

// releaseCompleted drops descriptors whose last epoch is done and which no
// abandoned build still reads.
func (r *Renderer) releaseCompleted(completed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.releases[:0]
	for _, p := range r.releases {
		if p.epoch <= completed && !r.cache.Building(p.descriptor) {
			p.descriptor.Release()
			continue
		}
		kept = append(kept, p)
	}
	r.releases = kept
}

func (r *Renderer) Pipeline(name string) (*metadata.PipelineDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.pipelines[name]
	return d, ok
}

// Pipelines lists registered names in registration order.
func (r *Renderer) Pipelines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Prewarm builds every registered pipeline for the window in parallel and
// waits for all of them.
func (r *Renderer) Prewarm(ctx context.Context) error {
	var mu sync.Mutex
	var errs []error
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, name := range r.Pipelines() {
		descriptor, ok := r.Pipeline(name)
		if !ok {
			continue
		}
		err := r.jobs.Submit(systems.JobTask{
			Name: "prewarm " + name,
			Run: func(context.Context) error {
				_, err := r.cache.GetOrBuild(ctx, descriptor, r.window)
				return err
			},
			OnFailure: record,
		})
		if err != nil {
			record(err)
		}
	}
	r.jobs.Wait()
	return errors.Join(errs...)
}

// DrawFrame renders one packet. A minimised window or a swapchain that has
// to be recreated skips the frame without error.
func (r *Renderer) DrawFrame(ctx context.Context, packet *metadata.RenderPacket) error {
	if extent, ok := r.window.TakePendingResize(); ok {
		r.resizePending = true
		r.pendingExtent = extent
	}
	if r.resizePending {
		if r.pendingExtent.IsZero() {
			return nil
		}
		if err := r.recreate(r.pendingExtent); err != nil {
			return err
		}
	}

	epoch := r.cache.AdvanceEpoch()
	completed, err := r.backend.BeginFrame(epoch)
	r.cache.RetireEpoch(completed)
	r.releaseCompleted(completed)
	if errors.Is(err, core.ErrSwapchainBooting) {
		r.scheduleRecreate()
		return nil
	}
	if err != nil {
		return err
	}

	frameErr := r.drawSubmissions(ctx, packet)

	if err := r.backend.EndFrame(); err != nil {
		if !errors.Is(err, core.ErrSwapchainBooting) {
			return errors.Join(frameErr, err)
		}
		r.scheduleRecreate()
	}
	return frameErr
}

func (r *Renderer) drawSubmissions(ctx context.Context, packet *metadata.RenderPacket) error {
	if packet == nil {
		return nil
	}
	for _, sub := range packet.Submissions {
		descriptor, ok := r.Pipeline(sub.Pipeline)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPipeline, sub.Pipeline)
		}

		if err := sub.Call.Validate(descriptor.Layout()); err != nil {
			return fmt.Errorf("pipeline %q: %w", sub.Pipeline, err)
		}

		inst, err := r.cache.GetOrBuild(ctx, descriptor, r.window)
		if err != nil {
			var buildErr *pipeline.BuildError
			if errors.As(err, &buildErr) && buildErr.Attempt < r.maxBuildFailures {
				core.LogWarn("skipping draw with pipeline %q: %s", sub.Pipeline, err)
				continue
			}
			return err
		}
		if err := inst.Check(); err != nil {
			return err
		}
		if err := r.backend.Draw(inst, sub.Call); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) scheduleRecreate() {
	r.resizePending = true
	r.pendingExtent = r.window.Describe().Extent
}

func (r *Renderer) recreate(extent metadata.Extent2D) error {
	config, err := r.backend.Resized(extent.Width, extent.Height)
	if err != nil {
		return err
	}
	r.resizePending = false
	config.Mode = r.windowMode
	if r.window.Reconfigure(config) {
		core.LogInfo("window target now at generation %d (%s)", r.window.CurrentGeneration(), config)
	}
	return nil
}

// CreateShaderModule hands SPIR-V to the backend.
func (r *Renderer) CreateShaderModule(name string, code []byte, entryPoints []string) (metadata.ShaderModule, error) {
	return r.backend.ShaderModuleCreate(name, code, entryPoints)
}

func (r *Renderer) CreateGeometry(name string, vertexSize, vertexCount uint32, vertices []byte) (*metadata.Geometry, error) {
	return r.backend.GeometryCreate(name, vertexSize, vertexCount, vertices)
}

func (r *Renderer) DestroyGeometry(geometry *metadata.Geometry) {
	r.backend.GeometryDestroy(geometry)
}

// Shutdown waits for the GPU, destroys every pipeline and releases every
// descriptor before shutting the backend down.
func (r *Renderer) Shutdown() error {
	r.events.Unregister(core.EVENT_CODE_RESIZED, r)
	r.events.Unregister(core.EVENT_CODE_WINDOW_MODE_CHANGED, r)

	var errs []error
	if r.window != nil {
		if err := r.backend.WaitIdle(); err != nil {
			errs = append(errs, err)
		}
	}
	r.cache.Shutdown()

	r.mu.Lock()
	for _, p := range r.releases {
		p.descriptor.Release()
	}
	r.releases = nil
	for _, name := range r.order {
		r.pipelines[name].Release()
	}
	r.pipelines = make(map[string]*metadata.PipelineDescriptor)
	r.order = nil
	r.mu.Unlock()

	if r.window != nil {
		r.window.Teardown()
	}
	if r.jobs != nil {
		r.jobs.Shutdown()
	}
	if err := r.backend.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
