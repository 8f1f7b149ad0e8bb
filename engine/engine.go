package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-gfx/engine/assets"
	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/platform"
	"github.com/spaghettifunk/anima-gfx/engine/renderer"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const (
	// pending asset changes between two frames
	assetQueueSize = 64
	suspendedPoll  = 10 * time.Millisecond
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *ApplicationConfig

	events       *core.EventSystem
	platform     *platform.Platform
	assetManager *assets.AssetManager
	renderer     *renderer.Renderer
	library      *pipelineLibrary

	clock   *core.Clock
	metrics *core.FrameMetrics

	isRunning   bool
	isSuspended bool
	lastTime    float64
	lastReport  float64

	// filled from the asset watcher goroutine, drained by the frame loop
	assetChanges chan core.AssetEvent
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.FnRender == nil {
		return nil, fmt.Errorf("%w: game has no render callback", core.ErrValidation)
	}
	config := g.ApplicationConfig
	if config == nil {
		config = DefaultApplicationConfig()
		g.ApplicationConfig = config
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(config.LogLevel); err != nil {
		return nil, fmt.Errorf("%w: log level: %w", core.ErrValidation, err)
	}

	es := core.DefaultEventSystem()
	p := platform.New(es)
	backend, err := renderer.NewBackend(renderer.Vulkan, p, vulkan.Options{
		GPUIndex:       config.GPUIndex,
		FramesInFlight: config.FramesInFlight,
		VSync:          config.VSync,
		Debug:          config.Debug,
	})
	if err != nil {
		return nil, err
	}
	r := renderer.New(backend, renderer.Options{
		MaxBuildFailures: config.MaxBuildFailures,
		Events:           es,
		WindowMode:       config.WindowMode,
	})
	return newEngine(g, es, p, assets.NewAssetManager(es), r), nil
}

func newEngine(g *Game, es *core.EventSystem, p *platform.Platform, am *assets.AssetManager, r *renderer.Renderer) *Engine {
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.ApplicationConfig,
		events:       es,
		platform:     p,
		assetManager: am,
		renderer:     r,
		library:      newPipelineLibrary(am, r),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		assetChanges: make(chan core.AssetEvent, assetQueueSize),
	}
}

func (e *Engine) Initialize(ctx context.Context) error {
	e.currentStage = EngineStageInitializing
	cfg := e.config

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onQuit)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.events.Register(core.EVENT_CODE_ASSET_CHANGED, e, e.onAssetChanged)

	if err := e.platform.Startup(cfg.Name, cfg.StartPosX, cfg.StartPosY, cfg.StartWidth, cfg.StartHeight, cfg.WindowMode); err != nil {
		return err
	}
	w, h := e.platform.FramebufferSize()
	if err := e.renderer.Initialize(cfg.Name, w, h); err != nil {
		return err
	}
	return e.initializeContent(ctx)
}

// initializeContent is the part of start-up that needs no window.
func (e *Engine) initializeContent(ctx context.Context) error {
	if err := e.assetManager.Initialize(e.config.AssetsDir, e.config.HotReload); err != nil {
		return err
	}
	if err := e.library.LoadAll(); err != nil {
		return err
	}
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.renderer); err != nil {
			return err
		}
	}
	if err := e.renderer.Prewarm(ctx); err != nil {
		// a pipeline that does not build now is retried every frame
		core.LogWarn("prewarming pipelines: %s", err)
	}
	core.LogInfo("engine initialized with pipelines %v", e.renderer.Pipelines())

	e.isRunning = true
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives frames until the window closes, a quit event arrives or ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var runningTime float64
	for e.isRunning {
		if err := ctx.Err(); err != nil {
			core.LogInfo("context done, leaving the frame loop")
			break
		}
		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			break
		}
		if e.isSuspended {
			time.Sleep(suspendedPoll)
			continue
		}
		frameStartTime := e.platform.GetAbsoluteTime()
		if err := e.drawFrame(ctx); err != nil {
			return err
		}
		e.metrics.Update(e.platform.GetAbsoluteTime() - frameStartTime)
		runningTime = e.clock.Elapsed()
	}
	core.LogInfo("ran for %.1fs", runningTime)
	return nil
}

// drawFrame applies queued asset changes, then updates and renders the game
// once.
func (e *Engine) drawFrame(ctx context.Context) error {
	e.processAssetChanges()

	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	packet := &metadata.RenderPacket{DeltaTime: delta}
	if err := e.gameInstance.FnRender(packet, delta); err != nil {
		return fmt.Errorf("game render: %w", err)
	}
	if err := e.renderer.DrawFrame(ctx, packet); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if currentTime-e.lastReport >= 1 {
		fps, ms := e.metrics.Frame()
		core.LogDebug("%.0f fps, %.2fms/frame, pipelines %+v", fps, ms, e.renderer.Stats())
		e.lastReport = currentTime
	}
	e.lastTime = currentTime
	return nil
}

func (e *Engine) processAssetChanges() {
	for {
		select {
		case ev := <-e.assetChanges:
			e.library.AssetChanged(ev)
		default:
			return
		}
	}
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.events.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.events.Unregister(core.EVENT_CODE_RESIZED, e)
	e.events.Unregister(core.EVENT_CODE_ASSET_CHANGED, e)

	var errs []error
	e.assetManager.Shutdown()
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(e.renderer); err != nil {
			errs = append(errs, err)
		}
	}
	e.library.Close()
	if err := e.renderer.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if e.platform != nil {
		if err := e.platform.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	e.currentStage = EngineStageUninitialized
	return errors.Join(errs...)
}

func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }

func (e *Engine) onQuit(ec core.EventContext) bool {
	core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
	e.isRunning = false
	return true
}

func (e *Engine) onResized(ec core.EventContext) bool {
	ev, ok := ec.Data.(core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", ec.Code)
		return false
	}
	if ev.Width == 0 || ev.Height == 0 {
		if !e.isSuspended {
			core.LogInfo("Window minimized, suspending application.")
		}
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(ev.Width, ev.Height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	return false
}

func (e *Engine) onAssetChanged(ec core.EventContext) bool {
	ev, ok := ec.Data.(core.AssetEvent)
	if !ok {
		return false
	}
	select {
	case e.assetChanges <- ev:
	default:
		core.LogWarn("dropping asset change for %s, reload queue is full", ev.Path)
	}
	return false
}
