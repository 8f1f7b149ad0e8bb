package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type Platform struct {
	Window    *glfw.Window
	events    *core.EventSystem
	startTime float64

	mode metadata.WindowMode
	// non windowed mode F11 switches to
	fullscreenMode metadata.WindowMode
	// fullscreen size for WindowModeFullscreen
	fullWidth, fullHeight int
	// restored when going back to windowed
	windowedX, windowedY, windowedW, windowedH int
}

// New returns a platform that fires window events on es, or on the
// default event system when es is nil.
func New(es *core.EventSystem) *Platform {
	if es == nil {
		es = core.DefaultEventSystem()
	}
	return &Platform{events: es}
}

// Init loads GLFW and checks for a Vulkan loader without opening a
// window. Startup calls it; queries such as listing GPUs call it alone and
// pair it with Terminate.
func Init() error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return errVulkanUnsupported
	}
	return nil
}

func Terminate() {
	glfw.Terminate()
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32, mode metadata.WindowMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %s", metadata.ErrUnknownWindowMode, mode)
	}
	if err := Init(); err != nil {
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	p.windowedX, p.windowedY = int(x), int(y)
	p.windowedW, p.windowedH = int(width), int(height)
	p.fullWidth, p.fullHeight = int(width), int(height)
	p.fullscreenMode = metadata.WindowModeWindowedFullscreen
	if mode != metadata.WindowModeWindowed {
		p.fullscreenMode = mode
	}

	var monitor *glfw.Monitor
	w, h := int(width), int(height)
	if mode != metadata.WindowModeWindowed {
		monitor = glfw.GetPrimaryMonitor()
		if mode == metadata.WindowModeWindowedFullscreen {
			vm := monitor.GetVideoMode()
			glfw.WindowHint(glfw.RedBits, vm.RedBits)
			glfw.WindowHint(glfw.GreenBits, vm.GreenBits)
			glfw.WindowHint(glfw.BlueBits, vm.BlueBits)
			glfw.WindowHint(glfw.RefreshRate, vm.RefreshRate)
			w, h = vm.Width, vm.Height
		}
	}

	window, err := glfw.CreateWindow(w, h, applicationName, monitor, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return err
	}
	p.Window = window
	p.mode = mode

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	if monitor == nil {
		p.Window.SetPos(int(x), int(y))
	}
	p.Window.Show()

	p.startTime = glfw.GetTime()
	core.LogInfo("window created %dx%d %s", w, h, mode)
	return nil
}

func (p *Platform) WindowMode() metadata.WindowMode {
	return p.mode
}

// SetWindowMode moves the window on or off the primary monitor and fires
// EVENT_CODE_WINDOW_MODE_CHANGED. The new framebuffer size arrives through
// the usual resize event.
func (p *Platform) SetWindowMode(mode metadata.WindowMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %s", metadata.ErrUnknownWindowMode, mode)
	}
	if p.Window == nil || mode == p.mode {
		return nil
	}
	if p.mode == metadata.WindowModeWindowed {
		p.windowedX, p.windowedY = p.Window.GetPos()
		p.windowedW, p.windowedH = p.Window.GetSize()
	}

	switch mode {
	case metadata.WindowModeWindowed:
		p.Window.SetMonitor(nil, p.windowedX, p.windowedY, p.windowedW, p.windowedH, glfw.DontCare)
	case metadata.WindowModeWindowedFullscreen:
		monitor := glfw.GetPrimaryMonitor()
		vm := monitor.GetVideoMode()
		p.Window.SetMonitor(monitor, 0, 0, vm.Width, vm.Height, vm.RefreshRate)
	case metadata.WindowModeFullscreen:
		p.Window.SetMonitor(glfw.GetPrimaryMonitor(), 0, 0, p.fullWidth, p.fullHeight, glfw.DontCare)
	}
	core.LogInfo("window mode %s -> %s", p.mode, mode)
	p.mode = mode
	p.events.Fire(core.EventContext{Code: core.EVENT_CODE_WINDOW_MODE_CHANGED, Sender: p, Data: mode})
	return nil
}

// ToggleFullscreen switches between windowed and the fullscreen mode the
// window started in, or borderless when it started windowed.
func (p *Platform) ToggleFullscreen() error {
	if p.mode == metadata.WindowModeWindowed {
		return p.SetWindowMode(p.fullscreenMode)
	}
	return p.SetWindowMode(metadata.WindowModeWindowed)
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. Callbacks fire from here.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

func (p *Platform) ShouldClose() bool {
	return p.Window == nil || p.Window.ShouldClose()
}

func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// GetAbsoluteTime is the number of seconds since Startup.
func (p *Platform) GetAbsoluteTime() float64 {
	return glfw.GetTime() - p.startTime
}

func (p *Platform) GetRequiredExtensionNames() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateWindowSurface returns the raw VkSurfaceKHR for instance.
func (p *Platform) CreateWindowSurface(instance interface{}) (uintptr, error) {
	return p.Window.CreateWindowSurface(instance, nil)
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	switch action {
	case glfw.Press:
		switch key {
		case glfw.KeyEscape:
			p.events.Fire(core.EventContext{Code: core.EVENT_CODE_APPLICATION_QUIT, Sender: p})
			return
		case glfw.KeyF11:
			if err := p.ToggleFullscreen(); err != nil {
				core.LogError("%s", err)
			}
			return
		}
		p.events.Fire(core.EventContext{Code: core.EVENT_CODE_KEY_PRESSED, Sender: p, Data: core.KeyEvent{Key: int(key)}})
	case glfw.Release:
		p.events.Fire(core.EventContext{Code: core.EVENT_CODE_KEY_RELEASED, Sender: p, Data: core.KeyEvent{Key: int(key)}})
	}
}

// A minimised window reports 0x0 here.
func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.events.Fire(core.EventContext{
		Code:   core.EVENT_CODE_RESIZED,
		Sender: p,
		Data:   core.ResizeEvent{Width: uint32(width), Height: uint32(height)},
	})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.events.Fire(core.EventContext{Code: core.EVENT_CODE_APPLICATION_QUIT, Sender: p})
}
