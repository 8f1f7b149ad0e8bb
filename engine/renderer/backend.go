package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-gfx/engine/platform"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/vulkan"
)

// RendererBackend is the graphics API behind the renderer. Every method
// except Device().CreatePipeline is called from the frame loop goroutine.
type RendererBackend interface {
	// Initialize brings the API up and returns the window surface config.
	Initialize(appName string, appWidth, appHeight uint32) (metadata.TargetConfig, error)
	Shutdown() error
	// Resized recreates the swapchain and returns its new configuration.
	Resized(width, height uint32) (metadata.TargetConfig, error)
	// BeginFrame starts recording the frame for epoch and returns the
	// highest epoch the GPU has finished. core.ErrSwapchainBooting asks the
	// caller to recreate the swapchain and skip the frame.
	BeginFrame(epoch uint64) (uint64, error)
	Draw(inst *pipeline.Instance, call metadata.DrawCall) error
	EndFrame() error
	WaitIdle() error
	Device() pipeline.Device
	ShaderModuleCreate(name string, code []byte, entryPoints []string) (metadata.ShaderModule, error)
	GeometryCreate(name string, vertexSize, vertexCount uint32, vertices []byte) (*metadata.Geometry, error)
	GeometryDestroy(geometry *metadata.Geometry)
}

type RendererType uint8

const (
	Vulkan RendererType = iota
	DirectX
	Metal
	OpenGL
)

var rendererTypeNames = map[RendererType]string{
	Vulkan:  "vulkan",
	DirectX: "directx",
	Metal:   "metal",
	OpenGL:  "opengl",
}

func (t RendererType) String() string {
	if s, ok := rendererTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RendererType(%d)", uint8(t))
}

var ErrUnsupportedBackend = errors.New("unsupported renderer backend")

func NewBackend(kind RendererType, p *platform.Platform, opts vulkan.Options) (RendererBackend, error) {
	switch kind {
	case Vulkan:
		return vulkan.New(p, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, kind)
	}
}
