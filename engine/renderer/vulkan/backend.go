package vulkan

import (
	"errors"
	"fmt"
	stdmath "math"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/platform"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/pipeline"
)

var errNotInFrame = errors.New("draw outside of BeginFrame/EndFrame")

type Options struct {
	// GPUIndex selects a physical device; negative picks the first suitable one.
	GPUIndex       int
	FramesInFlight uint32
	VSync          bool
	Debug          bool
}

type VulkanRenderer struct {
	platform    *platform.Platform
	FrameNumber uint64
	context     *VulkanContext
	device      *PipelineDevice
	opts        Options

	// Highest epoch whose commands are known to be finished on the GPU.
	completed     uint64
	frameEpoch    uint64
	inFrame       bool
	boundPipeline vk.Pipeline
}

func New(p *platform.Platform, opts Options) *VulkanRenderer {
	context := newVulkanContext(opts.FramesInFlight)
	return &VulkanRenderer{
		platform: p,
		context:  context,
		device:   NewPipelineDevice(context),
		opts:     opts,
	}
}

func (vr *VulkanRenderer) Device() pipeline.Device { return vr.device }

// initLoader points goki/vulkan at the loader GLFW found. GLFW must be
// initialised.
func initLoader() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return errors.New("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk: %w", err)
	}
	return nil
}

// instanceCreate creates a Vulkan instance with the given extensions, plus
// the portability ones on darwin and validation when debug is set.
func instanceCreate(appName string, extensions []string, debug bool, allocator *vk.AllocationCallbacks) (vk.Instance, error) {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := append([]string{}, extensions...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		core.LogDebug("Required extensions: %v", requiredExtensions)

		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkValidationLayers(layers); err != nil {
			return nil, err
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, allocator, &instance); res != vk.Success {
		return nil, vulkanError("vkCreateInstance", res)
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, allocator)
		return nil, err
	}
	return instance, nil
}

func (vr *VulkanRenderer) Initialize(appName string, appWidth, appHeight uint32) (metadata.TargetConfig, error) {
	if err := initLoader(); err != nil {
		return metadata.TargetConfig{}, err
	}

	vr.context.FramebufferWidth = appWidth
	vr.context.FramebufferHeight = appHeight

	if err := vr.createInstance(appName); err != nil {
		return metadata.TargetConfig{}, err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := vr.platform.CreateWindowSurface(vr.context.Instance)
	if err != nil {
		return metadata.TargetConfig{}, fmt.Errorf("vulkan surface creation failed: %w", err)
	}
	vr.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(vr.context, vr.opts.GPUIndex); err != nil {
		return metadata.TargetConfig{}, fmt.Errorf("failed to create device: %w", err)
	}

	sc, err := SwapchainCreate(vr.context, appWidth, appHeight, vr.opts.VSync)
	if err != nil {
		return metadata.TargetConfig{}, err
	}
	vr.context.Swapchain = sc
	vr.context.FramebufferWidth = sc.Extent.Width
	vr.context.FramebufferHeight = sc.Extent.Height

	if err := vr.regenerateFramebuffers(); err != nil {
		return metadata.TargetConfig{}, err
	}
	if err := vr.createCommandBuffers(); err != nil {
		return metadata.TargetConfig{}, err
	}
	if err := vr.createSyncObjects(); err != nil {
		return metadata.TargetConfig{}, err
	}

	core.LogInfo("Vulkan renderer initialized successfully.")
	return sc.TargetConfig(), nil
}

func (vr *VulkanRenderer) createInstance(appName string) error {
	instance, err := instanceCreate(appName, vr.platform.GetRequiredExtensionNames(), vr.opts.Debug, vr.context.Allocator)
	if err != nil {
		return err
	}
	vr.context.Instance = instance
	core.LogInfo("Vulkan Instance created.")

	if vr.opts.Debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return fmt.Errorf("vk.CreateDebugReportCallback failed: %w", err)
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func checkValidationLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return vulkanError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return vulkanError("vkEnumerateInstanceLayerProperties", res)
	}

	names := make(map[string]struct{}, count)
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].LayerName[:])
		names[string(available[i].LayerName[:end])] = struct{}{}
	}
	for _, layer := range required {
		if _, ok := names[layer]; !ok {
			return fmt.Errorf("required validation layer is missing: %s", layer)
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func (vr *VulkanRenderer) createSyncObjects() error {
	frames := vr.context.FramesInFlight
	vr.context.ImageAvailableSemaphores = make([]vk.Semaphore, frames)
	vr.context.QueueCompleteSemaphores = make([]vk.Semaphore, frames)
	vr.context.InFlightFences = make([]*VulkanFence, frames)

	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	for i := uint32(0); i < frames; i++ {
		if res := vk.CreateSemaphore(vr.context.Device.LogicalDevice, &semaphoreCreateInfo, vr.context.Allocator, &vr.context.ImageAvailableSemaphores[i]); res != vk.Success {
			return vulkanError("vkCreateSemaphore", res)
		}
		if res := vk.CreateSemaphore(vr.context.Device.LogicalDevice, &semaphoreCreateInfo, vr.context.Allocator, &vr.context.QueueCompleteSemaphores[i]); res != vk.Success {
			return vulkanError("vkCreateSemaphore", res)
		}
		// Signaled so the first frame on each slot does not wait forever.
		f, err := NewFence(vr.context, true)
		if err != nil {
			return err
		}
		vr.context.InFlightFences[i] = f
	}

	vr.context.ImagesInFlight = make([]*VulkanFence, vr.context.Swapchain.ImageCount)
	return nil
}

func (vr *VulkanRenderer) Shutdown() error {
	if vr.context.Device.LogicalDevice == nil {
		return nil
	}
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	// Destroy in the opposite order of creation.
	for i := range vr.context.InFlightFences {
		vk.DestroySemaphore(vr.context.Device.LogicalDevice, vr.context.ImageAvailableSemaphores[i], vr.context.Allocator)
		vk.DestroySemaphore(vr.context.Device.LogicalDevice, vr.context.QueueCompleteSemaphores[i], vr.context.Allocator)
		vr.context.InFlightFences[i].FenceDestroy(vr.context)
	}
	vr.context.ImageAvailableSemaphores = nil
	vr.context.QueueCompleteSemaphores = nil
	vr.context.InFlightFences = nil
	vr.context.ImagesInFlight = nil

	vr.freeCommandBuffers()

	if vr.context.Swapchain != nil {
		vr.context.Swapchain.SwapchainDestroy(vr.context)
		vr.context.Swapchain = nil
	}
	vr.context.destroyRenderpasses()

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(vr.context)

	core.LogDebug("Destroying Vulkan surface...")
	if vr.context.Surface != vk.NullSurface {
		vk.DestroySurface(vr.context.Instance, vr.context.Surface, vr.context.Allocator)
		vr.context.Surface = vk.NullSurface
	}

	if vr.context.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, vr.context.Allocator)
		vr.context.debugMessenger = vk.NullDebugReportCallback
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
	return nil
}

// Resized recreates the swapchain for the new framebuffer size and returns
// the configuration pipelines must now be built against.
func (vr *VulkanRenderer) Resized(width, height uint32) (metadata.TargetConfig, error) {
	if width == 0 || height == 0 {
		return metadata.TargetConfig{}, fmt.Errorf("cannot recreate swapchain at %dx%d", width, height)
	}
	if vr.context.RecreatingSwapchain {
		return metadata.TargetConfig{}, errors.New("swapchain recreation already in progress")
	}
	vr.context.RecreatingSwapchain = true
	defer func() { vr.context.RecreatingSwapchain = false }()

	if err := vr.WaitIdle(); err != nil {
		return metadata.TargetConfig{}, err
	}

	for i := range vr.context.ImagesInFlight {
		vr.context.ImagesInFlight[i] = nil
	}

	if err := DeviceQuerySwapchainSupport(vr.context.Device.PhysicalDevice, vr.context.Surface, &vr.context.Device.SwapchainSupport); err != nil {
		return metadata.TargetConfig{}, err
	}

	vr.freeCommandBuffers()
	sc, err := vr.context.Swapchain.SwapchainRecreate(vr.context, width, height, vr.opts.VSync)
	if err != nil {
		vr.context.Swapchain = nil
		return metadata.TargetConfig{}, err
	}
	vr.context.Swapchain = sc
	vr.context.FramebufferWidth = sc.Extent.Width
	vr.context.FramebufferHeight = sc.Extent.Height

	if err := vr.regenerateFramebuffers(); err != nil {
		return metadata.TargetConfig{}, err
	}
	if err := vr.createCommandBuffers(); err != nil {
		return metadata.TargetConfig{}, err
	}
	vr.context.ImagesInFlight = make([]*VulkanFence, sc.ImageCount)

	core.LogInfo("Vulkan renderer backend resized: %s", sc.TargetConfig())
	return sc.TargetConfig(), nil
}

// WaitIdle blocks until the GPU is idle, after which every submitted epoch
// counts as completed.
func (vr *VulkanRenderer) WaitIdle() error {
	if res := vk.DeviceWaitIdle(vr.context.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
		return vulkanError("vkDeviceWaitIdle", res)
	}
	for _, f := range vr.context.InFlightFences {
		if f.Epoch > vr.completed {
			vr.completed = f.Epoch
		}
	}
	return nil
}

// BeginFrame waits for the frame slot, acquires an image and starts
// recording. It returns the highest epoch the GPU has finished with.
// core.ErrSwapchainBooting means the swapchain must be recreated and the
// frame skipped.
func (vr *VulkanRenderer) BeginFrame(epoch uint64) (uint64, error) {
	if vr.context.RecreatingSwapchain {
		return vr.completed, core.ErrSwapchainBooting
	}

	fence := vr.context.InFlightFences[vr.context.CurrentFrame]
	if err := fence.FenceWait(vr.context, stdmath.MaxUint64); err != nil {
		return vr.completed, err
	}
	// One queue executes in submission order, so this slot finishing means
	// every earlier epoch has too.
	if fence.Epoch > vr.completed {
		vr.completed = fence.Epoch
	}

	imageIndex, err := vr.context.Swapchain.SwapchainAcquireNextImageIndex(
		vr.context, stdmath.MaxUint64, vr.context.ImageAvailableSemaphores[vr.context.CurrentFrame], vk.NullFence)
	if err != nil {
		return vr.completed, err
	}
	vr.context.ImageIndex = imageIndex

	// Make sure the previous frame is not using this image.
	if inFlight := vr.context.ImagesInFlight[imageIndex]; inFlight != nil {
		if err := inFlight.FenceWait(vr.context, stdmath.MaxUint64); err != nil {
			return vr.completed, err
		}
		if inFlight.Epoch > vr.completed {
			vr.completed = inFlight.Epoch
		}
	}
	vr.context.ImagesInFlight[imageIndex] = fence

	commandBuffer := vr.context.GraphicsCommandBuffers[imageIndex]
	if err := commandBuffer.Reset(); err != nil {
		return vr.completed, err
	}
	if err := commandBuffer.Begin(false, false, false); err != nil {
		return vr.completed, err
	}

	renderpass, err := vr.context.RenderpassFor(vr.context.Swapchain.ImageFormat.Format)
	if err != nil {
		return vr.completed, err
	}
	renderpass.RenderpassBegin(commandBuffer, vr.context.Swapchain.Framebuffers[imageIndex].Handle, vr.context.Swapchain.Extent)

	vr.frameEpoch = epoch
	vr.inFrame = true
	vr.boundPipeline = vk.NullPipeline
	return vr.completed, nil
}

func (vr *VulkanRenderer) Draw(inst *pipeline.Instance, call metadata.DrawCall) error {
	if !vr.inFrame {
		return errNotInFrame
	}
	p, ok := inst.Handle().(*VulkanPipeline)
	if !ok {
		return fmt.Errorf("instance %s does not hold a vulkan pipeline", inst)
	}
	commandBuffer := vr.context.GraphicsCommandBuffers[vr.context.ImageIndex]
	if p.Handle != vr.boundPipeline {
		p.Bind(commandBuffer, vk.PipelineBindPointGraphics)
		vr.boundPipeline = p.Handle
	}

	vertexCount := call.VertexCount
	if call.Geometry != nil {
		buffer, ok := call.Geometry.InternalData.(*VulkanBuffer)
		if !ok {
			return fmt.Errorf("geometry %q has no vertex buffer", call.Geometry.Name)
		}
		vk.CmdBindVertexBuffers(commandBuffer.Handle, 0, 1, []vk.Buffer{buffer.Handle}, []vk.DeviceSize{0})
		if vertexCount == 0 {
			vertexCount = call.Geometry.VertexCount
		}
	}
	instances := call.InstanceCount
	if instances == 0 {
		instances = 1
	}
	vk.CmdDraw(commandBuffer.Handle, vertexCount, instances, call.FirstVertex, 0)
	return nil
}

// EndFrame submits and presents. A core.ErrSwapchainBooting result means
// the frame was submitted but the swapchain must be recreated.
func (vr *VulkanRenderer) EndFrame() error {
	if !vr.inFrame {
		return errNotInFrame
	}
	vr.inFrame = false

	commandBuffer := vr.context.GraphicsCommandBuffers[vr.context.ImageIndex]
	renderpass, err := vr.context.RenderpassFor(vr.context.Swapchain.ImageFormat.Format)
	if err != nil {
		return err
	}
	renderpass.RenderpassEnd(commandBuffer)
	if err := commandBuffer.End(); err != nil {
		return err
	}

	fence := vr.context.InFlightFences[vr.context.CurrentFrame]

	// VK_PIPELINE_STAGE_COLOR_ATTACHMENT_OUTPUT_BIT prevents subsequent colour attachment
	// writes from executing until the semaphore signals.
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{commandBuffer.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{vr.context.QueueCompleteSemaphores[vr.context.CurrentFrame]},
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{vr.context.ImageAvailableSemaphores[vr.context.CurrentFrame]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
	}

	err = fence.Submit(vr.context, vr.frameEpoch, func(handle vk.Fence) error {
		return vr.context.Locks.SafeQueueCall(uint32(vr.context.Device.GraphicsQueueIndex), func() error {
			if res := vk.QueueSubmit(vr.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, handle); res != vk.Success {
				return vulkanError("vkQueueSubmit", res)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	commandBuffer.UpdateSubmitted()

	presentErr := vr.context.Swapchain.SwapchainPresent(
		vr.context,
		vr.context.Device.PresentQueue,
		vr.context.QueueCompleteSemaphores[vr.context.CurrentFrame],
		vr.context.ImageIndex)

	vr.context.CurrentFrame = (vr.context.CurrentFrame + 1) % vr.context.FramesInFlight
	vr.FrameNumber++
	return presentErr
}

func (vr *VulkanRenderer) ShaderModuleCreate(name string, code []byte, entryPoints []string) (metadata.ShaderModule, error) {
	return ShaderModuleCreate(vr.context, name, code, entryPoints)
}

func (vr *VulkanRenderer) GeometryCreate(name string, vertexSize, vertexCount uint32, vertices []byte) (*metadata.Geometry, error) {
	size := uint64(vertexSize) * uint64(vertexCount)
	if size == 0 || uint64(len(vertices)) < size {
		return nil, fmt.Errorf("%w: geometry %q needs %d bytes, got %d", core.ErrValidation, name, size, len(vertices))
	}
	buffer, err := BufferCreate(vr.context, size, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	if err != nil {
		return nil, err
	}
	if err := buffer.LoadData(vr.context, 0, vertices[:size]); err != nil {
		buffer.Destroy(vr.context)
		return nil, err
	}
	return &metadata.Geometry{
		Name:         name,
		VertexCount:  vertexCount,
		VertexSize:   vertexSize,
		InternalData: buffer,
	}, nil
}

// GeometryDestroy waits for the GPU before freeing the vertex buffer.
func (vr *VulkanRenderer) GeometryDestroy(geometry *metadata.Geometry) {
	buffer, ok := geometry.InternalData.(*VulkanBuffer)
	if !ok {
		return
	}
	if err := vr.WaitIdle(); err != nil {
		core.LogWarn("destroying geometry %q without idle device: %s", geometry.Name, err)
	}
	buffer.Destroy(vr.context)
	geometry.InternalData = nil
}

func (vr *VulkanRenderer) createCommandBuffers() error {
	vr.context.GraphicsCommandBuffers = make([]*VulkanCommandBuffer, vr.context.Swapchain.ImageCount)
	for i := range vr.context.GraphicsCommandBuffers {
		cb, err := NewVulkanCommandBuffer(vr.context, vr.context.Device.GraphicsCommandPool, true)
		if err != nil {
			return err
		}
		vr.context.GraphicsCommandBuffers[i] = cb
	}
	core.LogDebug("Vulkan command buffers created.")
	return nil
}

func (vr *VulkanRenderer) freeCommandBuffers() {
	for _, cb := range vr.context.GraphicsCommandBuffers {
		if cb != nil && cb.Handle != nil {
			cb.Free(vr.context, vr.context.Device.GraphicsCommandPool)
		}
	}
	vr.context.GraphicsCommandBuffers = nil
}

func (vr *VulkanRenderer) regenerateFramebuffers() error {
	swapchain := vr.context.Swapchain
	renderpass, err := vr.context.RenderpassFor(swapchain.ImageFormat.Format)
	if err != nil {
		return err
	}
	swapchain.destroyFramebuffers(vr.context)
	swapchain.Framebuffers = make([]*VulkanFramebuffer, swapchain.ImageCount)
	for i := range swapchain.Framebuffers {
		fb, err := FramebufferCreate(vr.context, renderpass, swapchain.Extent.Width, swapchain.Extent.Height, []vk.ImageView{swapchain.Views[i]})
		if err != nil {
			return err
		}
		swapchain.Framebuffers[i] = fb
	}
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
