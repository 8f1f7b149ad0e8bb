package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gfx/engine/core"
)

type VulkanContext struct {
	// Current framebuffer size. Follows the swapchain extent.
	FramebufferWidth  uint32
	FramebufferHeight uint32

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	Swapchain *VulkanSwapchain

	// One render pass per colour format, shared by every pipeline built for
	// that format.
	Renderpasses map[vk.Format]*VulkanRenderpass

	GraphicsCommandBuffers []*VulkanCommandBuffer

	ImageAvailableSemaphores []vk.Semaphore
	QueueCompleteSemaphores  []vk.Semaphore

	FramesInFlight uint32
	InFlightFences []*VulkanFence

	// Holds pointers to fences which exist and are owned elsewhere.
	ImagesInFlight []*VulkanFence

	ImageIndex   uint32
	CurrentFrame uint32

	RecreatingSwapchain bool

	Locks *VulkanLockPool
}

func newVulkanContext(framesInFlight uint32) *VulkanContext {
	if framesInFlight == 0 {
		framesInFlight = 2
	}
	return &VulkanContext{
		Device:         &VulkanDevice{},
		Renderpasses:   make(map[vk.Format]*VulkanRenderpass),
		FramesInFlight: framesInFlight,
		Locks:          NewVulkanLockPool(),
	}
}

// RenderpassFor returns the render pass for a colour format, creating it
// on first use. Safe to call from pipeline build goroutines.
func (vc *VulkanContext) RenderpassFor(format vk.Format) (*VulkanRenderpass, error) {
	var rp *VulkanRenderpass
	err := vc.Locks.SafeCall(RenderpassManagement, func() error {
		if existing, ok := vc.Renderpasses[format]; ok {
			rp = existing
			return nil
		}
		created, err := RenderpassCreate(vc, format, [4]float32{0.0, 0.0, 0.2, 1.0})
		if err != nil {
			return err
		}
		vc.Renderpasses[format] = created
		rp = created
		return nil
	})
	return rp, err
}

func (vc *VulkanContext) destroyRenderpasses() {
	vc.Locks.SafeCall(RenderpassManagement, func() error {
		for format, rp := range vc.Renderpasses {
			rp.RenderpassDestroy(vc)
			delete(vc.Renderpasses, format)
		}
		return nil
	})
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return 0, fmt.Errorf("no memory type matches filter %#x with flags %#x", typeFilter, propertyFlags)
}
