package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// VulkanBuffer is a host visible buffer. Geometry is small enough that
// the renderer skips staging uploads.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   vk.DeviceSize
	Usage  vk.BufferUsageFlags
}

func BufferCreate(context *VulkanContext, size uint64, usage vk.BufferUsageFlags) (*VulkanBuffer, error) {
	out := &VulkanBuffer{
		Size:  vk.DeviceSize(size),
		Usage: usage,
	}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        out.Size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	err := context.Locks.SafeCall(BufferManagement, func() error {
		var buffer vk.Buffer
		if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &buffer); res != vk.Success {
			return vulkanError("vkCreateBuffer", res)
		}
		out.Handle = buffer

		var memReqs vk.MemoryRequirements
		vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer, &memReqs)
		memReqs.Deref()

		memTypeIndex, err := context.FindMemoryIndex(memReqs.MemoryTypeBits,
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			vk.DestroyBuffer(context.Device.LogicalDevice, buffer, context.Allocator)
			return err
		}

		allocInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  memReqs.Size,
			MemoryTypeIndex: memTypeIndex,
		}
		var memory vk.DeviceMemory
		if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &memory); res != vk.Success {
			vk.DestroyBuffer(context.Device.LogicalDevice, buffer, context.Allocator)
			return vulkanError("vkAllocateMemory", res)
		}
		out.Memory = memory

		if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer, memory, 0); res != vk.Success {
			vk.FreeMemory(context.Device.LogicalDevice, memory, context.Allocator)
			vk.DestroyBuffer(context.Device.LogicalDevice, buffer, context.Allocator)
			return vulkanError("vkBindBufferMemory", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadData copies data into the buffer at offset.
func (vb *VulkanBuffer) LoadData(context *VulkanContext, offset uint64, data []byte) error {
	var mapped unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, vb.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped); res != vk.Success {
		return vulkanError("vkMapMemory", res)
	}
	vk.Memcopy(mapped, data)
	vk.UnmapMemory(context.Device.LogicalDevice, vb.Memory)
	return nil
}

func (vb *VulkanBuffer) Destroy(context *VulkanContext) {
	context.Locks.SafeCall(BufferManagement, func() error {
		if vb.Handle != vk.NullBuffer {
			vk.DestroyBuffer(context.Device.LogicalDevice, vb.Handle, context.Allocator)
			vb.Handle = vk.NullBuffer
		}
		if vb.Memory != vk.NullDeviceMemory {
			vk.FreeMemory(context.Device.LogicalDevice, vb.Memory, context.Allocator)
			vb.Memory = vk.NullDeviceMemory
		}
		return nil
	})
}
