package vulkan

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

var nextModuleHandle atomic.Uint64

// VulkanShaderModule wraps a vk.ShaderModule together with the entry points
// declared in its SPIR-V.
type VulkanShaderModule struct {
	Name    string
	Module  vk.ShaderModule
	handle  metadata.ModuleHandle
	entries map[string]struct{}
	context *VulkanContext
	loaded  atomic.Bool
}

func ShaderModuleCreate(context *VulkanContext, name string, code []byte, entryPoints []string) (*VulkanShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("%w: shader %q has %d bytes of SPIR-V, want a non-zero multiple of 4", core.ErrValidation, name, len(code))
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    repackUint32(code),
	}

	var module vk.ShaderModule
	err := context.Locks.SafeCall(ShaderManagement, func() error {
		if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module); res != vk.Success {
			return vulkanError("vkCreateShaderModule", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sm := &VulkanShaderModule{
		Name:    name,
		Module:  module,
		handle:  metadata.ModuleHandle(nextModuleHandle.Add(1)),
		entries: make(map[string]struct{}, len(entryPoints)),
		context: context,
	}
	for _, e := range entryPoints {
		sm.entries[e] = struct{}{}
	}
	sm.loaded.Store(true)
	core.LogDebug("shader module %q created with entry points %v", name, entryPoints)
	return sm, nil
}

func (sm *VulkanShaderModule) Handle() metadata.ModuleHandle { return sm.handle }

func (sm *VulkanShaderModule) Loaded() bool { return sm.loaded.Load() }

// HasEntryPoint reports whether the SPIR-V declares name. A module created
// without entry point information accepts only the default "main".
func (sm *VulkanShaderModule) HasEntryPoint(name string) bool {
	if len(sm.entries) == 0 {
		return name == metadata.DefaultEntryPoint
	}
	_, ok := sm.entries[name]
	return ok
}

func (sm *VulkanShaderModule) Destroy() {
	if !sm.loaded.CompareAndSwap(true, false) {
		return
	}
	sm.context.Locks.SafeCall(ShaderManagement, func() error {
		vk.DestroyShaderModule(sm.context.Device.LogicalDevice, sm.Module, sm.context.Allocator)
		return nil
	})
	sm.Module = vk.NullShaderModule
}

func stageCreateInfo(stage *metadata.ShaderStage) (vk.PipelineShaderStageCreateInfo, error) {
	module, ok := stage.Module().(*VulkanShaderModule)
	if !ok {
		return vk.PipelineShaderStageCreateInfo{}, fmt.Errorf("%w: stage %s is not backed by a vulkan shader module", core.ErrValidation, stage)
	}
	if !module.Loaded() {
		return vk.PipelineShaderStageCreateInfo{}, fmt.Errorf("%w: shader module %q was destroyed", metadata.ErrInvalidStage, module.Name)
	}
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStageToVk(stage.Kind()),
		Module: module.Module,
		PName:  VulkanSafeString(stage.EntryPoint()),
	}, nil
}

func repackUint32(data []byte) []uint32 {
	buf := make([]uint32, len(data)/4)
	if len(buf) > 0 {
		vk.Memcopy(unsafe.Pointer(&buf[0]), data)
	}
	return buf
}
