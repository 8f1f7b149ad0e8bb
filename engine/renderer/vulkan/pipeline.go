package vulkan

import (
	"context"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/pipeline"
)

// VulkanPipeline holds a Vulkan pipeline and its layout.
type VulkanPipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
}

// VulkanPipelineConfig is a descriptor resolved against one target
// configuration. Viewport and scissor are baked from the extent, so a
// resize always needs a new pipeline.
type VulkanPipelineConfig struct {
	Renderpass *VulkanRenderpass
	Bindings   []vk.VertexInputBindingDescription
	Attributes []vk.VertexInputAttributeDescription
	Stages     []vk.PipelineShaderStageCreateInfo
	Viewport   vk.Viewport
	Scissor    vk.Rect2D
	Topology   vk.PrimitiveTopology
	CullMode   vk.CullModeFlags
	Wireframe  bool
	Blend      vk.PipelineColorBlendAttachmentState
}

func pipelineConfigFor(descriptor *metadata.PipelineDescriptor, target metadata.TargetConfig) (*VulkanPipelineConfig, error) {
	config := &VulkanPipelineConfig{
		Viewport: vk.Viewport{
			X:        0,
			Y:        0,
			Width:    float32(target.Extent.Width),
			Height:   float32(target.Extent.Height),
			MinDepth: 0.0,
			MaxDepth: 1.0,
		},
		Scissor: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: target.Extent.Width, Height: target.Extent.Height},
		},
		Topology:  topologyToVk(descriptor.Topology()),
		CullMode:  cullModeToVk(descriptor.CullMode()),
		Wireframe: descriptor.Wireframe(),
		Blend:     blendAttachmentFor(descriptor.Blend()),
	}

	layout := descriptor.Layout()
	for _, b := range layout.Bindings() {
		config.Bindings = append(config.Bindings, vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: inputRateToVk(b.InputRate),
		})
	}
	for _, a := range layout.Attributes() {
		format := vertexFormatToVk(a.Format)
		if format == vk.FormatUndefined {
			return nil, fmt.Errorf("%w: attribute at location %d has no vulkan format", metadata.ErrLayoutConflict, a.Location)
		}
		config.Attributes = append(config.Attributes, vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   format,
			Offset:   a.Offset,
		})
	}

	for _, stage := range descriptor.Stages() {
		info, err := stageCreateInfo(stage)
		if err != nil {
			return nil, err
		}
		config.Stages = append(config.Stages, info)
	}
	return config, nil
}

func NewGraphicsPipeline(context *VulkanContext, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	outPipeline := &VulkanPipeline{}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{config.Viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{config.Scissor},
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                config.CullMode,
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if config.Wireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{config.Blend},
	}

	// A procedural pipeline has no bindings at all.
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(config.Bindings)),
		PVertexBindingDescriptions:      config.Bindings,
		VertexAttributeDescriptionCount: uint32(len(config.Attributes)),
		PVertexAttributeDescriptions:    config.Attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               config.Topology,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}

	if err := context.Locks.SafeCall(PipelineManagement, func() error {
		var pPipelineLayout vk.PipelineLayout
		result := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &pPipelineLayout)
		if !VulkanResultIsSuccess(result) {
			return vulkanError("vkCreatePipelineLayout", result)
		}
		outPipeline.PipelineLayout = pPipelineLayout
		return nil
	}); err != nil {
		return nil, err
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          config.Renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.Locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines)
		if !VulkanResultIsSuccess(result) {
			return vulkanError("vkCreateGraphicsPipelines", result)
		}
		return nil
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Graphics pipeline created!")
	return outPipeline, nil
}

func (p *VulkanPipeline) Destroy(context *VulkanContext) {
	context.Locks.SafeCall(PipelineManagement, func() error {
		if p.Handle != vk.NullPipeline {
			vk.DestroyPipeline(context.Device.LogicalDevice, p.Handle, context.Allocator)
			p.Handle = vk.NullPipeline
		}
		if p.PipelineLayout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(context.Device.LogicalDevice, p.PipelineLayout, context.Allocator)
			p.PipelineLayout = vk.NullPipelineLayout
		}
		return nil
	})
}

func (p *VulkanPipeline) Bind(commandBuffer *VulkanCommandBuffer, bindPoint vk.PipelineBindPoint) {
	vk.CmdBindPipeline(commandBuffer.Handle, bindPoint, p.Handle)
}

// PipelineDevice builds pipelines for the cache. Builds run on cache
// goroutines concurrently with the frame loop.
type PipelineDevice struct {
	context *VulkanContext
}

func NewPipelineDevice(context *VulkanContext) *PipelineDevice {
	return &PipelineDevice{context: context}
}

func (d *PipelineDevice) CreatePipeline(ctx context.Context, descriptor *metadata.PipelineDescriptor, target metadata.TargetConfig) (pipeline.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if descriptor.Wireframe() && d.context.Device.Features.FillModeNonSolid != vk.True {
		return nil, fmt.Errorf("%w: wireframe pipeline %q needs fillModeNonSolid", core.ErrValidation, descriptor.Name())
	}

	format := imageFormatToVk(target.Format)
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("%w: no vulkan format for target format %s", core.ErrValidation, target.Format)
	}
	renderpass, err := d.context.RenderpassFor(format)
	if err != nil {
		return nil, err
	}

	config, err := pipelineConfigFor(descriptor, target)
	if err != nil {
		return nil, err
	}
	config.Renderpass = renderpass

	p, err := NewGraphicsPipeline(d.context, config)
	if err != nil {
		return nil, err
	}
	// Nobody is waiting for it any more.
	if err := ctx.Err(); err != nil {
		p.Destroy(d.context)
		return nil, err
	}
	return p, nil
}

func (d *PipelineDevice) DestroyPipeline(handle pipeline.Handle) {
	if p, ok := handle.(*VulkanPipeline); ok {
		p.Destroy(d.context)
	}
}
