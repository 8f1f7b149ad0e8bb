package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

var imageFormats = map[metadata.ImageFormat]vk.Format{
	metadata.ImageFormatB8G8R8A8Unorm: vk.FormatB8g8r8a8Unorm,
	metadata.ImageFormatB8G8R8A8Srgb:  vk.FormatB8g8r8a8Srgb,
	metadata.ImageFormatR8G8B8A8Unorm: vk.FormatR8g8b8a8Unorm,
	metadata.ImageFormatR8G8B8A8Srgb:  vk.FormatR8g8b8a8Srgb,
}

func imageFormatToVk(f metadata.ImageFormat) vk.Format {
	if v, ok := imageFormats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

func imageFormatFromVk(f vk.Format) metadata.ImageFormat {
	for k, v := range imageFormats {
		if v == f {
			return k
		}
	}
	return metadata.ImageFormatUndefined
}

var vertexFormats = map[metadata.VertexFormat]vk.Format{
	metadata.VertexFormatFloat:      vk.FormatR32Sfloat,
	metadata.VertexFormatFloat2:     vk.FormatR32g32Sfloat,
	metadata.VertexFormatFloat3:     vk.FormatR32g32b32Sfloat,
	metadata.VertexFormatFloat4:     vk.FormatR32g32b32a32Sfloat,
	metadata.VertexFormatInt:        vk.FormatR32Sint,
	metadata.VertexFormatInt2:       vk.FormatR32g32Sint,
	metadata.VertexFormatInt3:       vk.FormatR32g32b32Sint,
	metadata.VertexFormatInt4:       vk.FormatR32g32b32a32Sint,
	metadata.VertexFormatUint:       vk.FormatR32Uint,
	metadata.VertexFormatUByte4Norm: vk.FormatR8g8b8a8Unorm,
}

func vertexFormatToVk(f metadata.VertexFormat) vk.Format {
	if v, ok := vertexFormats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

func inputRateToVk(r metadata.VertexInputRate) vk.VertexInputRate {
	if r == metadata.VertexInputRateInstance {
		return vk.VertexInputRateInstance
	}
	return vk.VertexInputRateVertex
}

func topologyToVk(t metadata.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case metadata.PrimitiveTopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case metadata.PrimitiveTopologyLineList:
		return vk.PrimitiveTopologyLineList
	case metadata.PrimitiveTopologyPointList:
		return vk.PrimitiveTopologyPointList
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}

func cullModeToVk(c metadata.FaceCullMode) vk.CullModeFlags {
	switch c {
	case metadata.FaceCullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.FaceCullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	case metadata.FaceCullModeFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		return vk.CullModeFlags(vk.CullModeNone)
	}
}

func shaderStageToVk(k metadata.ShaderStageKind) vk.ShaderStageFlagBits {
	if k == metadata.ShaderStageFragment {
		return vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageVertexBit
}

func blendAttachmentFor(mode metadata.BlendMode) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	switch mode {
	case metadata.BlendModeAlpha:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.ColorBlendOp = vk.BlendOpAdd
		state.SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
		state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.AlphaBlendOp = vk.BlendOpAdd
	case metadata.BlendModeAdditive:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorOne
		state.DstColorBlendFactor = vk.BlendFactorOne
		state.ColorBlendOp = vk.BlendOpAdd
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOne
		state.AlphaBlendOp = vk.BlendOpAdd
	default:
		state.BlendEnable = vk.False
	}
	return state
}
