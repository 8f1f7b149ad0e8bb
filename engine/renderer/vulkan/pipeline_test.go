package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

// detachedModule is a shader module that was never handed to a device.
func detachedModule(name string, entries ...string) *VulkanShaderModule {
	sm := &VulkanShaderModule{
		Name:    name,
		handle:  metadata.ModuleHandle(nextModuleHandle.Add(1)),
		entries: map[string]struct{}{},
	}
	for _, e := range entries {
		sm.entries[e] = struct{}{}
	}
	sm.loaded.Store(true)
	return sm
}

func testDescriptor(t *testing.T, layout *metadata.VertexLayout) *metadata.PipelineDescriptor {
	t.Helper()
	vs, err := metadata.NewShaderStage(metadata.ShaderStageVertex, detachedModule("tri.vert", "main"), "")
	if err != nil {
		t.Fatal(err)
	}
	fs, err := metadata.NewShaderStage(metadata.ShaderStageFragment, detachedModule("tri.frag", "main", "alt"), "alt")
	if err != nil {
		t.Fatal(err)
	}
	d, err := metadata.NewPipelineDescriptor(metadata.PipelineDescriptorConfig{
		Name:     "triangle",
		Stages:   []*metadata.ShaderStage{fs, vs},
		Layout:   layout,
		Topology: metadata.PrimitiveTopologyTriangleStrip,
		Blend:    metadata.BlendModeAlpha,
		CullMode: metadata.FaceCullModeBack,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

var testTarget = metadata.TargetConfig{
	Format:     metadata.ImageFormatB8G8R8A8Unorm,
	Extent:     metadata.Extent2D{Width: 800, Height: 600},
	ImageCount: 3,
}

func TestPipelineConfigProcedural(t *testing.T) {
	cfg, err := pipelineConfigFor(testDescriptor(t, metadata.ProceduralVertexLayout()), testTarget)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Bindings) != 0 || len(cfg.Attributes) != 0 {
		t.Errorf("procedural layout produced %d bindings, %d attributes", len(cfg.Bindings), len(cfg.Attributes))
	}
	if cfg.Viewport.Width != 800 || cfg.Viewport.Height != 600 {
		t.Errorf("viewport = %vx%v", cfg.Viewport.Width, cfg.Viewport.Height)
	}
	if cfg.Scissor.Extent.Width != 800 || cfg.Scissor.Extent.Height != 600 {
		t.Errorf("scissor = %v", cfg.Scissor.Extent)
	}
	if cfg.Topology != vk.PrimitiveTopologyTriangleStrip {
		t.Errorf("topology = %v", cfg.Topology)
	}
	if cfg.Blend.BlendEnable != vk.True {
		t.Error("alpha blend not enabled")
	}
	if len(cfg.Stages) != 2 {
		t.Fatalf("got %d stages", len(cfg.Stages))
	}
	if cfg.Stages[0].Stage != vk.ShaderStageVertexBit || cfg.Stages[1].Stage != vk.ShaderStageFragmentBit {
		t.Errorf("stage order = %v, %v", cfg.Stages[0].Stage, cfg.Stages[1].Stage)
	}
	if cfg.Stages[1].PName != "alt\x00" {
		t.Errorf("fragment entry = %q", cfg.Stages[1].PName)
	}
}

func TestPipelineConfigVertexBuffer(t *testing.T) {
	layout, err := metadata.NewVertexLayout(
		[]metadata.VertexBinding{{Binding: 0, Stride: 20}},
		[]metadata.VertexAttribute{
			{Location: 0, Binding: 0, Format: metadata.VertexFormatFloat2, Offset: 0},
			{Location: 1, Binding: 0, Format: metadata.VertexFormatFloat3, Offset: 8},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := pipelineConfigFor(testDescriptor(t, layout), testTarget)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Bindings) != 1 || cfg.Bindings[0].Stride != 20 || cfg.Bindings[0].InputRate != vk.VertexInputRateVertex {
		t.Errorf("bindings = %+v", cfg.Bindings)
	}
	if len(cfg.Attributes) != 2 {
		t.Fatalf("got %d attributes", len(cfg.Attributes))
	}
	if cfg.Attributes[1].Format != vk.FormatR32g32b32Sfloat || cfg.Attributes[1].Offset != 8 {
		t.Errorf("colour attribute = %+v", cfg.Attributes[1])
	}
}

func TestPipelineConfigRejectsDestroyedModule(t *testing.T) {
	d := testDescriptor(t, metadata.ProceduralVertexLayout())
	d.Stage(metadata.ShaderStageVertex).Module().(*VulkanShaderModule).loaded.Store(false)

	_, err := pipelineConfigFor(d, testTarget)
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("err = %v, want a validation error", err)
	}
}

func TestRepackUint32(t *testing.T) {
	words := repackUint32([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0x00, 0x00, 0x00})
	if len(words) != 2 {
		t.Fatalf("got %d words", len(words))
	}
	// SPIR-V magic, little endian
	if words[0] != 0x07230203 || words[1] != 1 {
		t.Errorf("words = %#x", words)
	}
	if len(repackUint32(nil)) != 0 {
		t.Error("empty input should give no words")
	}
}
