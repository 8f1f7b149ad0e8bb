package loaders

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

const vertexPipeline = `
topology = "triangle_list"
blend = "alpha"
cull_mode = "back"

[[stages]]
kind = "vertex"
file = "shaders/colored.vert.spv"

[[stages]]
kind = "fragment"
file = "shaders/colored.frag.spv"
entry = "main"

[vertex]
[[vertex.bindings]]
binding = 0
stride = 20
rate = "vertex"

[[vertex.attributes]]
location = 0
binding = 0
format = "float2"
offset = 0

[[vertex.attributes]]
location = 1
binding = 0
format = "float3"
offset = 8
`

func TestDecodePipelineConfig(t *testing.T) {
	config, err := DecodePipelineConfig([]byte(vertexPipeline))
	if err != nil {
		t.Fatal(err)
	}
	if config.Blend != metadata.BlendModeAlpha || config.CullMode != metadata.FaceCullModeBack {
		t.Errorf("blend %s cull %s", config.Blend, config.CullMode)
	}
	if len(config.Stages) != 2 || config.Stages[1].Kind != metadata.ShaderStageFragment {
		t.Fatalf("stages = %+v", config.Stages)
	}
	layout, err := config.Vertex.Layout()
	if err != nil {
		t.Fatal(err)
	}
	if stride, ok := layout.Stride(0); !ok || stride != 20 {
		t.Errorf("Stride(0) = %d, %t", stride, ok)
	}
	if layout.IsProcedural() {
		t.Error("bound layout reported procedural")
	}
}

func TestDecodePipelineConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "colour = 1\n[[stages]]\nkind = \"vertex\"\nfile = \"a.spv\"\n"},
		{"bad enum", "blend = \"multiply\"\n[[stages]]\nkind = \"vertex\"\nfile = \"a.spv\"\n"},
		{"syntax", "topology = \n"},
		{"no stages", "name = \"empty\"\n"},
		{"stage without file", "[[stages]]\nkind = \"vertex\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePipelineConfig([]byte(tt.doc)); !errors.Is(err, core.ErrValidation) {
				t.Errorf("DecodePipelineConfig() = %v, want ErrValidation", err)
			}
		})
	}
}

func TestPipelineLoaderNamesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colored.toml")
	if err := os.WriteFile(path, []byte(vertexPipeline), 0o644); err != nil {
		t.Fatal(err)
	}
	config, err := PipelineLoader{}.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.Name != "colored" {
		t.Errorf("Name = %q, want colored", config.Name)
	}
}
