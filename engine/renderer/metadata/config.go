package metadata

import "fmt"

// PipelineConfig is the on-disk form of a pipeline definition. Shader files
// are SPIR-V paths relative to the assets directory.
type PipelineConfig struct {
	Name      string              `toml:"name"`
	Topology  PrimitiveTopology   `toml:"topology"`
	Blend     BlendMode           `toml:"blend"`
	CullMode  FaceCullMode        `toml:"cull_mode"`
	Wireframe bool                `toml:"wireframe"`
	Stages    []ShaderStageConfig `toml:"stages"`
	Vertex    VertexLayoutConfig  `toml:"vertex"`
}

type ShaderStageConfig struct {
	Kind  ShaderStageKind `toml:"kind"`
	File  string          `toml:"file"`
	Entry string          `toml:"entry"`
}

// VertexLayoutConfig with Procedural set must not declare bindings.
type VertexLayoutConfig struct {
	Procedural bool              `toml:"procedural"`
	Bindings   []VertexBinding   `toml:"bindings"`
	Attributes []VertexAttribute `toml:"attributes"`
}

// Layout validates the configured layout.
func (c VertexLayoutConfig) Layout() (*VertexLayout, error) {
	if c.Procedural {
		if len(c.Bindings) > 0 || len(c.Attributes) > 0 {
			return nil, fmt.Errorf("%w: procedural layout declares vertex inputs", ErrLayoutConflict)
		}
		return ProceduralVertexLayout(), nil
	}
	return NewVertexLayout(c.Bindings, c.Attributes)
}
