package metadata

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spaghettifunk/anima-gfx/engine/core"
)

type PrimitiveTopology uint8

const (
	PrimitiveTopologyTriangleList PrimitiveTopology = iota
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyLineList
	PrimitiveTopologyPointList
)

var primitiveTopologyNames = map[PrimitiveTopology]string{
	PrimitiveTopologyTriangleList:  "triangle_list",
	PrimitiveTopologyTriangleStrip: "triangle_strip",
	PrimitiveTopologyLineList:      "line_list",
	PrimitiveTopologyPointList:     "point_list",
}

func (p PrimitiveTopology) String() string { return primitiveTopologyNames[p] }

func (p PrimitiveTopology) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PrimitiveTopology) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, primitiveTopologyNames, p)
}

type BlendMode uint8

const (
	BlendModeOpaque BlendMode = iota
	BlendModeAlpha
	BlendModeAdditive
)

var blendModeNames = map[BlendMode]string{
	BlendModeOpaque:   "opaque",
	BlendModeAlpha:    "alpha",
	BlendModeAdditive: "additive",
}

func (b BlendMode) String() string { return blendModeNames[b] }

func (b BlendMode) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *BlendMode) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, blendModeNames, b)
}

type FaceCullMode uint8

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

var faceCullModeNames = map[FaceCullMode]string{
	FaceCullModeNone:         "none",
	FaceCullModeFront:        "front",
	FaceCullModeBack:         "back",
	FaceCullModeFrontAndBack: "front_and_back",
}

func (c FaceCullMode) String() string { return faceCullModeNames[c] }

func (c FaceCullMode) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *FaceCullMode) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, faceCullModeNames, c)
}

// DescriptorKey is the structural identity of a descriptor. Two descriptors
// with equal keys build interchangeable pipelines.
type DescriptorKey string

// PipelineDescriptorConfig is the input to NewPipelineDescriptor.
type PipelineDescriptorConfig struct {
	Name      string
	Stages    []*ShaderStage
	Layout    *VertexLayout
	Topology  PrimitiveTopology
	Blend     BlendMode
	CullMode  FaceCullMode
	Wireframe bool
}

// PipelineDescriptor is the pure-data description of a graphics pipeline.
// It holds a reference on each of its stages until Release.
type PipelineDescriptor struct {
	name      string
	stages    []*ShaderStage
	layout    *VertexLayout
	topology  PrimitiveTopology
	blend     BlendMode
	cullMode  FaceCullMode
	wireframe bool
	key       DescriptorKey

	releaseOnce sync.Once
}

// NewPipelineDescriptor requires exactly one vertex and one fragment stage
// and a vertex layout. Stages are stored vertex first.
func NewPipelineDescriptor(config PipelineDescriptorConfig) (*PipelineDescriptor, error) {
	if config.Layout == nil {
		return nil, fmt.Errorf("%w: pipeline %q has no vertex layout", core.ErrValidation, config.Name)
	}

	var vertex, fragment *ShaderStage
	var errs []error
	for i, s := range config.Stages {
		if s == nil {
			errs = append(errs, fmt.Errorf("stage %d is nil", i))
			continue
		}
		switch s.Kind() {
		case ShaderStageVertex:
			if vertex != nil {
				errs = append(errs, errors.New("more than one vertex stage"))
			}
			vertex = s
		case ShaderStageFragment:
			if fragment != nil {
				errs = append(errs, errors.New("more than one fragment stage"))
			}
			fragment = s
		default:
			errs = append(errs, fmt.Errorf("unsupported stage kind %s", s.Kind()))
		}
	}
	if vertex == nil {
		errs = append(errs, errors.New("missing vertex stage"))
	}
	if fragment == nil {
		errs = append(errs, errors.New("missing fragment stage"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: pipeline %q: %w", ErrIncompleteStageSet, config.Name, errors.Join(errs...))
	}

	d := &PipelineDescriptor{
		name:      config.Name,
		stages:    []*ShaderStage{vertex.Retain(), fragment.Retain()},
		layout:    config.Layout,
		topology:  config.Topology,
		blend:     config.Blend,
		cullMode:  config.CullMode,
		wireframe: config.Wireframe,
	}
	d.key = d.computeKey()
	return d, nil
}

func (d *PipelineDescriptor) computeKey() DescriptorKey {
	var sb strings.Builder
	for _, s := range d.stages {
		sb.WriteString(s.String())
		sb.WriteByte('|')
	}
	sb.WriteString(d.layout.key())
	fmt.Fprintf(&sb, "|%s|%s|%s|%t", d.topology, d.blend, d.cullMode, d.wireframe)
	return DescriptorKey(sb.String())
}

func (d *PipelineDescriptor) Name() string { return d.name }

func (d *PipelineDescriptor) Key() DescriptorKey { return d.key }

func (d *PipelineDescriptor) Stages() []*ShaderStage {
	return append([]*ShaderStage(nil), d.stages...)
}

// Stage returns the stage of the given kind, nil if absent.
func (d *PipelineDescriptor) Stage(kind ShaderStageKind) *ShaderStage {
	for _, s := range d.stages {
		if s.Kind() == kind {
			return s
		}
	}
	return nil
}

func (d *PipelineDescriptor) Layout() *VertexLayout { return d.layout }

func (d *PipelineDescriptor) Topology() PrimitiveTopology { return d.topology }

func (d *PipelineDescriptor) Blend() BlendMode { return d.blend }

func (d *PipelineDescriptor) CullMode() FaceCullMode { return d.cullMode }

func (d *PipelineDescriptor) Wireframe() bool { return d.wireframe }

// Release drops the descriptor's references on its stages. Safe to call
// more than once.
func (d *PipelineDescriptor) Release() {
	d.releaseOnce.Do(func() {
		for _, s := range d.stages {
			s.Release()
		}
	})
}
