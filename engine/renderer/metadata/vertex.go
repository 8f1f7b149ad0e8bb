package metadata

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/spaghettifunk/anima-gfx/engine/math"
)

type VertexFormat uint8

const (
	VertexFormatUndefined VertexFormat = iota
	VertexFormatFloat
	VertexFormatFloat2
	VertexFormatFloat3
	VertexFormatFloat4
	VertexFormatInt
	VertexFormatInt2
	VertexFormatInt3
	VertexFormatInt4
	VertexFormatUint
	VertexFormatUByte4Norm
)

var vertexFormatNames = map[VertexFormat]string{
	VertexFormatFloat:      "float",
	VertexFormatFloat2:     "float2",
	VertexFormatFloat3:     "float3",
	VertexFormatFloat4:     "float4",
	VertexFormatInt:        "int",
	VertexFormatInt2:       "int2",
	VertexFormatInt3:       "int3",
	VertexFormatInt4:       "int4",
	VertexFormatUint:       "uint",
	VertexFormatUByte4Norm: "ubyte4norm",
}

var vertexFormatSizes = map[VertexFormat]uint32{
	VertexFormatFloat:      4,
	VertexFormatFloat2:     8,
	VertexFormatFloat3:     12,
	VertexFormatFloat4:     16,
	VertexFormatInt:        4,
	VertexFormatInt2:       8,
	VertexFormatInt3:       12,
	VertexFormatInt4:       16,
	VertexFormatUint:       4,
	VertexFormatUByte4Norm: 4,
}

// Size in bytes, 0 for VertexFormatUndefined.
func (f VertexFormat) Size() uint32 {
	return vertexFormatSizes[f]
}

func (f VertexFormat) String() string {
	if s, ok := vertexFormatNames[f]; ok {
		return s
	}
	return "undefined"
}

func (f VertexFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *VertexFormat) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, vertexFormatNames, f)
}

type VertexInputRate uint8

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

var vertexInputRateNames = map[VertexInputRate]string{
	VertexInputRateVertex:   "vertex",
	VertexInputRateInstance: "instance",
}

func (r VertexInputRate) String() string {
	return vertexInputRateNames[r]
}

func (r VertexInputRate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *VertexInputRate) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, vertexInputRateNames, r)
}

type VertexBinding struct {
	Binding   uint32          `toml:"binding"`
	Stride    uint32          `toml:"stride"`
	InputRate VertexInputRate `toml:"rate"`
}

type VertexAttribute struct {
	Location uint32       `toml:"location"`
	Binding  uint32       `toml:"binding"`
	Format   VertexFormat `toml:"format"`
	Offset   uint32       `toml:"offset"`
}

// VertexLayout describes how vertex buffers feed the vertex stage. A layout
// with no bindings is procedural: the vertex shader derives everything from
// the vertex index.
type VertexLayout struct {
	bindings   []VertexBinding
	attributes []VertexAttribute
}

// ProceduralVertexLayout is the zero-input layout.
func ProceduralVertexLayout() *VertexLayout {
	return &VertexLayout{}
}

// NewVertexLayout validates and copies the given bindings and attributes.
// Attributes are kept in declaration order; within one binding their
// offsets must be strictly increasing.
func NewVertexLayout(bindings []VertexBinding, attributes []VertexAttribute) (*VertexLayout, error) {
	strides := make(map[uint32]uint32, len(bindings))
	for _, b := range bindings {
		if _, dup := strides[b.Binding]; dup {
			return nil, fmt.Errorf("%w: duplicate binding %d", ErrLayoutConflict, b.Binding)
		}
		if b.Stride == 0 {
			return nil, fmt.Errorf("%w: binding %d has zero stride", ErrLayoutConflict, b.Binding)
		}
		strides[b.Binding] = b.Stride
	}

	locations := make(map[uint32]struct{}, len(attributes))
	lastEnd := make(map[uint32]uint32, len(bindings))
	seen := make(map[uint32]bool, len(bindings))
	for _, a := range attributes {
		if _, dup := locations[a.Location]; dup {
			return nil, fmt.Errorf("%w: duplicate location %d", ErrLayoutConflict, a.Location)
		}
		locations[a.Location] = struct{}{}

		stride, ok := strides[a.Binding]
		if !ok {
			return nil, fmt.Errorf("%w: location %d references undeclared binding %d", ErrLayoutConflict, a.Location, a.Binding)
		}
		size := a.Format.Size()
		if size == 0 {
			return nil, fmt.Errorf("%w: location %d has undefined format", ErrLayoutConflict, a.Location)
		}
		if seen[a.Binding] && a.Offset < lastEnd[a.Binding] {
			return nil, fmt.Errorf("%w: location %d offset %d overlaps the previous attribute of binding %d",
				ErrLayoutConflict, a.Location, a.Offset, a.Binding)
		}
		if a.Offset >= stride || size > stride-a.Offset {
			return nil, fmt.Errorf("%w: location %d (offset %d, %d bytes) exceeds stride %d",
				ErrLayoutConflict, a.Location, a.Offset, size, stride)
		}
		seen[a.Binding] = true
		lastEnd[a.Binding] = a.Offset + size
	}

	if len(bindings) > 0 && len(attributes) == 0 {
		return nil, fmt.Errorf("%w: bindings declared without attributes", ErrLayoutConflict)
	}

	l := &VertexLayout{
		bindings:   append([]VertexBinding(nil), bindings...),
		attributes: append([]VertexAttribute(nil), attributes...),
	}
	return l, nil
}

// DeriveVertexLayout builds a single-binding layout from a vertex struct.
// Fields tagged `vertex:"<location>"` become attributes at their Go offsets
// and the struct size becomes the stride. Supported field types are
// float32, [N]float32 and math.Vec2/3/4 for N in 2..4.
func DeriveVertexLayout(binding uint32, vertex interface{}) (*VertexLayout, error) {
	t := reflect.TypeOf(vertex)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: vertex type must be a struct, got %v", ErrLayoutConflict, t)
	}

	var attributes []VertexAttribute
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("vertex")
		if !ok {
			continue
		}
		location, err := strconv.ParseUint(tag, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s has invalid location tag %q", ErrLayoutConflict, field.Name, tag)
		}
		format := vertexFormatOf(field.Type)
		if format == VertexFormatUndefined {
			return nil, fmt.Errorf("%w: field %s has unsupported type %s", ErrLayoutConflict, field.Name, field.Type)
		}
		attributes = append(attributes, VertexAttribute{
			Location: uint32(location),
			Binding:  binding,
			Format:   format,
			Offset:   uint32(field.Offset),
		})
	}
	if len(attributes) == 0 {
		return nil, fmt.Errorf("%w: %s has no vertex tagged fields", ErrLayoutConflict, t)
	}

	bindings := []VertexBinding{{
		Binding:   binding,
		Stride:    uint32(t.Size()),
		InputRate: VertexInputRateVertex,
	}}
	return NewVertexLayout(bindings, attributes)
}

var (
	vec2Type = reflect.TypeOf(math.Vec2{})
	vec3Type = reflect.TypeOf(math.Vec3{})
	vec4Type = reflect.TypeOf(math.Vec4{})
)

func vertexFormatOf(t reflect.Type) VertexFormat {
	switch t {
	case vec2Type:
		return VertexFormatFloat2
	case vec3Type:
		return VertexFormatFloat3
	case vec4Type:
		return VertexFormatFloat4
	}
	switch t.Kind() {
	case reflect.Float32:
		return VertexFormatFloat
	case reflect.Int32:
		return VertexFormatInt
	case reflect.Uint32:
		return VertexFormatUint
	case reflect.Array:
		if t.Elem().Kind() != reflect.Float32 {
			return VertexFormatUndefined
		}
		switch t.Len() {
		case 2:
			return VertexFormatFloat2
		case 3:
			return VertexFormatFloat3
		case 4:
			return VertexFormatFloat4
		}
	}
	return VertexFormatUndefined
}

func (l *VertexLayout) IsProcedural() bool {
	return len(l.bindings) == 0
}

func (l *VertexLayout) Bindings() []VertexBinding {
	return append([]VertexBinding(nil), l.bindings...)
}

func (l *VertexLayout) Attributes() []VertexAttribute {
	return append([]VertexAttribute(nil), l.attributes...)
}

// Stride of the given binding, false if it is not declared.
func (l *VertexLayout) Stride(binding uint32) (uint32, bool) {
	for _, b := range l.bindings {
		if b.Binding == binding {
			return b.Stride, true
		}
	}
	return 0, false
}

// key is the canonical text form used for descriptor identity.
func (l *VertexLayout) key() string {
	if l.IsProcedural() {
		return "procedural"
	}
	s := ""
	for _, b := range l.bindings {
		s += fmt.Sprintf("b%d/%d/%s;", b.Binding, b.Stride, b.InputRate)
	}
	for _, a := range l.attributes {
		s += fmt.Sprintf("a%d@%d+%d:%s;", a.Location, a.Binding, a.Offset, a.Format)
	}
	return s
}
