package metadata

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima-gfx/engine/math"
)

func TestNewVertexLayoutConflicts(t *testing.T) {
	binding := []VertexBinding{{Binding: 0, Stride: 20}}
	tests := []struct {
		name       string
		bindings   []VertexBinding
		attributes []VertexAttribute
	}{
		{
			name:     "duplicate location",
			bindings: binding,
			attributes: []VertexAttribute{
				{Location: 0, Binding: 0, Format: VertexFormatFloat2, Offset: 0},
				{Location: 0, Binding: 0, Format: VertexFormatFloat3, Offset: 8},
			},
		},
		{
			name:     "offsets not increasing",
			bindings: binding,
			attributes: []VertexAttribute{
				{Location: 0, Binding: 0, Format: VertexFormatFloat2, Offset: 8},
				{Location: 1, Binding: 0, Format: VertexFormatFloat2, Offset: 0},
			},
		},
		{
			name:     "overlapping attributes",
			bindings: binding,
			attributes: []VertexAttribute{
				{Location: 0, Binding: 0, Format: VertexFormatFloat3, Offset: 0},
				{Location: 1, Binding: 0, Format: VertexFormatFloat2, Offset: 8},
			},
		},
		{
			name:     "exceeds stride",
			bindings: binding,
			attributes: []VertexAttribute{
				{Location: 0, Binding: 0, Format: VertexFormatFloat4, Offset: 8},
			},
		},
		{
			name:     "offset wraps past stride",
			bindings: binding,
			attributes: []VertexAttribute{
				{Location: 0, Binding: 0, Format: VertexFormatFloat2, Offset: 0},
				{Location: 1, Binding: 0, Format: VertexFormatFloat3, Offset: 0xFFFFFFF8},
			},
		},
		{
			name:     "undeclared binding",
			bindings: binding,
			attributes: []VertexAttribute{
				{Location: 0, Binding: 1, Format: VertexFormatFloat2, Offset: 0},
			},
		},
		{
			name:     "duplicate binding",
			bindings: []VertexBinding{{Binding: 0, Stride: 8}, {Binding: 0, Stride: 12}},
			attributes: []VertexAttribute{
				{Location: 0, Binding: 0, Format: VertexFormatFloat2, Offset: 0},
			},
		},
		{
			name:     "undefined format",
			bindings: binding,
			attributes: []VertexAttribute{
				{Location: 0, Binding: 0, Offset: 0},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVertexLayout(tt.bindings, tt.attributes); !errors.Is(err, ErrLayoutConflict) {
				t.Errorf("err = %v, want ErrLayoutConflict", err)
			}
		})
	}
}

func TestNewVertexLayoutCopiesInput(t *testing.T) {
	attrs := []VertexAttribute{
		{Location: 0, Binding: 0, Format: VertexFormatFloat2, Offset: 0},
		{Location: 1, Binding: 0, Format: VertexFormatFloat3, Offset: 8},
	}
	l, err := NewVertexLayout([]VertexBinding{{Binding: 0, Stride: 20}}, attrs)
	if err != nil {
		t.Fatal(err)
	}
	attrs[0].Location = 5
	if got := l.Attributes()[0].Location; got != 0 {
		t.Errorf("layout changed through caller slice: location = %d", got)
	}
	if l.IsProcedural() {
		t.Error("bound layout reported as procedural")
	}
}

func TestProceduralVertexLayout(t *testing.T) {
	l := ProceduralVertexLayout()
	if !l.IsProcedural() || len(l.Attributes()) != 0 {
		t.Errorf("procedural layout has inputs: %+v", l.Attributes())
	}
}

type triangleVertex struct {
	Pos    [2]float32 `vertex:"0"`
	Colour math.Vec3  `vertex:"1"`
}

func TestDeriveVertexLayout(t *testing.T) {
	l, err := DeriveVertexLayout(0, triangleVertex{})
	if err != nil {
		t.Fatal(err)
	}
	stride, ok := l.Stride(0)
	if !ok || stride != 20 {
		t.Fatalf("Stride(0) = %d, %v, want 20", stride, ok)
	}
	want := []VertexAttribute{
		{Location: 0, Binding: 0, Format: VertexFormatFloat2, Offset: 0},
		{Location: 1, Binding: 0, Format: VertexFormatFloat3, Offset: 8},
	}
	got := l.Attributes()
	if len(got) != len(want) {
		t.Fatalf("got %d attributes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attribute %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDeriveVertexLayoutRejects(t *testing.T) {
	type untagged struct{ X float32 }
	type unsupported struct {
		Name string `vertex:"0"`
	}
	for name, v := range map[string]interface{}{
		"not a struct": 3,
		"untagged":     untagged{},
		"unsupported":  unsupported{},
	} {
		if _, err := DeriveVertexLayout(0, v); !errors.Is(err, ErrLayoutConflict) {
			t.Errorf("%s: err = %v, want ErrLayoutConflict", name, err)
		}
	}
}
