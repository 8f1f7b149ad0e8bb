package metadata

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima-gfx/engine/core"
)

func TestDrawCallValidate(t *testing.T) {
	colored, err := NewVertexLayout(
		[]VertexBinding{{Binding: 0, Stride: 20}},
		[]VertexAttribute{
			{Location: 0, Binding: 0, Format: VertexFormatFloat2, Offset: 0},
			{Location: 1, Binding: 0, Format: VertexFormatFloat3, Offset: 8},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	twoBindings, err := NewVertexLayout(
		[]VertexBinding{{Binding: 0, Stride: 8}, {Binding: 1, Stride: 12}},
		[]VertexAttribute{
			{Location: 0, Binding: 0, Format: VertexFormatFloat2, Offset: 0},
			{Location: 1, Binding: 1, Format: VertexFormatFloat3, Offset: 0},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		layout  *VertexLayout
		call    DrawCall
		wantErr bool
	}{
		{"procedural", ProceduralVertexLayout(), DrawCall{VertexCount: 3}, false},
		{"procedural with geometry", ProceduralVertexLayout(), DrawCall{Geometry: &Geometry{Name: "g", VertexSize: 20}}, true},
		{"bound", colored, DrawCall{Geometry: &Geometry{Name: "g", VertexSize: 20, VertexCount: 3}}, false},
		{"bound without geometry", colored, DrawCall{VertexCount: 3}, true},
		{"stride mismatch", colored, DrawCall{Geometry: &Geometry{Name: "g", VertexSize: 24}}, true},
		{"two bindings", twoBindings, DrawCall{Geometry: &Geometry{Name: "g", VertexSize: 8}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call.Validate(tt.layout)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrDrawMismatch) || !errors.Is(err, core.ErrValidation) {
				t.Errorf("Validate() = %v, want ErrDrawMismatch", err)
			}
		})
	}
}
