package metadata

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima-gfx/engine/core"
)

func TestNewPipelineDescriptorIncompleteStageSet(t *testing.T) {
	v1 := mustStage(t, ShaderStageVertex, 1)
	v2 := mustStage(t, ShaderStageVertex, 2)
	f1 := mustStage(t, ShaderStageFragment, 3)
	f2 := mustStage(t, ShaderStageFragment, 4)

	tests := []struct {
		name   string
		stages []*ShaderStage
	}{
		{"two vertex no fragment", []*ShaderStage{v1, v2}},
		{"fragment only", []*ShaderStage{f1}},
		{"two fragments", []*ShaderStage{v1, f1, f2}},
		{"empty", nil},
		{"nil stage", []*ShaderStage{v1, nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipelineDescriptor(PipelineDescriptorConfig{
				Name:   tt.name,
				Stages: tt.stages,
				Layout: ProceduralVertexLayout(),
			})
			if !errors.Is(err, ErrIncompleteStageSet) {
				t.Errorf("err = %v, want ErrIncompleteStageSet", err)
			}
		})
	}
	// failed construction must not leak references
	for _, s := range []*ShaderStage{v1, v2, f1, f2} {
		if s.RefCount() != 1 {
			t.Errorf("stage %s RefCount() = %d, want 1", s, s.RefCount())
		}
	}
}

func TestNewPipelineDescriptorRequiresLayout(t *testing.T) {
	_, err := NewPipelineDescriptor(PipelineDescriptorConfig{
		Stages: []*ShaderStage{mustStage(t, ShaderStageVertex, 1), mustStage(t, ShaderStageFragment, 2)},
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("err = %v, want core.ErrValidation", err)
	}
}

func TestPipelineDescriptorKeyIsStructural(t *testing.T) {
	vs := mustStage(t, ShaderStageVertex, 1)
	fs := mustStage(t, ShaderStageFragment, 2)

	a, err := NewPipelineDescriptor(PipelineDescriptorConfig{
		Name:   "a",
		Stages: []*ShaderStage{vs, fs},
		Layout: ProceduralVertexLayout(),
	})
	if err != nil {
		t.Fatal(err)
	}
	// same fields, different order and name
	b, err := NewPipelineDescriptor(PipelineDescriptorConfig{
		Name:   "b",
		Stages: []*ShaderStage{fs, vs},
		Layout: ProceduralVertexLayout(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Key() != b.Key() {
		t.Errorf("keys differ:\n%s\n%s", a.Key(), b.Key())
	}
	if a.Stages()[0].Kind() != ShaderStageVertex {
		t.Error("stages not stored vertex first")
	}

	wire, err := NewPipelineDescriptor(PipelineDescriptorConfig{
		Stages:    []*ShaderStage{vs, fs},
		Layout:    ProceduralVertexLayout(),
		Wireframe: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if wire.Key() == a.Key() {
		t.Error("wireframe descriptor shares key with filled descriptor")
	}
}

func TestPipelineDescriptorReleasesStages(t *testing.T) {
	vm := newFakeModule(1)
	fm := newFakeModule(2)
	vs, _ := NewShaderStage(ShaderStageVertex, vm, "main")
	fs, _ := NewShaderStage(ShaderStageFragment, fm, "main")

	d1, err := NewPipelineDescriptor(PipelineDescriptorConfig{Stages: []*ShaderStage{vs, fs}, Layout: ProceduralVertexLayout()})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := NewPipelineDescriptor(PipelineDescriptorConfig{Stages: []*ShaderStage{vs, fs}, Layout: ProceduralVertexLayout(), CullMode: FaceCullModeBack})
	if err != nil {
		t.Fatal(err)
	}
	// drop the construction references; the descriptors keep the modules alive
	vs.Release()
	fs.Release()

	d1.Release()
	d1.Release()
	if vm.destroyed != 0 || fm.destroyed != 0 {
		t.Fatal("module destroyed while a descriptor still references it")
	}
	d2.Release()
	if vm.destroyed != 1 || fm.destroyed != 1 {
		t.Errorf("destroyed = (%d, %d), want (1, 1)", vm.destroyed, fm.destroyed)
	}
}

func TestVertexLayoutConfig(t *testing.T) {
	cfg := VertexLayoutConfig{
		Procedural: true,
		Bindings:   []VertexBinding{{Binding: 0, Stride: 8}},
	}
	if _, err := cfg.Layout(); !errors.Is(err, ErrLayoutConflict) {
		t.Errorf("procedural with bindings: err = %v, want ErrLayoutConflict", err)
	}
	cfg = VertexLayoutConfig{Procedural: true}
	l, err := cfg.Layout()
	if err != nil || !l.IsProcedural() {
		t.Errorf("Layout() = %v, %v", l, err)
	}
}
