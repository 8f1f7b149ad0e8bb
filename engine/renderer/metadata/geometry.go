package metadata

import "fmt"

// Geometry is vertex data uploaded by the renderer backend. InternalData
// belongs to the backend.
type Geometry struct {
	Name         string
	VertexCount  uint32
	VertexSize   uint32
	InternalData interface{}
}

// DrawCall records one draw. A nil Geometry draws VertexCount procedural
// vertices.
type DrawCall struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	Geometry      *Geometry
}

// Validate checks that the call can be recorded with a pipeline using
// layout. A procedural layout takes no geometry. A bound layout takes one
// geometry whose vertex size is the stride of binding 0.
func (c DrawCall) Validate(layout *VertexLayout) error {
	if layout.IsProcedural() {
		if c.Geometry != nil {
			return fmt.Errorf("%w: geometry %q given to a procedural layout", ErrDrawMismatch, c.Geometry.Name)
		}
		return nil
	}
	if c.Geometry == nil {
		return fmt.Errorf("%w: layout binds vertex input but the draw has no geometry", ErrDrawMismatch)
	}
	if len(layout.bindings) != 1 {
		return fmt.Errorf("%w: layout declares %d bindings, a draw binds one", ErrDrawMismatch, len(layout.bindings))
	}
	stride, ok := layout.Stride(0)
	if !ok {
		return fmt.Errorf("%w: layout has no binding 0", ErrDrawMismatch)
	}
	if c.Geometry.VertexSize != stride {
		return fmt.Errorf("%w: geometry %q has %d byte vertices, layout stride is %d",
			ErrDrawMismatch, c.Geometry.Name, c.Geometry.VertexSize, stride)
	}
	return nil
}

// DrawSubmission pairs the pipeline a draw needs with the draw itself.
type DrawSubmission struct {
	Pipeline string
	Call     DrawCall
}

// RenderPacket is what the game hands the renderer every frame.
type RenderPacket struct {
	DeltaTime   float64
	Submissions []DrawSubmission
}
