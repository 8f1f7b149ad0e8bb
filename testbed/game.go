package testbed

import (
	"encoding/binary"
	"errors"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/anima-gfx/engine"
	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/math"
	"github.com/spaghettifunk/anima-gfx/engine/renderer"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

const (
	ProceduralPipeline = "procedural"
	ColoredPipeline    = "colored"

	// GLFW_KEY_SPACE
	keySpace = 32
)

// Vertex matches the colored pipeline's binding 0.
type Vertex struct {
	Position math.Vec2 `vertex:"0"`
	Color    math.Vec3 `vertex:"1"`
}

var triangle = []Vertex{
	{Position: math.NewVec2(0.0, -0.5), Color: math.NewVec3(1, 0, 0)},
	{Position: math.NewVec2(0.5, 0.5), Color: math.NewVec3(0, 1, 0)},
	{Position: math.NewVec2(-0.5, 0.5), Color: math.NewVec3(0, 0, 1)},
}

type gameState struct {
	elapsed  float64
	geometry *metadata.Geometry
	// draw the vertex buffer triangle instead of the procedural one
	colored bool
}

type TestGame struct {
	*engine.Game
	state *gameState
}

func NewTestGame(config *engine.ApplicationConfig) *TestGame {
	state := &gameState{}
	tg := &TestGame{state: state}
	tg.Game = &engine.Game{
		ApplicationConfig: config,
		State:             state,
		FnInitialize:      tg.initialize,
		FnUpdate:          tg.update,
		FnRender:          tg.render,
		FnOnResize:        tg.onResize,
		FnShutdown:        tg.shutdown,
	}
	return tg
}

func (g *TestGame) initialize(r *renderer.Renderer) error {
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, g, g.onKey)

	layout, err := metadata.DeriveVertexLayout(0, Vertex{})
	if err != nil {
		return err
	}
	if desc, ok := r.Pipeline(ColoredPipeline); ok {
		want, _ := layout.Stride(0)
		if got, _ := desc.Layout().Stride(0); got != want {
			return fmt.Errorf("%w: pipeline %q expects stride %d, vertices are %d bytes",
				core.ErrValidation, ColoredPipeline, got, want)
		}
	}

	stride, _ := layout.Stride(0)
	geometry, err := r.CreateGeometry("triangle", stride, uint32(len(triangle)), encodeVertices(triangle))
	if err != nil {
		return err
	}
	g.state.geometry = geometry
	core.LogInfo("testbed ready, press space to switch pipelines")
	return nil
}

func encodeVertices(vertices []Vertex) []byte {
	out := make([]byte, 0, len(vertices)*20)
	for _, v := range vertices {
		for _, f := range []float32{v.Position.X, v.Position.Y, v.Color.X, v.Color.Y, v.Color.Z} {
			out = binary.LittleEndian.AppendUint32(out, gomath.Float32bits(f))
		}
	}
	return out
}

func (g *TestGame) update(deltaTime float64) error {
	g.state.elapsed += deltaTime
	return nil
}

func (g *TestGame) render(packet *metadata.RenderPacket, deltaTime float64) error {
	if g.state.colored {
		if g.state.geometry == nil {
			return errors.New("vertex buffer triangle not created")
		}
		packet.Submissions = append(packet.Submissions, metadata.DrawSubmission{
			Pipeline: ColoredPipeline,
			Call:     metadata.DrawCall{Geometry: g.state.geometry},
		})
		return nil
	}
	packet.Submissions = append(packet.Submissions, metadata.DrawSubmission{
		Pipeline: ProceduralPipeline,
		Call:     metadata.DrawCall{VertexCount: 3},
	})
	return nil
}

func (g *TestGame) onResize(width uint32, height uint32) error {
	core.LogDebug("testbed resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) onKey(ctx core.EventContext) bool {
	ke, ok := ctx.Data.(core.KeyEvent)
	if !ok || ke.Key != keySpace {
		return false
	}
	g.state.colored = !g.state.colored
	if g.state.colored {
		core.LogInfo("drawing with %q", ColoredPipeline)
	} else {
		core.LogInfo("drawing with %q", ProceduralPipeline)
	}
	return true
}

func (g *TestGame) shutdown(r *renderer.Renderer) error {
	core.EventUnregister(core.EVENT_CODE_KEY_PRESSED, g)
	if g.state.geometry != nil {
		r.DestroyGeometry(g.state.geometry)
		g.state.geometry = nil
	}
	return nil
}
