package assets

import (
	"github.com/spaghettifunk/anima-gfx/engine/assets/loaders"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

// Loader reads one kind of asset from an absolute path.
type Loader[T any] interface {
	Load(path string) (T, error)
}

var (
	_ Loader[*loaders.ShaderSource]    = loaders.ShaderLoader{}
	_ Loader[*metadata.PipelineConfig] = loaders.PipelineLoader{}
)
