package metadata

import (
	"fmt"

	"github.com/spaghettifunk/anima-gfx/engine/core"
)

var (
	ErrInvalidStage       = fmt.Errorf("%w: invalid shader stage", core.ErrValidation)
	ErrLayoutConflict     = fmt.Errorf("%w: vertex layout conflict", core.ErrValidation)
	ErrIncompleteStageSet = fmt.Errorf("%w: incomplete stage set", core.ErrValidation)
	ErrDrawMismatch       = fmt.Errorf("%w: draw does not match the vertex layout", core.ErrValidation)
	ErrUnknownWindowMode  = fmt.Errorf("%w: unknown window mode", core.ErrValidation)
)
