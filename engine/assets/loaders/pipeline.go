package loaders

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

// PipelineLoader decodes pipeline definitions. Unknown keys are rejected so
// a typo does not silently fall back to a default.
type PipelineLoader struct{}

func (PipelineLoader) Load(path string) (*metadata.PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := DecodePipelineConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if config.Name == "" {
		config.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return config, nil
}

func DecodePipelineConfig(data []byte) (*metadata.PipelineConfig, error) {
	config := &metadata.PipelineConfig{}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s", core.ErrValidation, strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("%w: line %d column %d: %s", core.ErrValidation, row, col, decodeErr.Error())
		}
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if len(config.Stages) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q declares no stages", core.ErrValidation, config.Name)
	}
	for i, s := range config.Stages {
		if s.File == "" {
			return nil, fmt.Errorf("%w: stage %d of pipeline %q has no file", core.ErrValidation, i, config.Name)
		}
	}
	return config, nil
}
