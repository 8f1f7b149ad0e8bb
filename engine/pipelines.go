package engine

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-gfx/engine/assets"
	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

type stageKey struct {
	file  string
	kind  metadata.ShaderStageKind
	entry string
}

// pipelineLibrary turns pipeline definitions into registered descriptors.
// Stages are shared between pipelines that name the same shader file, kind
// and entry point; the library holds one reference on each.
type pipelineLibrary struct {
	assets   *assets.AssetManager
	renderer *renderer.Renderer

	stages map[stageKey]*metadata.ShaderStage
	// shader files each registered pipeline was built from
	sources map[string][]string
}

func newPipelineLibrary(am *assets.AssetManager, r *renderer.Renderer) *pipelineLibrary {
	return &pipelineLibrary{
		assets:   am,
		renderer: r,
		stages:   make(map[stageKey]*metadata.ShaderStage),
		sources:  make(map[string][]string),
	}
}

// LoadAll registers every pipeline definition under the assets directory.
func (l *pipelineLibrary) LoadAll() error {
	var errs []error
	for _, rel := range l.assets.List(assets.AssetTypePipeline) {
		name, _ := assets.PipelineName(rel)
		if err := l.Load(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load builds the descriptor for the named definition and registers it,
// replacing any previous one.
func (l *pipelineLibrary) Load(name string) error {
	config, err := l.assets.LoadPipeline(name)
	if err != nil {
		return err
	}
	layout, err := config.Vertex.Layout()
	if err != nil {
		return fmt.Errorf("pipeline %q: %w", name, err)
	}

	stages := make([]*metadata.ShaderStage, 0, len(config.Stages))
	files := make([]string, 0, len(config.Stages))
	for _, sc := range config.Stages {
		stage, err := l.stage(sc)
		if err != nil {
			return fmt.Errorf("pipeline %q: %w", name, err)
		}
		stages = append(stages, stage)
		files = append(files, sc.File)
	}

	descriptor, err := metadata.NewPipelineDescriptor(metadata.PipelineDescriptorConfig{
		Name:      config.Name,
		Stages:    stages,
		Layout:    layout,
		Topology:  config.Topology,
		Blend:     config.Blend,
		CullMode:  config.CullMode,
		Wireframe: config.Wireframe,
	})
	if err != nil {
		return err
	}
	if _, err := l.renderer.RegisterPipeline(descriptor); err != nil {
		descriptor.Release()
		return err
	}
	l.sources[config.Name] = files
	return nil
}

func (l *pipelineLibrary) stage(sc metadata.ShaderStageConfig) (*metadata.ShaderStage, error) {
	entry := sc.Entry
	if entry == "" {
		entry = metadata.DefaultEntryPoint
	}
	key := stageKey{file: sc.File, kind: sc.Kind, entry: entry}
	if s, ok := l.stages[key]; ok {
		return s, nil
	}

	src, err := l.assets.LoadShader(sc.File)
	if err != nil {
		return nil, err
	}
	entries := src.EntryPointNames(sc.Kind)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s has no %s entry point", metadata.ErrInvalidStage, sc.File, sc.Kind)
	}
	module, err := l.renderer.CreateShaderModule(sc.File, src.Code, entries)
	if err != nil {
		return nil, err
	}
	s, err := metadata.NewShaderStage(sc.Kind, module, entry)
	if err != nil {
		module.Destroy()
		return nil, err
	}
	l.stages[key] = s
	return s, nil
}

// AssetChanged reloads whatever depends on the asset at rel. A definition
// that fails to reload leaves the previous pipeline registered.
func (l *pipelineLibrary) AssetChanged(ev core.AssetEvent) {
	switch assets.DetermineAssetType(ev.Path) {
	case assets.AssetTypePipeline:
		name, _ := assets.PipelineName(ev.Path)
		if ev.Removed {
			if l.renderer.UnregisterPipeline(name) {
				delete(l.sources, name)
				core.LogInfo("pipeline %q removed", name)
			}
			return
		}
		l.reload(name)

	case assets.AssetTypeShader:
		l.dropStages(ev.Path)
		if ev.Removed {
			return
		}
		for _, name := range l.renderer.Pipelines() {
			for _, file := range l.sources[name] {
				if file == ev.Path {
					l.reload(name)
					break
				}
			}
		}
	}
}

func (l *pipelineLibrary) reload(name string) {
	if err := l.Load(name); err != nil {
		core.LogError("reloading pipeline %q: %s", name, err)
		return
	}
	core.LogInfo("pipeline %q reloaded", name)
}

// dropStages forgets the stages built from file. Descriptors using them keep
// them alive until they are released.
func (l *pipelineLibrary) dropStages(file string) {
	for key, s := range l.stages {
		if key.file == file {
			delete(l.stages, key)
			s.Release()
		}
	}
}

// Close drops the library's stage references. Call it before the renderer
// shuts down so the last release happens while the device is alive.
func (l *pipelineLibrary) Close() {
	for key, s := range l.stages {
		delete(l.stages, key)
		s.Release()
	}
}
