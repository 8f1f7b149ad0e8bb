//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

const (
	shaderSrcDir = "assets/shaders/src"
	shaderOutDir = "assets/shaders"
)

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders/src to SPIR-V with glslc.
// Up to date outputs are skipped.
func (Build) Shaders() error {
	sources, err := shaderSources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shader sources in %s", shaderSrcDir)
	}
	for _, src := range sources {
		out := spirvPath(src)
		stale, err := target.Path(out, src)
		if err != nil {
			return err
		}
		if !stale {
			continue
		}
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withQuiet()); err != nil {
			return err
		}
	}
	return nil
}

// Runs the unit tests with the race detector.
func (Build) Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withEnv("CGO_ENABLED", "1"))
	return err
}

func shaderSources() ([]string, error) {
	var sources []string
	for _, ext := range []string{"*.vert", "*.frag"} {
		matches, err := filepath.Glob(filepath.Join(shaderSrcDir, ext))
		if err != nil {
			return nil, err
		}
		sources = append(sources, matches...)
	}
	return sources, nil
}

// triangle.vert becomes assets/shaders/triangle.vert.spv
func spirvPath(src string) string {
	return filepath.Join(shaderOutDir, filepath.Base(src)+".spv")
}

func cleanShaders() error {
	matches, err := filepath.Glob(filepath.Join(shaderOutDir, "*.spv"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}

// Removes compiled shaders.
func (Build) Clean() error {
	return cleanShaders()
}
