//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", "main.go")); err != nil {
		return err
	}
	return nil
}

// Runs the testbed with validation layers and debug logging.
func (Run) Debug() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("run", "main.go", "-debug", "-v", "debug"))
	return err
}
