//go:build mage

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type cmdOptions struct {
	args []string
	env  map[string]string
	// quiet captures output and prints it only on failure
	quiet bool
}

type cmdOption func(*cmdOptions)

func withArgs(args ...string) cmdOption {
	return func(o *cmdOptions) {
		o.args = args
	}
}

func withEnv(key, value string) cmdOption {
	return func(o *cmdOptions) {
		if o.env == nil {
			o.env = map[string]string{}
		}
		o.env[key] = value
	}
}

func withQuiet() cmdOption {
	return func(o *cmdOptions) {
		o.quiet = true
	}
}

func executeCmd(command string, options ...cmdOption) (string, error) {
	opts := &cmdOptions{}
	for _, o := range options {
		o(opts)
	}

	fmt.Printf("Executing: %s %s\n", command, strings.Join(opts.args, " "))
	if opts.quiet && !mg.Verbose() {
		out, err := sh.OutputWith(opts.env, command, opts.args...)
		if err != nil {
			fmt.Println("... failed command output:")
			fmt.Println(out)
			return "", fmt.Errorf("error executing %s: %w", command, err)
		}
		return out, nil
	}
	if err := sh.RunWithV(opts.env, command, opts.args...); err != nil {
		return "", fmt.Errorf("error executing %s: %w", command, err)
	}
	return "", nil
}
