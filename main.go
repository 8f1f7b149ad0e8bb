/*
Triangle testbed for the pipeline cache. Press space to switch between the
procedural and the vertex buffer pipeline; edit assets/ while it runs to
hot reload them.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-gfx/engine"
	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/testbed"
)

func main() {
	config, err := engine.ParseApplicationConfig(os.Args[0], os.Args[1:])
	if err != nil {
		core.LogFatal("%s", err)
	}
	if config.ListGPUs {
		if err := engine.ListGPUs(os.Stdout, config.Debug); err != nil {
			core.LogFatal("%s", err)
		}
		return
	}

	tb := testbed.NewTestGame(config)
	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("%s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := e.Initialize(ctx); err != nil {
		core.LogError("%s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%s", runErr)
	}
}
