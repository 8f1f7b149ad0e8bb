package core

import (
	"errors"
)

var (
	// ErrValidation marks a malformed shader stage, vertex layout or
	// pipeline descriptor. Raised at construction time, never per frame.
	ErrValidation = errors.New("validation failed")
	// ErrBuild marks a device-side pipeline build failure. The next request
	// for the same key retries.
	ErrBuild = errors.New("pipeline build failed")
	// ErrTeardownRace marks use of a pipeline instance or a render target
	// after the target has been torn down.
	ErrTeardownRace = errors.New("render target torn down")

	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
)
