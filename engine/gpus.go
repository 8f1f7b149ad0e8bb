package engine

import (
	"fmt"
	"io"

	"github.com/spaghettifunk/anima-gfx/engine/platform"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/vulkan"
)

// ListGPUs prints the physical devices the gpu option can select, without
// opening a window.
func ListGPUs(w io.Writer, debug bool) error {
	if err := platform.Init(); err != nil {
		return err
	}
	defer platform.Terminate()

	devices, err := vulkan.ListPhysicalDevices(debug)
	if err != nil {
		return err
	}
	return writeGPUList(w, devices)
}

func writeGPUList(w io.Writer, devices []vulkan.PhysicalDeviceInfo) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no Vulkan devices found")
		return err
	}
	for _, d := range devices {
		if _, err := fmt.Fprintln(w, d); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "pass the index with -gpu, or a negative value to pick automatically")
	return err
}
