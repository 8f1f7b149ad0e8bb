package vulkan

import (
	stdmath "math"
	"testing"

	vk "github.com/goki/vulkan"
)

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	got, err := chooseSurfaceFormat([]vk.SurfaceFormat{other, preferred})
	if err != nil || got.Format != preferred.Format {
		t.Errorf("got %v, %v; want preferred format", got, err)
	}
	got, err = chooseSurfaceFormat([]vk.SurfaceFormat{other})
	if err != nil || got.Format != other.Format {
		t.Errorf("fallback = %v, %v", got, err)
	}
	if _, err := chooseSurfaceFormat(nil); err == nil {
		t.Error("expected an error for an empty format list")
	}
}

func TestChoosePresentMode(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeImmediate, vk.PresentModeMailbox}
	if got := choosePresentMode(modes, false); got != vk.PresentModeMailbox {
		t.Errorf("got %v, want mailbox", got)
	}
	if got := choosePresentMode(modes, true); got != vk.PresentModeFifo {
		t.Errorf("vsync got %v, want fifo", got)
	}
	if got := choosePresentMode([]vk.PresentMode{vk.PresentModeImmediate}, false); got != vk.PresentModeFifo {
		t.Errorf("got %v, want fifo fallback", got)
	}
}

func TestChooseExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: 640, Height: 480},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	if got := chooseExtent(caps, 100, 100); got.Width != 640 || got.Height != 480 {
		t.Errorf("surface extent ignored: %v", got)
	}

	caps.CurrentExtent = vk.Extent2D{Width: stdmath.MaxUint32, Height: stdmath.MaxUint32}
	if got := chooseExtent(caps, 8000, 300); got.Width != 4096 || got.Height != 300 {
		t.Errorf("clamped extent = %v", got)
	}
}

func TestChooseImageCount(t *testing.T) {
	if got := chooseImageCount(vk.SurfaceCapabilities{MinImageCount: 2}); got != 3 {
		t.Errorf("unbounded count = %d", got)
	}
	if got := chooseImageCount(vk.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 2}); got != 2 {
		t.Errorf("bounded count = %d", got)
	}
}
