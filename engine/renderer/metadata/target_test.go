package metadata

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima-gfx/engine/core"
)

func TestWindowModeText(t *testing.T) {
	for mode, name := range windowModeNames {
		text, err := mode.MarshalText()
		if err != nil || string(text) != name {
			t.Errorf("%d.MarshalText() = %q, %v", mode, text, err)
		}
		var got WindowMode
		if err := got.UnmarshalText([]byte(" " + name + " ")); err != nil || got != mode {
			t.Errorf("UnmarshalText(%q) = %s, %v", name, got, err)
		}
	}

	var mode WindowMode
	err := mode.UnmarshalText([]byte("borderless"))
	if !errors.Is(err, ErrUnknownWindowMode) || !errors.Is(err, core.ErrValidation) {
		t.Errorf("UnmarshalText(borderless) = %v, want ErrUnknownWindowMode", err)
	}
}

func TestTargetConfigComparesMode(t *testing.T) {
	windowed := TargetConfig{Format: ImageFormatB8G8R8A8Srgb, Extent: Extent2D{Width: 800, Height: 600}, ImageCount: 3}
	fullscreen := windowed
	fullscreen.Mode = WindowModeFullscreen
	if windowed == fullscreen {
		t.Error("configs differing only in window mode compare equal")
	}
}
