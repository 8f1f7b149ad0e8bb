package metadata

import "fmt"

// ImageFormat is the colour format of a presentable surface.
type ImageFormat uint32

const (
	ImageFormatUndefined ImageFormat = iota
	ImageFormatB8G8R8A8Unorm
	ImageFormatB8G8R8A8Srgb
	ImageFormatR8G8B8A8Unorm
	ImageFormatR8G8B8A8Srgb
)

var imageFormatNames = map[ImageFormat]string{
	ImageFormatUndefined:     "undefined",
	ImageFormatB8G8R8A8Unorm: "b8g8r8a8_unorm",
	ImageFormatB8G8R8A8Srgb:  "b8g8r8a8_srgb",
	ImageFormatR8G8B8A8Unorm: "r8g8b8a8_unorm",
	ImageFormatR8G8B8A8Srgb:  "r8g8b8a8_srgb",
}

func (f ImageFormat) String() string {
	if s, ok := imageFormatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("ImageFormat(%d)", uint32(f))
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

// IsZero reports a minimised surface. Nothing can be built or drawn at
// this size.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// WindowMode is how a window target occupies its monitor.
type WindowMode uint8

const (
	WindowModeWindowed WindowMode = iota
	// WindowModeWindowedFullscreen is a borderless window at the monitor's
	// current video mode.
	WindowModeWindowedFullscreen
	// WindowModeFullscreen switches the monitor to the window's size.
	WindowModeFullscreen
)

var windowModeNames = map[WindowMode]string{
	WindowModeWindowed:           "windowed",
	WindowModeWindowedFullscreen: "windowed_fullscreen",
	WindowModeFullscreen:         "fullscreen",
}

func (m WindowMode) String() string {
	if s, ok := windowModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("WindowMode(%d)", uint8(m))
}

func (m WindowMode) Valid() bool {
	_, ok := windowModeNames[m]
	return ok
}

func (m WindowMode) MarshalText() ([]byte, error) {
	s, ok := windowModeNames[m]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownWindowMode, uint8(m))
	}
	return []byte(s), nil
}

func (m *WindowMode) UnmarshalText(text []byte) error {
	if err := unmarshalEnum(text, windowModeNames, m); err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownWindowMode, err)
	}
	return nil
}

// TargetConfig is everything about a render target that a pipeline bakes in.
type TargetConfig struct {
	Format     ImageFormat
	Extent     Extent2D
	ImageCount uint32
	Mode       WindowMode
}

func (c TargetConfig) String() string {
	return fmt.Sprintf("%s %s x%d %s", c.Format, c.Extent, c.ImageCount, c.Mode)
}
