package engine

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-gfx/engine/core"
	"github.com/spaghettifunk/anima-gfx/engine/renderer/metadata"
)

const DefaultSettingsFile = "settings.toml"

// ApplicationConfig is read from the settings file and then overridden by
// command line flags.
type ApplicationConfig struct {
	// The application name used in windowing.
	Name string `toml:"name"`
	// Window starting position.
	StartPosX uint32 `toml:"x"`
	StartPosY uint32 `toml:"y"`
	// Window starting size.
	StartWidth  uint32 `toml:"width"`
	StartHeight uint32 `toml:"height"`
	// WindowMode is windowed, windowed_fullscreen or fullscreen.
	WindowMode metadata.WindowMode `toml:"window_mode"`

	LogLevel string `toml:"log_level"`
	// GPUIndex selects a physical device; negative picks automatically.
	GPUIndex         int    `toml:"gpu"`
	FramesInFlight   uint32 `toml:"frames_in_flight"`
	MaxBuildFailures int    `toml:"max_build_failures"`
	VSync            bool   `toml:"vsync"`
	Debug            bool   `toml:"debug"`

	AssetsDir string `toml:"assets_dir"`
	HotReload bool   `toml:"hot_reload"`

	// ListGPUs asks for the physical devices to be printed instead of
	// running. Command line only.
	ListGPUs bool `toml:"-"`
}

func DefaultApplicationConfig() *ApplicationConfig {
	return &ApplicationConfig{
		Name:             "Anima",
		StartPosX:        100,
		StartPosY:        100,
		StartWidth:       1280,
		StartHeight:      720,
		WindowMode:       metadata.WindowModeWindowed,
		LogLevel:         "info",
		GPUIndex:         -1,
		FramesInFlight:   2,
		MaxBuildFailures: 3,
		VSync:            true,
		AssetsDir:        "assets",
		HotReload:        true,
	}
}

// DecodeApplicationConfig overlays a TOML document on the defaults.
func DecodeApplicationConfig(r io.Reader) (*ApplicationConfig, error) {
	config := DefaultApplicationConfig()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(config); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: settings: %s", core.ErrValidation, strict.String())
		}
		return nil, fmt.Errorf("%w: settings: %w", core.ErrValidation, err)
	}
	return config, nil
}

// ParseApplicationConfig builds the configuration for a command line. The
// settings file named by -config is optional unless the flag is given.
func ParseApplicationConfig(name string, args []string) (*ApplicationConfig, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	defaults := DefaultApplicationConfig()

	settings := fs.String("config", DefaultSettingsFile, "settings file")
	var flags ApplicationConfig
	fs.StringVar(&flags.Name, "name", defaults.Name, "window title")
	fs.Func("width", "window width", uintFlag(&flags.StartWidth))
	fs.Func("height", "window height", uintFlag(&flags.StartHeight))
	fs.TextVar(&flags.WindowMode, "window-mode", defaults.WindowMode, "windowed, windowed_fullscreen or fullscreen")
	fs.StringVar(&flags.LogLevel, "v", defaults.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&flags.GPUIndex, "gpu", defaults.GPUIndex, "physical device index, negative for automatic")
	fs.Func("frames", "frames in flight", uintFlag(&flags.FramesInFlight))
	fs.IntVar(&flags.MaxBuildFailures, "max-build-failures", defaults.MaxBuildFailures, "consecutive failed builds of one pipeline before giving up")
	fs.BoolVar(&flags.VSync, "vsync", defaults.VSync, "wait for vertical sync")
	fs.BoolVar(&flags.Debug, "debug", defaults.Debug, "enable Vulkan validation layers")
	fs.StringVar(&flags.AssetsDir, "assets", defaults.AssetsDir, "assets directory")
	fs.BoolVar(&flags.HotReload, "hot-reload", defaults.HotReload, "watch assets and reload pipelines")
	fs.BoolVar(&flags.ListGPUs, "list-gpus", false, "print the physical devices usable with -gpu and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	config := defaults
	data, err := os.ReadFile(*settings)
	switch {
	case err == nil:
		if config, err = DecodeApplicationConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%s: %w", *settings, err)
		}
	case errors.Is(err, os.ErrNotExist) && !set["config"]:
	default:
		return nil, err
	}

	overrides := map[string]func(){
		"name":               func() { config.Name = flags.Name },
		"width":              func() { config.StartWidth = flags.StartWidth },
		"height":             func() { config.StartHeight = flags.StartHeight },
		"window-mode":        func() { config.WindowMode = flags.WindowMode },
		"v":                  func() { config.LogLevel = flags.LogLevel },
		"gpu":                func() { config.GPUIndex = flags.GPUIndex },
		"frames":             func() { config.FramesInFlight = flags.FramesInFlight },
		"max-build-failures": func() { config.MaxBuildFailures = flags.MaxBuildFailures },
		"vsync":              func() { config.VSync = flags.VSync },
		"debug":              func() { config.Debug = flags.Debug },
		"assets":             func() { config.AssetsDir = flags.AssetsDir },
		"hot-reload":         func() { config.HotReload = flags.HotReload },
		"list-gpus":          func() { config.ListGPUs = flags.ListGPUs },
	}
	for name := range set {
		if apply, ok := overrides[name]; ok {
			apply()
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func uintFlag(dst *uint32) func(string) error {
	return func(s string) error {
		var v uint32
		if _, err := fmt.Sscan(s, &v); err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func (c *ApplicationConfig) Validate() error {
	var errs []error
	if c.StartWidth == 0 || c.StartHeight == 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d", c.StartWidth, c.StartHeight))
	}
	if !c.WindowMode.Valid() {
		errs = append(errs, fmt.Errorf("%w: %s", metadata.ErrUnknownWindowMode, c.WindowMode))
	}
	if c.FramesInFlight < 1 || c.FramesInFlight > 3 {
		errs = append(errs, fmt.Errorf("frames in flight %d not in [1, 3]", c.FramesInFlight))
	}
	if c.MaxBuildFailures < 1 {
		errs = append(errs, fmt.Errorf("max build failures %d", c.MaxBuildFailures))
	}
	if c.AssetsDir == "" {
		errs = append(errs, errors.New("no assets directory"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: application config: %w", core.ErrValidation, errors.Join(errs...))
	}
	return nil
}
