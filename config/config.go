// Package config loads the settings of the wlkit compositor from a
// TOML file, the environment and command-line flags using Viper.
package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/output"
	"github.com/spf13/viper"
)

// Config is the configuration of a compositor.
type Config struct {
	// Socket is the path of the listening socket. Relative paths are in
	// $XDG_RUNTIME_DIR. If empty, a free wayland-N name is picked.
	Socket string `mapstructure:"socket"`

	Outputs  []OutputConfig `mapstructure:"outputs"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// OutputConfig describes a headless output.
type OutputConfig struct {
	Name      string `mapstructure:"name"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	Refresh   int    `mapstructure:"refresh"` // mHz
	Scale     int    `mapstructure:"scale"`
	Transform string `mapstructure:"transform"`
}

// Mode returns the display mode of the output.
func (c OutputConfig) Mode() display.Mode {
	return display.Mode{
		Size:      image.Pt(c.Width, c.Height),
		Refresh:   c.Refresh,
		Preferred: true,
	}
}

// ParseTransform returns the output's transform.
func (c OutputConfig) ParseTransform() (geom.Transform, error) {
	return geom.ParseTransform(c.Transform)
}

type RendererConfig struct {
	// Backend is "software" or "multi".
	Backend string `mapstructure:"backend"`
	// Devices is the number of renderers used by the multi backend.
	Devices int `mapstructure:"devices"`
}

type PipelineConfig struct {
	PresentTimeout    time.Duration `mapstructure:"present_timeout"`
	ContinuousRepaint bool          `mapstructure:"continuous_repaint"`
	SwapchainLength   int           `mapstructure:"swapchain_length"`
}

// Output converts c into the configuration of an output pipeline.
func (c PipelineConfig) Output() output.PipelineConfig {
	return output.PipelineConfig{
		PresentTimeout:  c.PresentTimeout,
		Continuous:      c.ContinuousRepaint,
		SwapchainLength: c.SwapchainLength,
	}
}

type LoggingConfig struct {
	// Level overrides WLKIT_LOG_LEVEL if it is not empty.
	Level string `mapstructure:"level"`
}

// DefaultConfig is the configuration used for anything that is not
// set elsewhere.
var DefaultConfig = Config{
	Outputs: []OutputConfig{
		{Name: "HEADLESS-1", Width: 1280, Height: 720, Refresh: 60000, Scale: 1, Transform: "normal"},
	},
	Renderer: RendererConfig{
		Backend: "software",
		Devices: 1,
	},
	Pipeline: PipelineConfig{
		PresentTimeout:  time.Second,
		SwapchainLength: 2,
	},
}

// SetDefaults registers DefaultConfig with v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("socket", DefaultConfig.Socket)

	v.SetDefault("outputs", DefaultConfig.Outputs)

	v.SetDefault("renderer.backend", DefaultConfig.Renderer.Backend)
	v.SetDefault("renderer.devices", DefaultConfig.Renderer.Devices)

	v.SetDefault("pipeline.present_timeout", DefaultConfig.Pipeline.PresentTimeout)
	v.SetDefault("pipeline.continuous_repaint", DefaultConfig.Pipeline.ContinuousRepaint)
	v.SetDefault("pipeline.swapchain_length", DefaultConfig.Pipeline.SwapchainLength)

	v.SetDefault("logging.level", DefaultConfig.Logging.Level)
}

// Load reads the configuration into v and returns it. If path is
// empty, wlkit.toml is looked for in $XDG_CONFIG_HOME/wlkit and the
// current directory, and it is not an error for it not to exist.
// Settings can also be given as WLKIT_ environment variables, such as
// WLKIT_RENDERER_BACKEND.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("wlkit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wlkit")
		v.SetConfigType("toml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "wlkit"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if (path != "") || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var (
	ErrNoOutputs      = errors.New("no outputs configured")
	ErrInvalidOutput  = errors.New("invalid output")
	ErrInvalidBackend = errors.New("invalid renderer backend")
)

// Validate checks c for settings that can not work. Every problem
// found is reported.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Outputs) == 0 {
		errs = append(errs, ErrNoOutputs)
	}

	names := make(map[string]struct{}, len(c.Outputs))
	for i, o := range c.Outputs {
		invalid := func(format string, args ...any) {
			errs = append(errs, fmt.Errorf("%w %v (%q): %v", ErrInvalidOutput, i, o.Name, fmt.Sprintf(format, args...)))
		}

		if o.Name == "" {
			invalid("no name")
		}
		if _, ok := names[o.Name]; ok {
			invalid("duplicate name")
		}
		names[o.Name] = struct{}{}

		if (o.Width <= 0) || (o.Height <= 0) {
			invalid("size %vx%v", o.Width, o.Height)
		}
		if o.Refresh < 0 {
			invalid("refresh rate %v", o.Refresh)
		}
		if o.Scale < 1 {
			invalid("scale %v", o.Scale)
		}
		if _, err := o.ParseTransform(); err != nil {
			invalid("%v", err)
		}
	}

	switch c.Renderer.Backend {
	case "software":
	case "multi":
		if c.Renderer.Devices < 1 {
			errs = append(errs, fmt.Errorf("%w: multi needs at least one device", ErrInvalidBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidBackend, c.Renderer.Backend))
	}

	if c.Pipeline.PresentTimeout < 0 {
		errs = append(errs, fmt.Errorf("negative present timeout %v", c.Pipeline.PresentTimeout))
	}
	if c.Pipeline.SwapchainLength < 1 {
		errs = append(errs, fmt.Errorf("swapchain length %v", c.Pipeline.SwapchainLength))
	}

	return errors.Join(errs...)
}
