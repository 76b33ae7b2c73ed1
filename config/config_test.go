package config

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deedles.dev/wlkit/geom"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wlkit.toml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	c, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, *c)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
socket = "wayland-test"

[[outputs]]
name = "LEFT"
width = 1920
height = 1080
refresh = 144000
scale = 2
transform = "90"

[[outputs]]
name = "RIGHT"
width = 800
height = 600
scale = 1

[renderer]
backend = "multi"
devices = 3

[pipeline]
present_timeout = "250ms"
continuous_repaint = true
`)

	c, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "wayland-test", c.Socket)
	require.Len(t, c.Outputs, 2)
	assert.Equal(t, "LEFT", c.Outputs[0].Name)
	assert.Equal(t, image.Pt(1920, 1080), c.Outputs[0].Mode().Size)
	assert.Equal(t, 144000, c.Outputs[0].Mode().Refresh)
	tr, err := c.Outputs[0].ParseTransform()
	require.NoError(t, err)
	assert.Equal(t, geom.Transform90, tr)
	assert.Equal(t, "RIGHT", c.Outputs[1].Name)

	assert.Equal(t, RendererConfig{Backend: "multi", Devices: 3}, c.Renderer)

	pc := c.Pipeline.Output()
	assert.Equal(t, 250*time.Millisecond, pc.PresentTimeout)
	assert.True(t, pc.Continuous)
	assert.Equal(t, DefaultConfig.Pipeline.SwapchainLength, pc.SwapchainLength)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("WLKIT_RENDERER_BACKEND", "multi")
	t.Setenv("WLKIT_LOGGING_LEVEL", "debug")

	c, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "multi", c.Renderer.Backend)
	assert.Equal(t, "debug", c.Logging.Level)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    error
	}{
		{name: "Default", modify: func(*Config) {}},
		{name: "NoOutputs", modify: func(c *Config) { c.Outputs = nil }, err: ErrNoOutputs},
		{name: "ZeroSize", modify: func(c *Config) { c.Outputs[0].Width = 0 }, err: ErrInvalidOutput},
		{name: "BadScale", modify: func(c *Config) { c.Outputs[0].Scale = 0 }, err: ErrInvalidOutput},
		{name: "BadTransform", modify: func(c *Config) { c.Outputs[0].Transform = "sideways" }, err: ErrInvalidOutput},
		{name: "DuplicateName", modify: func(c *Config) { c.Outputs = append(c.Outputs, c.Outputs[0]) }, err: ErrInvalidOutput},
		{name: "UnknownBackend", modify: func(c *Config) { c.Renderer.Backend = "vulkan" }, err: ErrInvalidBackend},
		{name: "MultiWithoutDevices", modify: func(c *Config) { c.Renderer = RendererConfig{Backend: "multi"} }, err: ErrInvalidBackend},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig
			c.Outputs = append([]OutputConfig(nil), DefaultConfig.Outputs...)
			test.modify(&c)

			err := c.Validate()
			if test.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, test.err)
		})
	}
}
