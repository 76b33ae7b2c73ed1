package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"deedles.dev/wlkit/backend/headless"
	"deedles.dev/wlkit/compositor"
	"deedles.dev/wlkit/config"
	"deedles.dev/wlkit/internal/logger"
	"deedles.dev/wlkit/loop"
	"deedles.dev/wlkit/output"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compositor",
		Long: `Run the compositor with the configured headless outputs until it is
interrupted. The socket path is printed once clients can connect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			c, err := config.Load(v, path)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, c, func(socket string) {
				fmt.Fprintf(cmd.OutOrStdout(), "WAYLAND_DISPLAY=%v\n", socket)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringP("socket", "s", "", "socket path or name in $XDG_RUNTIME_DIR")
	flags.StringP("renderer", "r", "", "renderer backend (software or multi)")
	flags.Int("devices", 0, "number of renderers used by the multi backend")
	flags.Bool("continuous", false, "render a new frame after every presentation")
	flags.String("log-level", "", "log level (debug, info, warn or error)")

	v.BindPFlag("socket", flags.Lookup("socket"))
	v.BindPFlag("renderer.backend", flags.Lookup("renderer"))
	v.BindPFlag("renderer.devices", flags.Lookup("devices"))
	v.BindPFlag("pipeline.continuous_repaint", flags.Lookup("continuous"))
	v.BindPFlag("logging.level", flags.Lookup("log-level"))

	return cmd
}

// serve runs a compositor configured by c until ctx is canceled. ready
// is called with the socket path once clients can connect.
func serve(ctx context.Context, c *config.Config, ready func(socket string)) error {
	if c.Logging.Level != "" {
		logger.SetLevel(c.Logging.Level)
	}
	l := logger.Default()

	renderer, err := compositor.NewRenderer(c.Renderer.Backend, c.Renderer.Devices)
	if err != nil {
		return err
	}

	lp := loop.New(l)
	state := compositor.New(lp, renderer, headless.NewSession("seat0"), c.Pipeline.Output(), l)

	loopCtx, stop := context.WithCancel(context.Background())
	defer stop()

	var setupErr error
	lp.Post(func() error {
		socket, err := setup(state, c, l)
		if err != nil {
			setupErr = err
			state.Close()
			stop()
			return nil
		}
		ready(socket)
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
			lp.Post(func() error {
				stop()
				return state.Close()
			})
		case <-loopCtx.Done():
		}
	}()

	err = lp.Run(loopCtx)
	if setupErr != nil {
		return setupErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func setup(state *compositor.State, c *config.Config, l *log.Logger) (string, error) {
	for _, oc := range c.Outputs {
		transform, err := oc.ParseTransform()
		if err != nil {
			return "", fmt.Errorf("output %v: %w", oc.Name, err)
		}

		dev := headless.New(oc.Name, headless.WithModes(oc.Mode()), headless.WithTimedVblank())
		_, err = state.AddOutput(dev, compositor.OutputConfig{
			Info:      output.Info{Make: "wlkit", Model: "headless"},
			Scale:     oc.Scale,
			Transform: transform,
		})
		if err != nil {
			return "", err
		}
	}

	socket, err := state.Listen(c.Socket)
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	l.Info("ready", "socket", socket, "outputs", len(c.Outputs), "renderer", c.Renderer.Backend)
	return socket, nil
}
