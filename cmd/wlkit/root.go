package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "0.1.0-dev"

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "wlkit",
		Short: "wlkit - a headless Wayland compositor",
		Long: `wlkit speaks the core Wayland protocol on a Unix socket and composites
client surfaces onto virtual outputs using a software renderer.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path of the configuration file")

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newVersionCmd())
	return root
}
