// Command wlkit runs a headless compositor built from the wlkit
// packages. Clients can connect to it and have their surfaces drawn
// into in-memory framebuffers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
