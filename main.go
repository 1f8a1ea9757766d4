package main

import (
	"os"

	"github.com/evalkit-dev/evalkit-engine/cmd"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := cmd.RootCommand(Version).Execute(); err != nil {
		os.Exit(1)
	}
}
