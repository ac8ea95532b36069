package main

import (
	"fmt"
	"os"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/app"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	app.RootCmd.Version = version

	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
