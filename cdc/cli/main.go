package main

import (
	"os"

	"github.com/leadpulse/leadpulse/cdc/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
