package main

import (
	"os"

	"github.com/GESkunkworks/paydirt/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
