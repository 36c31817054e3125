package main

import (
	"os"

	"github.com/petervdpas/boombox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
