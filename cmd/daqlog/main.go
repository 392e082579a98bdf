package main

import (
	"os"

	"codeberg.org/mutker/daqlog/cmd/daqlog/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
