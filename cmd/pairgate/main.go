package main

import (
	"os"

	"github.com/layer-3/pairgate/cmd/pairgate/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
