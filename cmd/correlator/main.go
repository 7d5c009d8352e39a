package main

import (
	"os"

	"github.com/miradorstack/mirador-correlator/cmd/correlator/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
