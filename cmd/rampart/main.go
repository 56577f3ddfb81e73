package main

import (
	"os"

	"github.com/majorcontext/rampart/cmd/rampart/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
