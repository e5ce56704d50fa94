package main

import (
	"os"

	"labledger/cli"
)

func main() {
	if !cli.Run(os.Args) {
		os.Exit(1)
	}
}
