package main

import (
	"os"

	"github.com/quarrier-db/quarrier/cli"
)

func main() {
	cmd := cli.RootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
