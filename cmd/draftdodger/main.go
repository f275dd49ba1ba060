package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "draftdodger",
		Usage:   "Draft Dodger document review API",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			reindexCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
