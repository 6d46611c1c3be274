package main

import (
	"fmt"
	"os"

	"github.com/systmms/pgrotate/cmd/pgrotate/commands"
	"github.com/systmms/pgrotate/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := &config.Config{}
	rootCmd := commands.NewRootCommand(cfg, commands.NewRuntime)
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	return rootCmd.Execute()
}
