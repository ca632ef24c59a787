// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nholm/ballast/internal/config"
)

// runConfigCLI handles the "ballastd config ..." subcommands.
func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "init":
		return runConfigInit(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  ballastd config validate [--file config.yaml]")
	fmt.Fprintln(os.Stderr, "  ballastd config init --file config.yaml")
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("ballastd config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := config.NewLoader(file).Load(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	fmt.Println("configuration valid")
	return 0
}

// runConfigInit writes the effective configuration (defaults merged
// with the environment) to the given path, as a starting point for a
// managed config file. Secrets are never serialized.
func runConfigInit(args []string) int {
	fs := flag.NewFlagSet("ballastd config init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var file string
	fs.StringVar(&file, "file", "", "destination path for the config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		fmt.Fprintln(os.Stderr, "config init: --file is required")
		return 2
	}

	cfg, err := config.NewLoader("").Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		return 1
	}
	if err := config.NewManager(file).Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "write configuration: %v\n", err)
		return 1
	}
	fmt.Printf("configuration written to %s\n", file)
	return 0
}
