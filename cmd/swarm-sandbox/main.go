// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

// swarm-sandbox inspects and manages agent sandboxes outside the
// daemon.
//
// Usage:
//
//	swarm-sandbox provision [flags] <name> <type>
//	swarm-sandbox validate [flags]
//	swarm-sandbox list [flags]
//	swarm-sandbox remove [flags] <name>
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/config"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/version"
	"github.com/ltngt-ai/mind-swarm-sub002/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("SWARM_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "provision":
		err = provisionCmd(args, logger)
	case "validate":
		err = validateCmd(args, logger)
	case "list":
		err = listCmd(args, logger)
	case "remove":
		err = removeCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("swarm-sandbox %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`swarm-sandbox - Inspect and manage agent sandboxes

USAGE
    swarm-sandbox <command> [flags] [args...]

COMMANDS
    provision  Create or refresh an agent's sandbox directories
    validate   Check the sandbox configuration of this host
    list       List provisioned agents
    remove     Delete an agent's sandbox directories
    version    Show version

EXAMPLES
    # Provision a sandbox and print the bwrap command it would run
    swarm-sandbox provision --dry-run alice worker

    # Verify bwrap, tools, and directory permissions
    swarm-sandbox validate

ENVIRONMENT
    SWARM_CONFIG  Path to swarm.yaml (or use --config)
    SWARM_DEBUG   Enable debug logging
`)
}

// newFactory builds a sandbox factory from the shared config flag set.
func newFactory(configPath string, logger *slog.Logger) (*sandbox.Factory, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return sandbox.New(sandbox.Config{
		Root:      cfg.Paths.Root,
		ToolsDir:  cfg.Paths.Tools,
		SharedDir: cfg.Paths.Shared,
		TypesDir:  cfg.Paths.AgentTypes,
		Logger:    logger,
	})
}

func provisionCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("provision", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to swarm.yaml (overrides SWARM_CONFIG)")
	dryRun := fs.Bool("dry-run", false, "also print the bwrap command the daemon would run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: swarm-sandbox provision [flags] <name> <type>")
	}
	name, agentType := fs.Arg(0), fs.Arg(1)

	factory, err := newFactory(*configPath, logger)
	if err != nil {
		return err
	}

	spec, err := factory.Provision(name, agentType)
	if err != nil {
		return err
	}

	fmt.Printf("provisioned %s (%s) at %s\n", spec.Name, spec.Type, spec.Home)
	if *dryRun {
		bwrap, err := sandbox.BwrapPath()
		if err != nil {
			return err
		}
		bwrapArgs, err := sandbox.BuildArgs(spec)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", bwrap, strings.Join(bwrapArgs, " "))
	}
	return nil
}

func validateCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to swarm.yaml (overrides SWARM_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	factory, err := newFactory(*configPath, logger)
	if err != nil {
		return err
	}
	return factory.Validate(os.Stdout)
}

func listCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("list", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to swarm.yaml (overrides SWARM_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	factory, err := newFactory(*configPath, logger)
	if err != nil {
		return err
	}
	agents, err := factory.ListAgents()
	if err != nil {
		return err
	}
	for _, name := range agents {
		fmt.Println(name)
	}
	return nil
}

func removeCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("remove", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to swarm.yaml (overrides SWARM_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: swarm-sandbox remove [flags] <name>")
	}

	factory, err := newFactory(*configPath, logger)
	if err != nil {
		return err
	}
	return factory.Remove(fs.Arg(0))
}
