// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the hubnet CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jllopis/hubnet/pkg/config"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigPath string
	Profile    string
	Sets       []string
	JSON       bool
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.LoadWith(config.Options{Path: g.ConfigPath, Profile: g.Profile, Sets: g.Sets})
	if err != nil {
		return nil, NewConfigError(err, g.ConfigPath)
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := &globalFlags{}
	if err := newRootCmd(g).ExecuteContext(ctx); err != nil {
		printError(err, g.JSON)
		os.Exit(1)
	}
}

func newRootCmd(g *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "hubnet",
		Short: "Hub network for agent discovery",
		Long: `hubnet routes capability searches across a graph of hubs.

Server commands:
  hubnet hub serve            Run a hub
  hubnet shop serve           Run a provider shop
  hubnet mcp                  Expose search_agent over MCP

Client commands:
  hubnet search <prompt>      Search a hub
  hubnet register <name>      Register an agent on a hub
  hubnet activate <name>      Toggle an agent on a hub
  hubnet acquire item=qty...  Buy items across hubs
  hubnet registry import      Load a CSV table into the registry
  hubnet registry export      Dump the registry as CSV`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVarP(&g.ConfigPath, "config", "c", "", "config file (yaml)")
	root.PersistentFlags().StringVar(&g.Profile, "profile", "", "profile overlay, e.g. dev loads config.dev.yaml")
	root.PersistentFlags().StringArrayVar(&g.Sets, "set", nil, "override a config key (key=value), repeatable")
	root.PersistentFlags().BoolVar(&g.JSON, "json", false, "print results and errors as JSON")

	root.AddCommand(newHubCmd(g))
	root.AddCommand(newShopCmd(g))
	root.AddCommand(newMCPCmd(g))
	root.AddCommand(newSearchCmd(g))
	root.AddCommand(newRegisterCmd(g))
	root.AddCommand(newActivateCmd(g))
	root.AddCommand(newAcquireCmd(g))
	root.AddCommand(newRegistryCmd(g))
	return root
}

