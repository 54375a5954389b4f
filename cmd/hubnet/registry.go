// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jllopis/hubnet/pkg/registry"
)

func newRegistryCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Import and export registry tables",
		Long: `Move registry tables between CSV files and the configured backend.

Tables use the columns Agent Name, IP Address, Port, Agent Type, Active,
Description, relevance_rate and goodness_rate. Other columns are kept.`,
	}
	cmd.AddCommand(newRegistryImportCmd(g))
	cmd.AddCommand(newRegistryExportCmd(g))
	return cmd
}

func newRegistryImportCmd(g *globalFlags) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Add the rows of a table to the registry",
		Long: `Add the rows of a table to one registry partition. Rows already
present are skipped. Useful with persistent backends (sqlite, badger, redis).

Examples:
  hubnet registry import agents.csv --type Public --set registry.backend=sqlite --set registry.path=hub1.db
  hubnet registry import friends.csv --type Friend`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := registry.ParseKind(kind)
			if err != nil {
				return NewInvalidArgumentError("--type", err.Error())
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Registry)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := registry.Import(ctx, store, f, k)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d %s record(s) into %s registry\n", n, k.WireName(), cfg.Registry.Backend)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", "Public", "Public, Private or Friend")
	return cmd
}

func newRegistryExportCmd(g *globalFlags) *cobra.Command {
	var kind, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one registry partition as CSV",
		Long: `Write one registry partition as CSV to stdout or --out.

Examples:
  hubnet registry export --type Friend
  hubnet registry export --type Public --out agents.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := registry.ParseKind(kind)
			if err != nil {
				return NewInvalidArgumentError("--type", err.Error())
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Registry)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(ctx, k)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return registry.WriteCSV(w, records)
		},
	}
	cmd.Flags().StringVar(&kind, "type", "Public", "Public, Private or Friend")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
