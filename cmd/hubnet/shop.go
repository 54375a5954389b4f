// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jllopis/hubnet/pkg/config"
	"github.com/jllopis/hubnet/pkg/shop"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

func newShopCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shop",
		Short: "Provider shop commands",
	}
	cmd.AddCommand(newShopServeCmd(g))
	return cmd
}

func newShopServeCmd(g *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a shop serving /capability and /purchase",
		Long: `Run a shop with the stock described by shop.inventory_file.

Register the shop on a hub with 'hubnet register' so searches can find it.

Examples:
  hubnet shop serve --set shop.inventory_file=bakery.yaml --listen :9001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Shop.Listen = listen
			}
			a, err := setup(cfg, "hubnet-shop")
			if err != nil {
				return err
			}
			defer a.Close()

			inv, err := loadInventory(cfg.Shop)
			if err != nil {
				return err
			}
			logger := telemetry.Component("shop")
			info := inv.Capability()
			logger.Info("shop.started",
				slog.String("name", info.Name),
				slog.String("category", info.Category),
				slog.Int("items", len(info.Items)))
			return serve(cmd.Context(), cfg.Shop.Listen, shop.NewHandler(inv, logger), logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides shop.listen)")
	return cmd
}

// loadInventory reads the inventory file, letting the shop section of the
// config name and describe the shop.
func loadInventory(sc config.ShopConfig) (*shop.Inventory, error) {
	var c shop.Capability
	if sc.InventoryFile != "" {
		loaded, err := shop.LoadCapability(sc.InventoryFile)
		if err != nil {
			return nil, err
		}
		c = loaded
	}
	if sc.Name != "" {
		c.Name = sc.Name
	}
	if sc.Category != "" {
		c.Category = sc.Category
	}
	if sc.Description != "" {
		c.Description = sc.Description
	}
	return shop.NewInventory(c)
}
