// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jllopis/hubnet/pkg/hub/httpapi"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

func newHubCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Hub node commands",
	}
	cmd.AddCommand(newHubServeCmd(g))
	return cmd
}

func newHubServeCmd(g *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a hub",
		Long: `Run a hub serving /search_agent, /add_agent and /activation_status.

The hub announces itself as node.name at node.host:node.port and forwards
searches it cannot resolve to the active Friend hubs in its registry.

Examples:
  hubnet hub serve --config hub1.yaml
  hubnet hub serve --set node.name=Hub2 --set node.port=8011 --listen :8011`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Hub.Listen = listen
			}
			a, err := setup(cfg, "hubnet-hub")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if _, err := a.openStore(ctx); err != nil {
				return err
			}
			node, err := a.buildNode()
			if err != nil {
				return err
			}
			admission, err := httpapi.ParseAdmission(cfg.Hub.Admission)
			if err != nil {
				return NewInvalidArgumentError("hub.admission", err.Error())
			}
			logger := telemetry.Component("hub")
			logger.Info("hub.started",
				slog.String("hub", a.self.String()),
				slog.String("registry", cfg.Registry.Backend),
				slog.String("matcher", cfg.Matcher.Kind),
				slog.String("admission", string(admission)))
			srv := httpapi.NewServer(node, httpapi.WithAdmission(admission))
			return serve(ctx, cfg.Hub.Listen, srv, logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides hub.listen)")
	return cmd
}
