// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/hub/httpapi"
	"github.com/jllopis/hubnet/pkg/identity"
	hubnetmcp "github.com/jllopis/hubnet/pkg/mcp"
	"github.com/jllopis/hubnet/pkg/search"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	var transport string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose search_agent as an MCP tool",
		Long: `Serve an MCP server whose search_agent tool searches the hub at mcp.hub_url.

Examples:
  hubnet mcp                                  # stdio, for MCP hosts
  hubnet mcp --transport http --set mcp.listen=:8030`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.MCP.Transport = transport
			}
			a, err := setup(cfg, "hubnet-mcp")
			if err != nil {
				return err
			}
			defer a.Close()

			searcher := httpapi.Endpoint{BaseURL: cfg.MCP.HubURL, Client: httpapi.NewClient(a.self)}
			srv := hubnetmcp.NewServer("hubnet", version, searcher, a.self)
			switch strings.ToLower(cfg.MCP.Transport) {
			case "", "stdio":
				return srv.ServeStdio()
			case "http":
				return serve(cmd.Context(), cfg.MCP.Listen, srv.HTTPHandler(), telemetry.Component("mcp"))
			default:
				return NewInvalidArgumentError("mcp.transport", fmt.Sprintf("unknown transport %q", cfg.MCP.Transport))
			}
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "stdio or http (overrides mcp.transport)")
	cmd.AddCommand(newMCPSearchCmd(g))
	return cmd
}

func newMCPSearchCmd(g *globalFlags) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "search <prompt>",
		Short: "Call search_agent on an MCP server over HTTP",
		Long: `Call the search_agent tool of a running 'hubnet mcp --transport http' server
and print the providers it returns.

Examples:
  hubnet mcp search "I need 2 bread"
  hubnet mcp search "fresh milk" --url http://10.0.0.4:8030/mcp --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if url == "" {
				url = mcpURL(cfg.MCP.Listen)
			}
			client, err := hubnetmcp.NewClientWithStreamableHTTP(url, hubnetmcp.WithTimeout(requestTimeout(cfg)))
			if err != nil {
				he := errors.New(errors.CodeTransport, "connect to MCP server", err).WithContext("url", url)
				return NewCLIError(he, fmt.Sprintf("check that 'hubnet mcp --transport http' is running at %s", url))
			}
			defer client.Close()

			agents, err := client.SearchAgent(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return errors.New(errors.CodeTransport, "search_agent failed", err).WithContext("url", url)
			}
			return printResult(cmd.OutOrStdout(), agentsResult(agents), g.JSON)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "MCP endpoint (default: built from mcp.listen)")
	return cmd
}

// mcpURL turns a listen address such as ":8030" into a local endpoint.
func mcpURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + "/mcp"
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/mcp"
}

func agentsResult(agents []hubnetmcp.Agent) search.Result {
	providers := make([]search.Provider, 0, len(agents))
	for _, a := range agents {
		providers = append(providers, search.Provider{
			Identity:  identity.New(a.Name, a.IP, a.Port),
			Category:  a.Category,
			Relevance: a.Relevance,
			Goodness:  a.Goodness,
		})
	}
	return search.Found(providers)
}
