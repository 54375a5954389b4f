// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/hubnet/pkg/config"
	"github.com/jllopis/hubnet/pkg/hub/httpapi"
	"github.com/jllopis/hubnet/pkg/rank"
	"github.com/jllopis/hubnet/pkg/registry"
	"github.com/jllopis/hubnet/pkg/search"
)

// hubURL is the --hub flag, or this node's own address.
func hubURL(flag string, cfg *config.Config) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	return nodeIdentity(cfg.Node).BaseURL()
}

// requestTimeout bounds a whole search, which may cross several hubs.
func requestTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Requester.TimeoutSeconds) * time.Second
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var hub, as string
	cmd := &cobra.Command{
		Use:   "search <prompt>",
		Short: "Search a hub for agents",
		Long: `Send a search to a hub and print the ranked providers.

Examples:
  hubnet search "I need 2 bread" --hub http://127.0.0.1:8010
  hubnet search "fresh milk" --as Requester1 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			self := nodeIdentity(cfg.Node)
			if as != "" {
				self.Name = as
			}
			target := hubURL(hub, cfg)
			q := search.NewQuery(strings.Join(args, " "), self)
			client := httpapi.NewClient(self)
			client.HTTP = &http.Client{Timeout: requestTimeout(cfg)}
			res, err := client.SearchURL(cmd.Context(), target, q, search.State{})
			if err != nil {
				return withHint(err, target)
			}
			return printResult(cmd.OutOrStdout(), res, g.JSON)
		},
	}
	cmd.Flags().StringVar(&hub, "hub", "", "hub base URL (default: this node's address)")
	cmd.Flags().StringVar(&as, "as", "", "requester name sent as name_agent")
	return cmd
}

type agentOutput struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Category  string  `json:"category,omitempty"`
	Relevance float64 `json:"relevance_rate"`
	Goodness  float64 `json:"goodness_rate"`
}

type resultOutput struct {
	Found   bool          `json:"found"`
	Agents  []agentOutput `json:"agents,omitempty"`
	Message string        `json:"message,omitempty"`
	Visited []string      `json:"visited,omitempty"`
}

func printResult(w io.Writer, res search.Result, asJSON bool) error {
	out := resultOutput{Found: res.Found, Message: res.Message}
	for _, p := range rank.Sort(res.Providers) {
		out.Agents = append(out.Agents, agentOutput{
			Name:      p.Identity.Name,
			Address:   p.Identity.Addr(),
			Category:  p.Category,
			Relevance: p.Relevance,
			Goodness:  p.Goodness,
		})
	}
	for _, n := range res.Visited.Nodes() {
		out.Visited = append(out.Visited, n.String())
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if !res.Found {
		fmt.Fprintf(w, "Not Found: %s\n", res.Message)
		if len(out.Visited) > 0 {
			fmt.Fprintf(w, "Hubs asked: %s\n", strings.Join(out.Visited, ", "))
		}
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tCATEGORY\tRELEVANCE\tGOODNESS")
	for _, a := range out.Agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\n", a.Name, a.Address, a.Category, a.Relevance, a.Goodness)
	}
	return tw.Flush()
}

func newRegisterCmd(g *globalFlags) *cobra.Command {
	var (
		hub, kind, port, category, description string
		active                                 bool
		columns                                []string
	)
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register an agent or peer hub on a hub",
		Long: `Register an agent on a hub. The hub records the caller's address as
the agent host, so run this from the agent's machine.

Examples:
  hubnet register Bakery1 --port 9001 --category Bakery --active
  hubnet register Hub2 --type Friend --port 8011 --active
  hubnet register Bakery1 --port 9001 --column "Opening Hours=8-14"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			k, err := registry.ParseKind(kind)
			if err != nil {
				return NewInvalidArgumentError("--type", err.Error())
			}
			cols, err := parseColumns(columns)
			if err != nil {
				return err
			}
			setColumn(cols, registry.ColPort, port)
			setColumn(cols, registry.ColCategory, category)
			setColumn(cols, registry.ColDescription, description)
			cols[registry.ColActive] = strconv.FormatBool(active)

			target := hubURL(hub, cfg)
			self := nodeIdentity(cfg.Node)
			if err := httpapi.NewClient(self).Register(cmd.Context(), target, args[0], k, cols); err != nil {
				return withHint(err, target)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s) on %s\n", args[0], k.WireName(), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&hub, "hub", "", "hub base URL (default: this node's address)")
	cmd.Flags().StringVar(&kind, "type", "Public", "Public, Private or Friend")
	cmd.Flags().StringVar(&port, "port", "", "agent port")
	cmd.Flags().StringVar(&category, "category", "", "agent category (Agent Type column)")
	cmd.Flags().StringVar(&description, "description", "", "agent description")
	cmd.Flags().BoolVar(&active, "active", false, "register as active")
	cmd.Flags().StringArrayVar(&columns, "column", nil, "extra column name=value (repeatable)")
	return cmd
}

func newActivateCmd(g *globalFlags) *cobra.Command {
	var (
		hub, port string
		off       bool
	)
	cmd := &cobra.Command{
		Use:   "activate <name>",
		Short: "Activate or deactivate an agent on a hub",
		Long: `Toggle an agent registered from this address.

Examples:
  hubnet activate Bakery1 --port 9001
  hubnet activate Bakery1 --off`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			target := hubURL(hub, cfg)
			self := nodeIdentity(cfg.Node)
			if err := httpapi.NewClient(self).SetActivation(cmd.Context(), target, args[0], !off, port); err != nil {
				return withHint(err, target)
			}
			state := "active"
			if off {
				state = "inactive"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s on %s\n", args[0], state, target)
			return nil
		},
	}
	cmd.Flags().StringVar(&hub, "hub", "", "hub base URL (default: this node's address)")
	cmd.Flags().StringVar(&port, "port", "", "only toggle the record at this port")
	cmd.Flags().BoolVar(&off, "off", false, "deactivate instead of activate")
	return cmd
}

// parseColumns decodes name=value pairs. Names may contain spaces.
func parseColumns(raw []string) (map[string]string, error) {
	cols := make(map[string]string, len(raw)+4)
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, NewInvalidArgumentError("--column", fmt.Sprintf("expected name=value, got %q", kv))
		}
		cols[name] = value
	}
	return cols, nil
}

func setColumn(cols map[string]string, name, value string) {
	if value != "" {
		cols[name] = value
	}
}
