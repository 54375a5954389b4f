// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/hubnet/pkg/hub/httpapi"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/requester"
	"github.com/jllopis/hubnet/pkg/shop"
)

func newAcquireCmd(g *globalFlags) *cobra.Command {
	var maxRounds int
	cmd := &cobra.Command{
		Use:   "acquire <item=qty>...",
		Short: "Buy items from providers found across hubs",
		Long: `Search for providers of the remaining items round after round and buy
from each in rank order until the need is met or no hub is left to ask.

The hubs asked are, in order: a hub over this node's own registry (when
requester.use_local_registry is set) and then requester.hubs.

Examples:
  hubnet acquire bread=2 milk=1 --config requester.yaml
  hubnet acquire cake --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			need, err := parseNeed(args)
			if err != nil {
				return err
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-rounds") {
				cfg.Requester.MaxRounds = maxRounds
			}
			a, err := setup(cfg, "hubnet-requester")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cfg))
			defer cancel()

			var searchers []requester.Searcher
			if cfg.Requester.UseLocalRegistry {
				if _, err := a.openStore(ctx); err != nil {
					return err
				}
				node, err := a.buildNode()
				if err != nil {
					return err
				}
				searchers = append(searchers, requester.Local{Node: node})
			}
			client := httpapi.NewClient(a.self)
			for _, h := range cfg.Requester.Hubs {
				searchers = append(searchers, httpapi.Remote{Hub: nodeIdentity(h), Client: client})
			}
			if len(searchers) == 0 {
				return NewInvalidArgumentError("requester.hubs", "no hub to ask: set requester.hubs or requester.use_local_registry")
			}

			tx := &shop.Client{HTTP: &http.Client{Timeout: cfg.Hub.PeerTimeout()}}
			session, err := requester.NewSession(a.self, tx, searchers,
				requester.WithMaxRounds(cfg.Requester.MaxRounds),
				requester.WithMetrics(a.metrics))
			if err != nil {
				return err
			}
			report, err := session.Acquire(ctx, need)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, g.JSON)
		},
	}
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "stop after this many rounds (overrides requester.max_rounds)")
	return cmd
}

// parseNeed reads item=qty arguments. A bare item means a quantity of one.
func parseNeed(args []string) (requester.Need, error) {
	need := requester.Need{}
	for _, arg := range args {
		item, qty, ok := strings.Cut(arg, "=")
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, NewInvalidArgumentError(arg, "empty item name")
		}
		n := 1
		if ok {
			v, err := strconv.Atoi(strings.TrimSpace(qty))
			if err != nil || v <= 0 {
				return nil, NewInvalidArgumentError(arg, fmt.Sprintf("quantity of %s must be a positive integer", item))
			}
			n = v
		}
		need[item] += n
	}
	return need, nil
}

type attemptOutput struct {
	Round     int            `json:"round"`
	Hub       string         `json:"hub"`
	Provider  string         `json:"provider"`
	Fulfilled map[string]int `json:"fulfilled,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type reportOutput struct {
	Complete  bool                      `json:"complete"`
	Rounds    int                       `json:"rounds"`
	Fulfilled map[string]map[string]int `json:"fulfilled"`
	Remaining map[string]int            `json:"remaining,omitempty"`
	Hubs      []string                  `json:"hubs"`
	Tried     []attemptOutput           `json:"tried"`
}

func printReport(w io.Writer, r requester.Report, asJSON bool) error {
	out := reportOutput{
		Complete:  r.Complete(),
		Rounds:    r.Rounds,
		Fulfilled: r.Fulfilled,
		Remaining: r.Remaining,
		Hubs:      nodeStrings(r.Hubs),
	}
	for _, at := range r.Tried {
		out.Tried = append(out.Tried, attemptOutput{
			Round:     at.Round,
			Hub:       at.Hub.String(),
			Provider:  at.Provider.String(),
			Fulfilled: at.Fulfilled,
			Error:     at.Err,
		})
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "Rounds: %d  Hubs: %s\n", out.Rounds, strings.Join(out.Hubs, ", "))
	for _, at := range out.Tried {
		if at.Error != "" {
			fmt.Fprintf(w, "  round %d  %s  failed: %s\n", at.Round, at.Provider, at.Error)
			continue
		}
		fmt.Fprintf(w, "  round %d  %s  got %s\n", at.Round, at.Provider, formatItems(at.Fulfilled))
	}
	if out.Complete {
		fmt.Fprintln(w, "Need fulfilled.")
		return nil
	}
	fmt.Fprintf(w, "Still missing: %s\n", formatItems(out.Remaining))
	return nil
}

func formatItems(items map[string]int) string {
	if len(items) == 0 {
		return "nothing"
	}
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%d %s", items[name], name))
	}
	return strings.Join(parts, ", ")
}

func nodeStrings(nodes []identity.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.String())
	}
	return out
}
