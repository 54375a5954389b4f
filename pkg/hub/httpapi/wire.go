// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/search"
)

// Search reply statuses.
const (
	StatusFind     = "Find"
	StatusNotFound = "Not Found"
)

// SearchIDHeader correlates one search across hops.
const SearchIDHeader = "X-Hubnet-Search-Id"

// searchRequest is the body of POST /search_agent. Both lists hold
// [name, [ip, port]] tuples and may be null.
type searchRequest struct {
	HubUserSearch []identity.Friend `json:"hub_user_search"`
	AgentBlock    []identity.Friend `json:"agent_block"`
}

type searchResponse struct {
	Status  string      `json:"status"`
	Agents  []agentJSON `json:"agents,omitempty"`
	Message string      `json:"message,omitempty"`
	// Visited lets a NotFound tell the caller which hubs were asked.
	Visited []identity.Friend `json:"hub_user_search,omitempty"`
}

type agentJSON struct {
	Name          string       `json:"name"`
	Location      locationJSON `json:"location"`
	RelevanceRate float64      `json:"relevance_rate"`
	GoodnessRate  float64      `json:"goodness_rate"`
	Category      string       `json:"category,omitempty"`
}

type locationJSON struct {
	IP   string `json:"ip"`
	Port port   `json:"port"`
}

// port is encoded as a number when it is numeric and accepts either form.
type port string

func (p port) MarshalJSON() ([]byte, error) {
	if n, err := strconv.Atoi(string(p)); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(p))
}

func (p *port) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = port(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	norm, err := identity.NormalizePort(n)
	if err != nil {
		return err
	}
	*p = port(norm)
	return nil
}

func encodeResult(res search.Result) searchResponse {
	if !res.Found {
		return searchResponse{
			Status:  StatusNotFound,
			Message: res.Message,
			Visited: identity.Friends(res.Visited),
		}
	}
	agents := make([]agentJSON, 0, len(res.Providers))
	for _, p := range res.Providers {
		agents = append(agents, agentJSON{
			Name:          p.Identity.Name,
			Location:      locationJSON{IP: p.Identity.Host, Port: port(p.Identity.Port)},
			RelevanceRate: p.Relevance,
			GoodnessRate:  p.Goodness,
			Category:      p.Category,
		})
	}
	return searchResponse{Status: StatusFind, Agents: agents}
}

// decodeResult validates a peer reply. Anything that is neither a Find with
// agents nor a Not Found is a protocol violation.
func decodeResult(resp searchResponse) (search.Result, error) {
	switch resp.Status {
	case StatusNotFound:
		res := search.NotFound(resp.Message)
		res.Visited = identity.FromFriends(resp.Visited)
		return res, nil
	case StatusFind:
		if len(resp.Agents) == 0 {
			return search.Result{}, errors.New(errors.CodeProtocol, "Find reply without agents", nil)
		}
		providers := make([]search.Provider, 0, len(resp.Agents))
		for _, a := range resp.Agents {
			id := identity.New(a.Name, a.Location.IP, string(a.Location.Port))
			if id.Name == "" || id.Host == "" {
				return search.Result{}, errors.New(errors.CodeProtocol, "agent without name or location", nil)
			}
			providers = append(providers, search.Provider{
				Identity:  id,
				Relevance: a.RelevanceRate,
				Goodness:  a.GoodnessRate,
				Category:  a.Category,
			})
		}
		return search.Found(providers), nil
	default:
		return search.Result{}, errors.New(errors.CodeProtocol, "unknown search status", nil).
			WithContext("status", resp.Status)
	}
}
