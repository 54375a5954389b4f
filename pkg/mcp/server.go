// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes hub searches as an MCP tool and provides a small
// client for calling it.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/rank"
	"github.com/jllopis/hubnet/pkg/search"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

// SearchToolName is the tool registered by NewServer.
const SearchToolName = "search_agent"

// Searcher runs a search against a hub.
type Searcher interface {
	Search(ctx context.Context, q search.Query, st search.State) (search.Result, error)
}

// Agent is one provider in the tool output.
type Agent struct {
	Name      string  `json:"name"`
	IP        string  `json:"ip"`
	Port      string  `json:"port"`
	Category  string  `json:"category,omitempty"`
	Relevance float64 `json:"relevance_rate"`
	Goodness  float64 `json:"goodness_rate"`
}

// Server wraps the mcp-go server.
type Server struct {
	mcpServer *server.MCPServer
	searcher  Searcher
	requester identity.Node
	logger    *slog.Logger
}

// NewServer creates an MCP server whose search_agent tool queries
// searcher on behalf of requester.
func NewServer(name, version string, searcher Searcher, requester identity.Node) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		searcher:  searcher,
		requester: requester,
		logger:    telemetry.Component("mcp"),
	}
	tool := mcp.NewTool(SearchToolName,
		mcp.WithDescription("Find agents in the hub network that can serve a request. Returns the ranked providers as JSON."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("What the agent must be able to do")),
	)
	s.mcpServer.AddTool(tool, s.handleSearch)
	return s
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil || strings.TrimSpace(prompt) == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}
	q := search.NewQuery(prompt, s.requester)
	res, err := s.searcher.Search(ctx, q, search.State{})
	if err != nil {
		s.logger.WarnContext(ctx, "mcp.search.failed",
			slog.String("search_id", q.ID),
			slog.String("error", err.Error()))
		return mcp.NewToolResultError("search failed: " + err.Error()), nil
	}
	if !res.Found {
		return mcp.NewToolResultError("no agent found: " + res.Message), nil
	}
	agents := make([]Agent, 0, len(res.Providers))
	for _, p := range rank.Sort(res.Providers) {
		agents = append(agents, Agent{
			Name:      p.Identity.Name,
			IP:        p.Identity.Host,
			Port:      p.Identity.Port,
			Category:  p.Category,
			Relevance: p.Relevance,
			Goodness:  p.Goodness,
		})
	}
	data, err := json.Marshal(agents)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// HTTPHandler returns a streamable HTTP handler for the server.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}
