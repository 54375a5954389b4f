// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	hubneterrors "github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/llm"
	"github.com/jllopis/hubnet/pkg/registry"
)

// DefaultCategoriesPrompt instructs the model to classify a request.
const DefaultCategoriesPrompt = `You route service requests to agent categories.
Given a table of categories and a request, answer only with a json block:
{"agents": [{"name": "<category name>"}]}
List every category that can satisfy the request. Answer {"agents": []} when none can.`

// DefaultMatchPrompt instructs the model to pick agents among candidates.
const DefaultMatchPrompt = `You select the agents able to satisfy a request.
Answer only with a json block of the form
{"status": "Find", "agents": [{"name": "...", "location": {"ip": "...", "port": "..."}, "relevance_rate": 0, "goodness_rate": 0}]}
or {"status": "Not Found", "message": "<reason>"} when no agent in the table fits.`

// LLMMatcher asks a chat model to classify requests.
type LLMMatcher struct {
	provider         llm.Provider
	model            string
	categoriesPrompt string
	matchPrompt      string
	maxRows          int
}

// LLMOption configures an LLMMatcher.
type LLMOption func(*LLMMatcher)

// WithModel sets the model name sent with each request.
func WithModel(model string) LLMOption {
	return func(m *LLMMatcher) { m.model = model }
}

// WithPrompts overrides the system prompts. Empty values keep the default.
func WithPrompts(categories, match string) LLMOption {
	return func(m *LLMMatcher) {
		if categories != "" {
			m.categoriesPrompt = categories
		}
		if match != "" {
			m.matchPrompt = match
		}
	}
}

// WithMaxRows caps the candidate table size sent to the model.
func WithMaxRows(n int) LLMOption {
	return func(m *LLMMatcher) {
		if n > 0 {
			m.maxRows = n
		}
	}
}

// NewLLMMatcher creates a matcher backed by provider.
func NewLLMMatcher(provider llm.Provider, opts ...LLMOption) *LLMMatcher {
	m := &LLMMatcher{
		provider:         provider,
		categoriesPrompt: DefaultCategoriesPrompt,
		matchPrompt:      DefaultMatchPrompt,
		maxRows:          25,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadPrompt reads a prompt file, returning fallback when path is empty or
// unreadable.
func LoadPrompt(path, fallback string) string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("matcher.prompt.load.failed", slog.String("path", path), slog.String("error", err.Error()))
		return fallback
	}
	return string(data)
}

// Categories implements Matcher.
func (m *LLMMatcher) Categories(ctx context.Context, text string, table []registry.Category) ([]string, error) {
	if len(table) == 0 {
		return nil, nil
	}
	user := "Based on the following Markdown table of agents, please identify which agents can satisfy the request.\n\n" +
		"### Agent Table\n" + categoryTable(table) + "\n\n" +
		"### Request\n" + text
	content, err := m.chat(ctx, m.categoriesPrompt, user)
	if err != nil {
		return nil, err
	}
	return ParseCategories(content)
}

// Match implements Matcher.
func (m *LLMMatcher) Match(ctx context.Context, text string, candidates []registry.Record) (Outcome, error) {
	if len(candidates) == 0 {
		return Outcome{Message: "no active agent in the requested categories"}, nil
	}
	user := "Base on the Below information answer to the question :\n" +
		"context table:\n" + candidateTable(candidates, m.maxRows) + "\n" +
		"user prompt:\n" + text
	content, err := m.chat(ctx, m.matchPrompt, user)
	if err != nil {
		return Outcome{}, err
	}
	return ParseOutcome(content)
}

func (m *LLMMatcher) chat(ctx context.Context, system, user string) (string, error) {
	resp, err := m.provider.Chat(ctx, llm.ChatRequest{
		Model: m.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", hubneterrors.New(hubneterrors.CodeMatcher, "llm call failed", err).WithRecoverable(true)
	}
	return resp.Content, nil
}

func categoryTable(table []registry.Category) string {
	var b strings.Builder
	b.WriteString("| Agent Name          | Description                              |\n")
	b.WriteString("|---------------------|------------------------------------------|\n")
	for _, c := range table {
		fmt.Fprintf(&b, "| %-19s | %-40s |\n", cell(c.Name), cell(c.Description))
	}
	return b.String()
}

func candidateTable(candidates []registry.Record, maxRows int) string {
	rows := candidates
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Rows: %d, Columns: 7\n\n", len(rows))
	b.WriteString("| Agent Name | IP Address | Port | Agent Type | Description | relevance_rate | goodness_rate |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			cell(r.Identity.Name), cell(r.Identity.Host), cell(r.Identity.Port),
			cell(r.Category), cell(r.Description),
			strconv.FormatFloat(r.Relevance, 'f', -1, 64),
			strconv.FormatFloat(r.Goodness, 'f', -1, 64))
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "/"), "\n", " ")
}
