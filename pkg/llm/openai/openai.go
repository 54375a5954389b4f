// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides an OpenAI chat provider for the LLM matcher.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jllopis/hubnet/pkg/llm"
)

// DefaultModel is used when neither the provider nor the request names one.
const DefaultModel = "gpt-4o-mini"

// Provider implements llm.Provider for the OpenAI API.
type Provider struct {
	client openai.Client
	model  string
}

// Option configures the Provider.
type Option func(*settings)

type settings struct {
	model   string
	request []option.RequestOption
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithBaseURL sets a custom base URL (Azure OpenAI, proxies, tests).
func WithBaseURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.request = append(s.request, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey sets the API key. OPENAI_API_KEY is used otherwise.
func WithAPIKey(apiKey string) Option {
	return func(s *settings) {
		if apiKey != "" {
			s.request = append(s.request, option.WithAPIKey(apiKey))
		}
	}
}

// WithMaxRetries sets the client retry budget.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		s.request = append(s.request, option.WithMaxRetries(n))
	}
}

// New creates a new OpenAI provider.
func New(opts ...Option) *Provider {
	s := settings{model: DefaultModel}
	for _, opt := range opts {
		opt(&s)
	}
	return &Provider{
		client: openai.NewClient(s.request...),
		model:  s.model,
	}
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	return convertResponse(completion), nil
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func convertResponse(completion *openai.ChatCompletion) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Content = completion.Choices[0].Message.Content
	}
	return resp
}
