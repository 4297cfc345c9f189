/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reasoning asks a language model for scheduling advice and falls back to templates.
package reasoning

import (
	"context"
	"fmt"

	"github.com/friendsincode/kith/internal/config"
)

// Client is the interface for text completion providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of a completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates a client for the configured provider. The "none" provider yields a nil
// client, which makes every Generator call use its fallback.
func NewClient(cfg *config.Config) (Client, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderNone, "":
		return nil, nil
	case config.LLMProviderAnthropic:
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropic(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMEndpoint, cfg.LLMTimeout), nil
	case config.LLMProviderOllama:
		return NewOllama(cfg.LLMEndpoint, cfg.LLMModel, cfg.LLMTimeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.LLMProvider)
	}
}
