package llm

import (
	"time"

	"github.com/store-agent/backend/pkg/config"
)

// NewCompleter picks the chat backend named by cfg.LLM.Provider. The OpenAI
// client is returned as well since embeddings always go through it.
func NewCompleter(cfg *config.Config) (Completer, *Client) {
	openaiClient := NewClient(Options{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.Embedding.Model,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		EmbedTimeout:   time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
	})

	if cfg.LLM.Provider == "anthropic" {
		return NewAnthropicCompleter(AnthropicOptions{
			APIKey:      cfg.LLM.AnthropicKey,
			Model:       cfg.LLM.AnthropicModel,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		}), openaiClient
	}
	return openaiClient, openaiClient
}
