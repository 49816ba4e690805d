package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/store-agent/backend/pkg/circuitbreaker"
	"github.com/store-agent/backend/pkg/logger"
)

// AnthropicCompleter implements Completer using the Anthropic Messages API.
// Claude has no JSON response mode, so JSON requests get an instruction
// appended to the system prompt and callers strip fences with ExtractJSON.
type AnthropicCompleter struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float32
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

type AnthropicOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

func NewAnthropicCompleter(opts AnthropicOptions) *AnthropicCompleter {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 2048
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	logger.Info("Anthropic client initialized", zap.String("model", opts.Model))

	return &AnthropicCompleter{
		client:      anthropic.NewClient(reqOpts...),
		model:       anthropic.Model(opts.Model),
		maxTokens:   int64(opts.MaxTokens),
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		cb:          newBreaker("llm-anthropic"),
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	system := req.SystemPrompt
	if req.JSON {
		system += "\n\nRespond with a single JSON object and nothing else."
	}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	temperature := resolveTemperature(req.Temperature, c.temperature)

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		Temperature: anthropic.Float(float64(temperature)),
	}

	return circuitbreaker.ExecuteWithResult(ctx, c.cb, func() (*CompletionResponse, error) {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("anthropic API error: %w", err)
		}

		usage := Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		}

		for _, block := range msg.Content {
			if block.Type == "text" {
				logger.Debug("Anthropic completion generated",
					zap.Int("prompt_tokens", usage.PromptTokens),
					zap.Int("completion_tokens", usage.CompletionTokens),
				)
				return &CompletionResponse{Content: block.Text, Usage: usage}, nil
			}
		}
		return nil, ErrEmptyResponse
	})
}
