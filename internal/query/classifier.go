package query

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/llm"
	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/pkg/logger"
)

// Classifier maps a question to one of the inquiry categories. It never
// fails: anything it cannot decide goes to the fallback category.
type Classifier struct {
	llm      llm.Completer
	fallback Category
}

func NewClassifier(completer llm.Completer, fallback Category) *Classifier {
	if !fallback.Valid() {
		fallback = DefaultFallbackCategory
	}
	return &Classifier{llm: completer, fallback: fallback}
}

func (c *Classifier) Fallback() Category {
	return c.fallback
}

func (c *Classifier) Classify(ctx context.Context, question string) Category {
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifierSystemPrompt,
		UserPrompt:   question,
		Temperature:  llm.Temperature(0),
		MaxTokens:    200,
		JSON:         true,
	})
	if err != nil {
		reason := "transport"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return c.fallbackFor(reason, err)
	}
	recordUsage("classify", resp.Usage)

	var parsed struct {
		Category string `json:"category"`
		Reason   string `json:"reason"`
	}
	if err := llm.DecodeJSON(resp.Content, &parsed); err != nil {
		return c.fallbackFor("malformed", err)
	}

	category, ok := ParseCategory(parsed.Category)
	if !ok {
		return c.fallbackFor("unknown_category", errors.New("unknown category "+parsed.Category))
	}

	logger.Debug("Question classified",
		zap.String("category", string(category)),
		zap.String("reason", parsed.Reason),
	)
	return category
}

func (c *Classifier) fallbackFor(reason string, err error) Category {
	metrics.ClassificationFallbacks.WithLabelValues(reason).Inc()
	logger.Warn("Classification fell back to default category",
		zap.String("reason", reason),
		zap.String("category", string(c.fallback)),
		zap.Error(err),
	)
	return c.fallback
}

func recordUsage(stage string, usage llm.Usage) {
	if usage.PromptTokens > 0 {
		metrics.LLMTokensUsed.WithLabelValues(stage, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		metrics.LLMTokensUsed.WithLabelValues(stage, "completion").Add(float64(usage.CompletionTokens))
	}
}
