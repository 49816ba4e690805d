package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/store-agent/backend/pkg/logger"
	"github.com/store-agent/backend/pkg/utils"
)

// Client caches question embeddings so repeated questions skip the
// embedding API.
type Client struct {
	client *redis.Client
	model  string
	ttl    time.Duration
}

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	Model    string
	TTL      time.Duration
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return newWithClient(client, opts.Model, opts.TTL), nil
}

func newWithClient(client *redis.Client, model string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Client{client: client, model: model, ttl: ttl}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// embeddingKey scopes keys by model since vectors from different models
// are not comparable.
func (c *Client) embeddingKey(text string) string {
	return fmt.Sprintf("embedding:%s:%s", c.model, utils.HashString(utils.NormalizeText(text)))
}

func (c *Client) SetEmbedding(ctx context.Context, text string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	key := c.embeddingKey(text)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("key", key))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float32, bool, error) {
	key := c.embeddingKey(text)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("key", key))
	return embedding, true, nil
}
