package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestEmbeddingKey_NormalizesAndScopesByModel(t *testing.T) {
	small := newWithClient(unreachable(), "text-embedding-3-small", 0)
	large := newWithClient(unreachable(), "text-embedding-3-large", 0)

	assert.Equal(t, small.embeddingKey("환불  규정"), small.embeddingKey(" 환불 규정 "))
	assert.NotEqual(t, small.embeddingKey("환불 규정"), large.embeddingKey("환불 규정"))
	assert.Contains(t, small.embeddingKey("x"), "embedding:text-embedding-3-small:")
	assert.Equal(t, 24*time.Hour, small.ttl)
}

func TestGetEmbedding_ConnectionError(t *testing.T) {
	c := newWithClient(unreachable(), "m", time.Minute)
	defer c.Close()

	_, hit, err := c.GetEmbedding(context.Background(), "q")
	require.Error(t, err)
	assert.False(t, hit)
}

func TestNewClient_PingFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewClient(ctx, Options{Host: "127.0.0.1", Port: 1})
	assert.ErrorContains(t, err, "failed to connect to redis")
}
