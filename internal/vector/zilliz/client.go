package zilliz

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/internal/vector"
	"github.com/store-agent/backend/pkg/logger"
)

var outputFields = []string{"chunk_id", "title", "category", "text"}

// Client keeps one Milvus collection per corpus.
type Client struct {
	client      client.Client
	collections map[vector.Corpus]string
	vectorDim   int
	timeout     time.Duration
}

type Options struct {
	Endpoint         string
	APIKey           string
	ManualCollection string
	PolicyCollection string
	VectorDim        int
	Timeout          time.Duration
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	cfg := client.Config{Address: opts.Endpoint}
	if opts.APIKey != "" {
		cfg.APIKey = opts.APIKey
		cfg.EnableTLSAuth = true
	}

	c, err := client.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", opts.Endpoint),
		zap.String("manuals", opts.ManualCollection),
		zap.String("policies", opts.PolicyCollection),
	)

	return &Client{
		client: c,
		collections: map[vector.Corpus]string{
			vector.CorpusManuals:  opts.ManualCollection,
			vector.CorpusPolicies: opts.PolicyCollection,
		},
		vectorDim: opts.VectorDim,
		timeout:   opts.Timeout,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) collection(corpus vector.Corpus) (string, error) {
	name, ok := z.collections[corpus]
	if !ok || name == "" {
		return "", fmt.Errorf("unknown corpus %q", corpus)
	}
	return name, nil
}

// EnsureCollections creates and loads any missing corpus collection.
func (z *Client) EnsureCollections(ctx context.Context) error {
	for corpus := range z.collections {
		if err := z.createCollection(ctx, corpus); err != nil {
			return err
		}
	}
	return nil
}

func (z *Client) createCollection(ctx context.Context, corpus vector.Corpus) error {
	name, err := z.collection(corpus)
	if err != nil {
		return err
	}

	has, err := z.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", name))
		return z.client.LoadCollection(ctx, name, false)
	}

	if err := z.client.CreateCollection(ctx, schemaFor(name, string(corpus), z.vectorDim), entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, name, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", name))

	return nil
}

func schemaFor(name, corpus string, dim int) *entity.Schema {
	varchar := func(field string, maxLen int) *entity.Field {
		return &entity.Field{
			Name:       field,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
		}
	}

	id := varchar("chunk_id", 64)
	id.PrimaryKey = true

	return &entity.Schema{
		CollectionName: name,
		Description:    fmt.Sprintf("store %s embeddings", corpus),
		Fields: []*entity.Field{
			id,
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
			varchar("doc_id", 64),
			varchar("title", 512),
			varchar("category", 128),
			varchar("text", 8192),
			{Name: "timestamp", DataType: entity.FieldTypeInt64},
		},
	}
}

// Insert groups chunks by corpus and writes each group to its collection.
func (z *Client) Insert(ctx context.Context, chunks []models.DocumentChunk) error {
	byCorpus := make(map[vector.Corpus][]models.DocumentChunk)
	for _, chunk := range chunks {
		byCorpus[vector.Corpus(chunk.Corpus)] = append(byCorpus[vector.Corpus(chunk.Corpus)], chunk)
	}

	for corpus, group := range byCorpus {
		if err := z.insert(ctx, corpus, group); err != nil {
			return err
		}
	}
	return nil
}

func (z *Client) insert(ctx context.Context, corpus vector.Corpus, chunks []models.DocumentChunk) error {
	name, err := z.collection(corpus)
	if err != nil {
		return err
	}

	n := len(chunks)
	ids := make([]string, n)
	embeddings := make([][]float32, n)
	docIDs := make([]string, n)
	titles := make([]string, n)
	categories := make([]string, n)
	texts := make([]string, n)
	timestamps := make([]int64, n)

	now := time.Now().Unix()
	for i, chunk := range chunks {
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		docIDs[i] = chunk.DocID
		titles[i] = chunk.Title
		categories[i] = chunk.Category
		texts[i] = chunk.Text
		timestamps[i] = now
	}

	_, err = z.client.Insert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("category", categories),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("timestamp", timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB",
		zap.String("collection", name),
		zap.Int("count", n),
	)

	return nil
}

// DeleteDocument removes the chunks previously ingested for docID.
func (z *Client) DeleteDocument(ctx context.Context, corpus vector.Corpus, docID string) error {
	name, err := z.collection(corpus)
	if err != nil {
		return err
	}

	if err := z.client.Delete(ctx, name, "", docFilter(docID)); err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}

func docFilter(docID string) string {
	return "doc_id == " + strconv.Quote(docID)
}

func (z *Client) Search(ctx context.Context, corpus vector.Corpus, embedding []float32, topK int) ([]vector.Match, error) {
	name, err := z.collection(corpus)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, z.timeout)
	defer cancel()

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := z.client.Search(
		ctx,
		name,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.COSINE,
		vector.ClampTopK(topK),
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches, err := toMatches(results, corpus)
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector search completed",
		zap.String("collection", name),
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}

// toMatches converts COSINE similarity scores into distances (1 - score)
// and returns them closest first.
func toMatches(results []client.SearchResult, corpus vector.Corpus) ([]vector.Match, error) {
	matches := make([]vector.Match, 0)
	for _, sr := range results {
		if sr.Err != nil {
			return nil, fmt.Errorf("search result error: %w", sr.Err)
		}

		for i := 0; i < sr.ResultCount; i++ {
			m := vector.Match{
				Corpus:   corpus,
				Distance: 1 - float64(sr.Scores[i]),
			}
			m.ID = stringAt(sr.Fields, "chunk_id", i)
			m.Title = stringAt(sr.Fields, "title", i)
			m.Category = stringAt(sr.Fields, "category", i)
			m.Content = stringAt(sr.Fields, "text", i)
			matches = append(matches, m)
		}
	}

	vector.SortByDistance(matches)
	return matches, nil
}

func stringAt(fields client.ResultSet, name string, i int) string {
	col := fields.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.GetAsString(i)
	if err != nil {
		return ""
	}
	return v
}
