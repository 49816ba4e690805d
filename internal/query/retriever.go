package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/llm"
	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/vector"
	"github.com/store-agent/backend/pkg/logger"
)

// EmbeddingCache stores question embeddings. Cache errors never fail a lookup.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, text string, embedding []float32) error
}

type SemanticRetrieverOptions struct {
	TopK    int
	Timeout time.Duration
	// Cache is optional.
	Cache EmbeddingCache
}

// SemanticRetriever embeds the question and searches one knowledge-base corpus.
type SemanticRetriever struct {
	embedder llm.Embedder
	searcher vector.Searcher
	cache    EmbeddingCache
	topK     int
	timeout  time.Duration
}

func NewSemanticRetriever(embedder llm.Embedder, searcher vector.Searcher, opts SemanticRetrieverOptions) *SemanticRetriever {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &SemanticRetriever{
		embedder: embedder,
		searcher: searcher,
		cache:    opts.Cache,
		topK:     vector.ClampTopK(opts.TopK),
		timeout:  opts.Timeout,
	}
}

// Search returns candidates ordered by cosine distance, closest first. A
// failed or empty search yields no candidates and the maximum distance.
func (r *SemanticRetriever) Search(ctx context.Context, qc QueryContext, corpus vector.Corpus) (*TextualEvidence, error) {
	ev := &TextualEvidence{Corpus: corpus, BestDistance: vector.MaxCosineDistance}

	embedding, err := r.embed(ctx, qc.Question)
	if err != nil {
		logger.Warn("Question embedding failed", zap.String("corpus", string(corpus)), zap.Error(err))
		return ev, ctx.Err()
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	matches, err := r.searcher.Search(searchCtx, corpus, embedding, r.topK)
	if err != nil {
		logger.Warn("Similarity search failed", zap.String("corpus", string(corpus)), zap.Error(err))
		return ev, ctx.Err()
	}

	vector.SortByDistance(matches)
	if len(matches) > r.topK {
		matches = matches[:r.topK]
	}
	for _, m := range matches {
		ev.Candidates = append(ev.Candidates, Candidate{
			Title:    m.Title,
			Content:  m.Content,
			Distance: m.Distance,
			Source:   SourceInternal,
		})
	}
	if len(ev.Candidates) > 0 {
		ev.BestDistance = ev.Candidates[0].Distance
	}

	metrics.BestDistance.WithLabelValues(string(corpus)).Observe(ev.BestDistance)
	logger.Debug("Similarity search completed",
		zap.String("corpus", string(corpus)),
		zap.Int("candidates", len(ev.Candidates)),
		zap.Float64("best_distance", ev.BestDistance),
	)
	return ev, nil
}

func (r *SemanticRetriever) embed(ctx context.Context, question string) ([]float32, error) {
	if r.cache != nil {
		emb, hit, err := r.cache.GetEmbedding(ctx, question)
		switch {
		case err != nil:
			logger.Warn("Embedding cache read failed", zap.Error(err))
		case hit:
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return emb, nil
		default:
			metrics.CacheMisses.WithLabelValues("embedding").Inc()
		}
	}

	emb, err := r.embedder.GenerateEmbedding(ctx, question)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetEmbedding(ctx, question, emb); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
	return emb, nil
}

// ForCorpus binds the retriever to one corpus so it can serve as a category strategy.
func (r *SemanticRetriever) ForCorpus(corpus vector.Corpus) Retriever {
	return corpusRetriever{r: r, corpus: corpus}
}

type corpusRetriever struct {
	r      *SemanticRetriever
	corpus vector.Corpus
}

func (c corpusRetriever) Retrieve(ctx context.Context, qc QueryContext) (Evidence, error) {
	ev, err := c.r.Search(ctx, qc, c.corpus)
	return Evidence{Textual: ev}, err
}
