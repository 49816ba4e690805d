package ingestion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/internal/vector"
	"github.com/store-agent/backend/pkg/logger"
	"github.com/store-agent/backend/pkg/utils"
)

var (
	ErrEmptyContent  = errors.New("no content to ingest")
	ErrInvalidCorpus = errors.New("corpus must be manuals or policies")
)

var whitespace = regexp.MustCompile(`\s+`)

// documentNamespace scopes document ids: the same title in the same corpus
// always maps to the same id, and its old chunks are deleted before insert.
var documentNamespace = uuid.MustParse("6f1c1d1e-3f0b-4a8e-9d0c-5b7f2a9e4c11")

type BatchEmbedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Registry records ingested documents. It is optional; without one every
// document is re-embedded.
type Registry interface {
	InsertDocument(ctx context.Context, doc models.Document, chunkCount int) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

type Document struct {
	Corpus   vector.Corpus `json:"corpus"`
	Category string        `json:"category"`
	Title    string        `json:"title"`
	Content  string        `json:"content"`
	// Force re-embeds a document even when the registry has it unchanged.
	Force bool `json:"force"`
}

type Result struct {
	DocID     string `json:"doc_id"`
	Title     string `json:"title"`
	Chunks    int    `json:"chunks"`
	Unchanged bool   `json:"unchanged,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Concurrency  int
	Clock        clockwork.Clock
}

// Processor turns manuals and policies into embedded chunks in the vector index.
type Processor struct {
	embedder     BatchEmbedder
	writer       vector.Writer
	registry     Registry
	chunkSize    int
	chunkOverlap int
	concurrency  int
	clock        clockwork.Clock
}

func NewProcessor(embedder BatchEmbedder, writer vector.Writer, registry Registry, opts Options) *Processor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 800
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Processor{
		embedder:     embedder,
		writer:       writer,
		registry:     registry,
		chunkSize:    opts.ChunkSize,
		chunkOverlap: opts.ChunkOverlap,
		concurrency:  opts.Concurrency,
		clock:        opts.Clock,
	}
}

func (p *Processor) ProcessDocument(ctx context.Context, in Document) (*Result, error) {
	if !in.Corpus.Valid() {
		return nil, ErrInvalidCorpus
	}

	text := cleanContent(in.Content)
	if text == "" {
		return nil, ErrEmptyContent
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = extractTitle(in.Content)
	}

	docID := uuid.NewSHA1(documentNamespace, []byte(string(in.Corpus)+"\x00"+title)).String()
	logger.Info("Processing document",
		zap.String("doc_id", docID),
		zap.String("corpus", string(in.Corpus)),
		zap.String("title", title),
	)

	if prev := p.registered(ctx, docID); prev != nil && !in.Force &&
		prev.Content == text && prev.Category == in.Category && prev.ChunkCount > 0 {
		logger.Info("Document unchanged, skipping", zap.String("doc_id", docID))
		return &Result{DocID: docID, Title: title, Chunks: prev.ChunkCount, Unchanged: true}, nil
	}

	chunks := p.chunkText(text)
	embeddings, err := p.embedder.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	vectorChunks := make([]models.DocumentChunk, 0, len(chunks))
	for i, chunk := range chunks {
		vectorChunks = append(vectorChunks, models.DocumentChunk{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, i),
			DocID:      docID,
			Corpus:     string(in.Corpus),
			Category:   in.Category,
			Title:      title,
			ChunkIndex: i,
			Text:       chunk,
			Embedding:  embeddings[i],
		})
	}

	if err := p.writer.DeleteDocument(ctx, in.Corpus, docID); err != nil {
		return nil, fmt.Errorf("failed to remove previous chunks: %w", err)
	}
	if err := p.writer.Insert(ctx, vectorChunks); err != nil {
		return nil, fmt.Errorf("failed to insert into vector index: %w", err)
	}

	if p.registry != nil {
		doc := models.Document{
			ID:        docID,
			Corpus:    string(in.Corpus),
			Category:  in.Category,
			Title:     title,
			Content:   text,
			CreatedAt: p.clock.Now(),
		}
		if err := p.registry.InsertDocument(ctx, doc, len(chunks)); err != nil {
			logger.Warn("Failed to register document", zap.String("doc_id", docID), zap.Error(err))
		}
	}

	metrics.DocumentsIngested.WithLabelValues(string(in.Corpus)).Inc()
	logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)),
	)

	return &Result{DocID: docID, Title: title, Chunks: len(chunks)}, nil
}

// registered returns the registry's copy of docID, or nil when there is none.
func (p *Processor) registered(ctx context.Context, docID string) *models.Document {
	if p.registry == nil {
		return nil
	}
	doc, err := p.registry.GetDocument(ctx, docID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Failed to read document registry", zap.String("doc_id", docID), zap.Error(err))
		}
		return nil
	}
	return doc
}

// IngestBatch processes documents with bounded concurrency. A failed document
// is reported in its result and does not stop the others; only ctx
// cancellation aborts the batch.
func (p *Processor) IngestBatch(ctx context.Context, docs []Document) ([]Result, error) {
	results := make([]Result, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			res, err := p.ProcessDocument(gctx, doc)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				results[i] = Result{Title: doc.Title, Error: err.Error()}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// cleanContent strips markup from HTML input and collapses whitespace.
func cleanContent(content string) string {
	if looksLikeHTML(content) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
		if err == nil {
			doc.Find("script, style, nav, footer, header, aside").Remove()
			content = doc.Find("body").Text()
		}
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(content, " "))
}

func looksLikeHTML(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "<html") || strings.Contains(s, "<body") ||
		strings.Contains(s, "<p>") || strings.Contains(s, "<div")
}

func extractTitle(content string) string {
	if looksLikeHTML(content) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
		if err == nil {
			title := strings.TrimSpace(doc.Find("title").First().Text())
			if title == "" {
				title = strings.TrimSpace(doc.Find("h1").First().Text())
			}
			if title != "" {
				return title
			}
		}
	}
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(strings.TrimLeft(line, "# ")); line != "" {
			return utils.Truncate(line, 80)
		}
	}
	return "Untitled"
}

// chunkText splits on word boundaries into chunks of at most chunkSize runes,
// carrying the trailing chunkOverlap runes' worth of words into the next chunk.
func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	size := 0

	for _, word := range words {
		wordLen := len([]rune(word)) + 1
		if size+wordLen > p.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			var overlap []string
			kept := 0
			for j := len(current) - 1; j >= 0; j-- {
				n := len([]rune(current[j])) + 1
				if kept+n > p.chunkOverlap {
					break
				}
				overlap = append([]string{current[j]}, overlap...)
				kept += n
			}
			current = overlap
			size = kept
		}
		current = append(current, word)
		size += wordLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
