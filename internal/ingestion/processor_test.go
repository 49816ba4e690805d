package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/internal/vector"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	chunks  []models.DocumentChunk
	deleted []string
	err     error
}

func (f *fakeWriter) DeleteDocument(ctx context.Context, corpus vector.Corpus, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, docID)
	kept := f.chunks[:0]
	for _, c := range f.chunks {
		if c.DocID != docID || c.Corpus != string(corpus) {
			kept = append(kept, c)
		}
	}
	f.chunks = kept
	return nil
}

func (f *fakeWriter) Insert(ctx context.Context, chunks []models.DocumentChunk) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return nil
}

type fakeRegistry struct {
	mu   sync.Mutex
	docs map[string]models.Document
}

func (f *fakeRegistry) InsertDocument(ctx context.Context, doc models.Document, chunkCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs == nil {
		f.docs = map[string]models.Document{}
	}
	doc.ChunkCount = chunkCount
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeRegistry) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &doc, nil
}

func newTestProcessor(w *fakeWriter, r *fakeRegistry, chunkSize int) *Processor {
	var registry Registry
	if r != nil {
		registry = r
	}
	return NewProcessor(&fakeEmbedder{}, w, registry, Options{ChunkSize: chunkSize, ChunkOverlap: 10, Clock: clockwork.NewFakeClock()})
}

func TestProcessDocument_PlainText(t *testing.T) {
	w, r := &fakeWriter{}, &fakeRegistry{}
	p := newTestProcessor(w, r, 800)

	res, err := p.ProcessDocument(context.Background(), Document{
		Corpus:   vector.CorpusPolicies,
		Category: "환불",
		Title:    "환불 규정",
		Content:  "음료는 제조 후   환불이 불가합니다.\n\n단, 제조 오류는 교환합니다.",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Chunks)
	require.Len(t, w.chunks, 1)
	c := w.chunks[0]
	assert.Equal(t, "policies", c.Corpus)
	assert.Equal(t, "환불 규정", c.Title)
	assert.Equal(t, "음료는 제조 후 환불이 불가합니다. 단, 제조 오류는 교환합니다.", c.Text)
	assert.Equal(t, res.DocID+"_chunk_0", c.ID)
	assert.Equal(t, 1, r.docs[res.DocID].ChunkCount)
}

func TestProcessDocument_HTML(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProcessor(w, nil, 800)

	res, err := p.ProcessDocument(context.Background(), Document{
		Corpus:  vector.CorpusManuals,
		Content: `<html><head><title>에스프레소 머신 청소</title><script>x()</script></head><body><nav>메뉴</nav><p>매일 마감 후 그룹헤드를 세척합니다.</p></body></html>`,
	})
	require.NoError(t, err)

	assert.Equal(t, "에스프레소 머신 청소", res.Title)
	require.Len(t, w.chunks, 1)
	assert.Equal(t, "매일 마감 후 그룹헤드를 세척합니다.", w.chunks[0].Text)
}

func TestProcessDocument_StableIDPerCorpusAndTitle(t *testing.T) {
	p := newTestProcessor(&fakeWriter{}, nil, 800)
	doc := Document{Corpus: vector.CorpusPolicies, Title: "복장 규정", Content: "앞치마 착용"}

	a, err := p.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	b, err := p.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, a.DocID, b.DocID)

	doc.Corpus = vector.CorpusManuals
	c, err := p.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.NotEqual(t, a.DocID, c.DocID)
}

func TestProcessDocument_ReingestReplacesChunks(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProcessor(w, nil, 20)
	long := Document{
		Corpus:  vector.CorpusManuals,
		Title:   "마감 체크리스트",
		Content: strings.Repeat("그룹헤드 세척 ", 12),
	}

	first, err := p.ProcessDocument(context.Background(), long)
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 2)
	require.Len(t, w.chunks, first.Chunks)

	_, err = p.ProcessDocument(context.Background(), long)
	require.NoError(t, err)
	assert.Len(t, w.chunks, first.Chunks, "same version must not duplicate chunks")

	short := long
	short.Content = "그룹헤드 세척"
	second, err := p.ProcessDocument(context.Background(), short)
	require.NoError(t, err)
	assert.Equal(t, first.DocID, second.DocID)
	require.Len(t, w.chunks, 1, "stale trailing chunks are removed")
	assert.Equal(t, "그룹헤드 세척", w.chunks[0].Text)
	assert.Equal(t, []string{first.DocID, first.DocID, first.DocID}, w.deleted)
}

func TestProcessDocument_SkipsUnchangedRegisteredDocument(t *testing.T) {
	w, r := &fakeWriter{}, &fakeRegistry{}
	p := newTestProcessor(w, r, 800)
	doc := Document{Corpus: vector.CorpusPolicies, Category: "환불", Title: "환불 규정", Content: "구매 후 7일 이내 환불"}

	first, err := p.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, first.Unchanged)

	again, err := p.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Equal(t, first.Chunks, again.Chunks)
	assert.Len(t, w.deleted, 1, "unchanged content is not rewritten")

	doc.Force = true
	forced, err := p.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, forced.Unchanged)
	assert.Len(t, w.deleted, 2)
	assert.Len(t, w.chunks, first.Chunks)

	doc.Force = false
	doc.Content = "구매 후 14일 이내 환불"
	changed, err := p.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, changed.Unchanged)
	assert.Equal(t, doc.Content, r.docs[first.DocID].Content)
}

func TestProcessDocument_Validation(t *testing.T) {
	p := newTestProcessor(&fakeWriter{}, nil, 800)

	_, err := p.ProcessDocument(context.Background(), Document{Corpus: "faq", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidCorpus)

	_, err = p.ProcessDocument(context.Background(), Document{Corpus: vector.CorpusManuals, Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestProcessDocument_WriterError(t *testing.T) {
	p := newTestProcessor(&fakeWriter{err: errors.New("index down")}, nil, 800)
	_, err := p.ProcessDocument(context.Background(), Document{Corpus: vector.CorpusManuals, Title: "t", Content: "x"})
	assert.ErrorContains(t, err, "index down")
}

func TestChunkText(t *testing.T) {
	p := newTestProcessor(&fakeWriter{}, nil, 20)
	text := strings.Repeat("원두를 밀폐 용기에 보관 ", 6)

	chunks := p.chunkText(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 20)
	}
	// Overlap carries the last words of one chunk into the next.
	prevWords := strings.Fields(chunks[0])
	require.GreaterOrEqual(t, len(prevWords), 3)
	assert.Contains(t, prevWords[len(prevWords)-3:], strings.Fields(chunks[1])[0])
	assert.True(t, strings.HasSuffix(chunks[0], strings.Fields(chunks[1])[0]) ||
		strings.Contains(chunks[0], strings.Fields(chunks[1])[0]+" "))

	assert.Nil(t, p.chunkText("   "))
}

func TestIngestBatch_ReportsPerDocumentErrors(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProcessor(w, nil, 800)

	results, err := p.IngestBatch(context.Background(), []Document{
		{Corpus: vector.CorpusManuals, Title: "a", Content: "첫 번째"},
		{Corpus: "bogus", Title: "b", Content: "두 번째"},
		{Corpus: vector.CorpusPolicies, Title: "c", Content: "세 번째"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Chunks)
	assert.Contains(t, results[1].Error, "corpus")
	assert.Equal(t, "c", results[2].Title)
	assert.Len(t, w.chunks, 2)
}

func TestExtractTitle_PlainText(t *testing.T) {
	assert.Equal(t, "매장 오픈 체크리스트", extractTitle("# 매장 오픈 체크리스트\n\n1. 전원"))
	assert.Equal(t, "Untitled", extractTitle(""))
}
