package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/store-agent/backend/internal/search/web"
	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/vector"
)

type engineFixture struct {
	llm      *fakeCompleter
	sales    *fakeSalesStore
	searcher *fakeSearcher
	web      *fakeWeb
	sink     *fakeSink
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		llm:      &fakeCompleter{params: `{"locations":[],"days":7}`, synthesize: `{"answer":"답변입니다."}`},
		sales:    uniformStore(),
		searcher: &fakeSearcher{matches: map[vector.Corpus][]vector.Match{}},
		web:      &fakeWeb{byQuery: map[string][]web.SearchResult{}},
		sink:     &fakeSink{},
	}
	clock := clockwork.NewFakeClockAt(day("2026-01-15"))
	gate, err := NewGate(0.65)
	require.NoError(t, err)

	f.engine = NewEngine(EngineDeps{
		Classifier:  NewClassifier(f.llm, ""),
		Analyzer:    NewAnalyzer(f.llm, f.sales, NewStoreDirectory(f.sales, time.Minute), AnalyzerOptions{Clock: clock}),
		Semantic:    NewSemanticRetriever(&fakeEmbedder{}, f.searcher, SemanticRetrieverOptions{}),
		Gate:        gate,
		Fallback:    NewExternalSearch(f.web, ExternalSearchOptions{DomainPrefix: "카페 프랜차이즈"}),
		Synthesizer: NewSynthesizer(f.llm, SynthesizerOptions{}),
		Sink:        f.sink,
		Clock:       clock,
	})
	return f
}

func TestEngine_SalesAllStores(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"numeric_analytics"}`

	ans, err := f.engine.Ask(context.Background(), QueryContext{Question: "매출 얼마야?", StoreID: 1})
	require.NoError(t, err)

	assert.Equal(t, CategoryNumeric, ans.Category)
	require.NotNil(t, ans.Payload)
	assert.Len(t, ans.Payload.ChartSeries, 7)
	assert.False(t, ans.FallbackUsed)
	assert.Nil(t, ans.BestDistance)
	assert.Empty(t, f.web.queries)
	assert.Equal(t, int64(1), ans.InquiryID)
}

func TestEngine_UnknownStore(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"sales"}`
	f.llm.params = `{"locations":["서울XX점"]}`

	ans, err := f.engine.Ask(context.Background(), QueryContext{Question: "서울XX점 매출", StoreID: 1})
	require.NoError(t, err)

	assert.Contains(t, ans.Narrative, "서울XX점")
	assert.Contains(t, ans.Narrative, "확인하지 못했습니다")
	assert.Nil(t, ans.Payload)
	assert.Equal(t, 0, f.llm.callsFor(synthesizerSystemPrompt))
}

func TestEngine_PolicyLowSimilarityFallsBack(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"document_lookup_policy"}`
	f.searcher.matches[vector.CorpusPolicies] = []vector.Match{{Title: "복장 규정", Distance: 0.80}}
	f.web.byQuery["카페 프랜차이즈 음료 환불 규정"] = []web.SearchResult{
		{Title: "소비자분쟁해결기준", URL: "https://example.org/refund", Snippet: "음료 환불", Score: 0.7, HasScore: true},
	}

	ans, err := f.engine.Ask(context.Background(), QueryContext{Question: "음료 환불 규정", StoreID: 1})
	require.NoError(t, err)

	assert.True(t, ans.FallbackUsed)
	require.NotNil(t, ans.BestDistance)
	assert.InDelta(t, 0.80, *ans.BestDistance, 1e-9)
	require.NotNil(t, ans.Payload)
	require.NotEmpty(t, ans.Payload.Citations)
	assert.Equal(t, "https://example.org/refund", ans.Payload.Citations[0].URL)
	assert.Contains(t, f.llm.lastSynthesisPrompt(), "https://example.org/refund")
}

func TestEngine_PolicyHighSimilarityUsesInternal(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"document_lookup_policy"}`
	f.searcher.matches[vector.CorpusPolicies] = []vector.Match{
		{Title: "환불 규정", Content: "7일 이내", Distance: 0.20},
		{Title: "교환 규정", Content: "영수증 지참", Distance: 0.35},
	}

	ans, err := f.engine.Ask(context.Background(), QueryContext{Question: "환불 규정 알려줘", StoreID: 1})
	require.NoError(t, err)

	assert.False(t, ans.FallbackUsed)
	assert.Empty(t, f.web.queries)
	require.NotNil(t, ans.Payload)
	require.Len(t, ans.Payload.Citations, 2)
	for _, c := range ans.Payload.Citations {
		assert.Equal(t, SourceInternal, c.Source)
		assert.Empty(t, c.URL)
	}
	assert.Equal(t, "환불 규정", ans.Payload.Citations[0].Title)
}

func TestEngine_ThresholdChangeAffectsNextInquiry(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"document_lookup_operational"}`
	f.searcher.matches[vector.CorpusManuals] = []vector.Match{{Title: "머신 청소", Distance: 0.70}}

	ans, err := f.engine.Ask(context.Background(), QueryContext{Question: "머신 청소 방법"})
	require.NoError(t, err)
	assert.True(t, ans.FallbackUsed)

	require.NoError(t, f.engine.Gate().SetThreshold(0.75))
	ans, err = f.engine.Ask(context.Background(), QueryContext{Question: "머신 청소 방법"})
	require.NoError(t, err)
	assert.False(t, ans.FallbackUsed)
	assert.Equal(t, []vector.Corpus{vector.CorpusManuals, vector.CorpusManuals}, f.searcher.corpora)
}

func TestEngine_ClassificationFailureUsesPolicy(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `???`
	f.searcher.matches[vector.CorpusPolicies] = []vector.Match{{Title: "근태 규정", Distance: 0.1}}

	ans, err := f.engine.Ask(context.Background(), QueryContext{Question: "안녕"})
	require.NoError(t, err)
	assert.Equal(t, CategoryPolicy, ans.Category)
}

func TestEngine_PersistenceFailureIsWarning(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"policy"}`
	f.sink.err = errBoom

	ans, err := f.engine.Ask(context.Background(), QueryContext{Question: "q", StoreID: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, ans.Narrative)
	assert.NotEmpty(t, ans.Warning)
	assert.Zero(t, ans.InquiryID)
}

func TestEngine_RecordsEveryInquiry(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"policy"}`

	first, err := f.engine.Ask(context.Background(), QueryContext{Question: "같은 질문", StoreID: 7})
	require.NoError(t, err)
	second, err := f.engine.Ask(context.Background(), QueryContext{Question: "같은 질문", StoreID: 7})
	require.NoError(t, err)

	assert.NotEqual(t, first.InquiryID, second.InquiryID)
	require.Len(t, f.sink.records, 2)
	rec := f.sink.records[0]
	assert.Equal(t, int64(7), rec.StoreID)
	assert.Equal(t, string(CategoryPolicy), rec.Category)
	assert.Equal(t, "답변입니다.", rec.Answer)
	assert.Equal(t, day("2026-01-15"), rec.CreatedAt)
}

func TestEngine_WithoutPersistence(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"policy"}`

	_, err := f.engine.Ask(context.Background(), QueryContext{Question: "q"}, WithoutPersistence())
	require.NoError(t, err)
	assert.Empty(t, f.sink.records)
}

func TestEngine_StageHook(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"policy"}`

	var stages []string
	_, err := f.engine.Ask(context.Background(), QueryContext{Question: "q"}, WithStageHook(func(s string) {
		stages = append(stages, s)
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{StageClassify, StageRetrieve, StageFallback, StageSynthesize, StagePersist}, stages)
}

func TestEngine_StoreUnavailablePropagates(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.classify = `{"category":"numeric_analytics"}`
	f.sales.failWith = fmt.Errorf("%w: connection refused", storage.ErrStoreUnavailable)

	_, err := f.engine.Ask(context.Background(), QueryContext{Question: "매출"})
	require.ErrorIs(t, err, storage.ErrStoreUnavailable)
	assert.Equal(t, storeUnavailableReply, UserMessage(err))
	assert.Empty(t, f.sink.records)
}

func TestEngine_CancelledContext(t *testing.T) {
	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Ask(ctx, QueryContext{Question: "q"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_EmptyQuestion(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Ask(context.Background(), QueryContext{Question: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}
