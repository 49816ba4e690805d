package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/store-agent/backend/internal/llm"
	"github.com/store-agent/backend/internal/search/web"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/internal/vector"
)

// fakeCompleter routes on the system prompt so one instance can serve every stage.
type fakeCompleter struct {
	mu         sync.Mutex
	classify   string
	params     string
	synthesize string
	err        error
	calls      []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	switch req.SystemPrompt {
	case classifierSystemPrompt:
		return &llm.CompletionResponse{Content: f.classify}, nil
	case paramsSystemPrompt:
		return &llm.CompletionResponse{Content: f.params}, nil
	default:
		return &llm.CompletionResponse{Content: f.synthesize}, nil
	}
}

func (f *fakeCompleter) callsFor(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.SystemPrompt == prompt {
			n++
		}
	}
	return n
}

func (f *fakeCompleter) lastSynthesisPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].SystemPrompt == synthesizerSystemPrompt {
			return f.calls[i].UserPrompt
		}
	}
	return ""
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeEmbeddingCache struct {
	data   map[string][]float32
	getErr error
}

func (f *fakeEmbeddingCache) GetEmbedding(ctx context.Context, text string) ([]float32, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	emb, ok := f.data[text]
	return emb, ok, nil
}

func (f *fakeEmbeddingCache) SetEmbedding(ctx context.Context, text string, embedding []float32) error {
	if f.data == nil {
		f.data = make(map[string][]float32)
	}
	f.data[text] = embedding
	return nil
}

type fakeSearcher struct {
	matches  map[vector.Corpus][]vector.Match
	err      error
	lastTopK int
	corpora  []vector.Corpus
}

func (f *fakeSearcher) Search(ctx context.Context, corpus vector.Corpus, embedding []float32, topK int) ([]vector.Match, error) {
	f.lastTopK = topK
	f.corpora = append(f.corpora, corpus)
	if f.err != nil {
		return nil, f.err
	}
	return append([]vector.Match(nil), f.matches[corpus]...), nil
}

type fakeWeb struct {
	byQuery map[string][]web.SearchResult
	err     error
	queries []string
}

func (f *fakeWeb) Search(ctx context.Context, query string, maxResults int) ([]web.SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.byQuery[query], nil
}

type fakeSink struct {
	mu      sync.Mutex
	records []models.Inquiry
	err     error
}

func (f *fakeSink) SaveInquiry(ctx context.Context, inq models.Inquiry) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, inq)
	return int64(len(f.records)), nil
}

// fakeSalesStore keeps per-store daily rows in memory.
type fakeSalesStore struct {
	stores    []models.Store
	daily     map[int64][]models.DailySales
	listCalls int
	failWith  error
	windows   []int
	reviewed  bool
}

func (f *fakeSalesStore) ListStores(ctx context.Context) ([]models.Store, error) {
	f.listCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.stores, nil
}

func (f *fakeSalesStore) LatestSaleDate(ctx context.Context, storeIDs []int64) (time.Time, bool, error) {
	var latest time.Time
	for _, id := range storeIDs {
		for _, d := range f.daily[id] {
			if d.Date.After(latest) {
				latest = d.Date
			}
		}
	}
	return latest, !latest.IsZero(), nil
}

func (f *fakeSalesStore) DailySales(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.DailySales, error) {
	f.windows = append(f.windows, int(to.Sub(from).Hours()/24)+1)
	return f.rows(storeIDs, from, to), nil
}

func (f *fakeSalesStore) rows(storeIDs []int64, from, to time.Time) []models.DailySales {
	byDate := map[time.Time]*models.DailySales{}
	var order []time.Time
	for _, id := range storeIDs {
		for _, d := range f.daily[id] {
			if d.Date.Before(from) || d.Date.After(to) {
				continue
			}
			row, ok := byDate[d.Date]
			if !ok {
				row = &models.DailySales{Date: d.Date, Weather: d.Weather}
				byDate[d.Date] = row
				order = append(order, d.Date)
			}
			row.TotalSales += d.TotalSales
			row.TotalOrders += d.TotalOrders
		}
	}
	sortTimes(order)
	series := make([]models.DailySales, 0, len(order))
	for _, t := range order {
		series = append(series, *byDate[t])
	}
	return series
}

func (f *fakeSalesStore) PeriodTotal(ctx context.Context, storeIDs []int64, from, to time.Time) (float64, error) {
	total := 0.0
	for _, d := range f.rows(storeIDs, from, to) {
		total += d.TotalSales
	}
	return total, nil
}

func (f *fakeSalesStore) StoreTotals(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.StoreTotal, error) {
	return nil, nil
}

func (f *fakeSalesStore) CategoryBreakdown(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.CategorySales, error) {
	return []models.CategorySales{{Category: "커피", Quantity: 120, Revenue: 540000}}, nil
}

func (f *fakeSalesStore) MenuRanking(ctx context.Context, storeIDs []int64, from, to time.Time, limit int, ascending bool) ([]models.MenuSales, error) {
	if ascending {
		return []models.MenuSales{{MenuID: 9, MenuName: "자몽에이드", Quantity: 2}}, nil
	}
	return []models.MenuSales{{MenuID: 1, MenuName: "아메리카노", Quantity: 80}}, nil
}

func (f *fakeSalesStore) Reviews(ctx context.Context, storeIDs []int64, from, to time.Time, limit int) ([]models.Review, error) {
	f.reviewed = true
	return []models.Review{{MenuName: "자몽에이드", Rating: 2, Text: "너무 달아요"}}, nil
}

func (f *fakeSalesStore) MenuReviews(ctx context.Context, storeIDs, menuIDs []int64, from, to time.Time, perMenu int) (map[int64][]models.Review, error) {
	return map[int64][]models.Review{9: {{MenuID: 9, Rating: 2, Text: "너무 달아요"}}}, nil
}

func sortTimes(ts []time.Time) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// salesDays builds n consecutive daily rows ending on last.
func salesDays(last string, n int, amount float64) []models.DailySales {
	end := day(last)
	rows := make([]models.DailySales, 0, n)
	for i := n - 1; i >= 0; i-- {
		rows = append(rows, models.DailySales{Date: end.AddDate(0, 0, -i), TotalSales: amount, TotalOrders: 10, Weather: "맑음"})
	}
	return rows
}

func testStores() []models.Store {
	return []models.Store{
		{ID: 1, Name: "서울 강남점", Region: "서울", City: "강남구"},
		{ID: 2, Name: "서울 홍대점", Region: "서울", City: "마포구"},
		{ID: 3, Name: "부산 서면점", Region: "부산", City: "부산진구"},
	}
}

var errBoom = errors.New("boom")
