package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/store-agent/backend/internal/ingestion"
	"github.com/store-agent/backend/internal/middleware/validation"
	"github.com/store-agent/backend/internal/query"
	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/storage/models"
)

type fakeAsker struct {
	answer *query.FinalAnswer
	err    error
	got    query.QueryContext
}

func (f *fakeAsker) Ask(_ context.Context, qc query.QueryContext, opts ...query.AskOption) (*query.FinalAnswer, error) {
	f.got = qc
	return f.answer, f.err
}

type fakeHistory struct {
	records  []models.Inquiry
	feedback []models.Feedback
	limit    int
	err      error
	known    map[int64]bool
}

func (f *fakeHistory) InquiryHistory(_ context.Context, storeID int64, limit int) ([]models.Inquiry, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Inquiry
	for _, r := range f.records {
		if r.StoreID == storeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHistory) SaveFeedback(_ context.Context, fb models.Feedback) (int64, error) {
	if !f.known[fb.InquiryID] {
		return 0, fmt.Errorf("inquiry %d: %w", fb.InquiryID, storage.ErrNotFound)
	}
	f.feedback = append(f.feedback, fb)
	return int64(len(f.feedback)), nil
}

type fakeIngester struct {
	err error
	got ingestion.Document
}

func (f *fakeIngester) ProcessDocument(_ context.Context, doc ingestion.Document) (*ingestion.Result, error) {
	f.got = doc
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.Result{DocID: "doc-1", Title: doc.Title, Chunks: 2}, nil
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func inquiryApp(asker Asker, history HistoryStore) *fiber.App {
	h := NewInquiryHandler(asker, history, clockwork.NewFakeClock())
	app := fiber.New()
	app.Post("/api/v1/inquiry/ask", h.Ask)
	app.Get("/api/v1/inquiry/history/:store_id", h.History)
	app.Post("/api/v1/inquiry/:id/feedback", h.Feedback)
	return app
}

func TestAsk_ReturnsAnswer(t *testing.T) {
	best := 0.2
	asker := &fakeAsker{answer: &query.FinalAnswer{
		InquiryID:    7,
		Narrative:    "환불은 7일 이내 가능합니다.",
		Category:     query.CategoryPolicy,
		BestDistance: &best,
	}}
	app := inquiryApp(asker, &fakeHistory{})

	status, body := do(t, app, http.MethodPost, "/api/v1/inquiry/ask",
		`{"store_id":3,"question":"환불 규정 알려줘","window_days":30}`, nil)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "환불은 7일 이내 가능합니다.", body["answer"])
	assert.Equal(t, "document_lookup_policy", body["category"])
	assert.Equal(t, false, body["fallback_used"])
	assert.InDelta(t, 0.2, body["best_distance"], 1e-9)
	assert.Equal(t, query.QueryContext{Question: "환불 규정 알려줘", StoreID: 3, RequestedWindow: 30}, asker.got)
}

func TestAsk_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"store unavailable", fmt.Errorf("sales: %w", storage.ErrStoreUnavailable), fiber.StatusServiceUnavailable},
		{"empty question", query.ErrEmptyQuestion, fiber.StatusBadRequest},
		{"timeout", context.DeadlineExceeded, fiber.StatusGatewayTimeout},
		{"other", errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := inquiryApp(&fakeAsker{err: tt.err}, &fakeHistory{})
			status, body := do(t, app, http.MethodPost, "/api/v1/inquiry/ask", `{"store_id":1,"question":"매출"}`, nil)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, query.UserMessage(tt.err), body["answer"])
			assert.NotEmpty(t, body["answer"])
		})
	}
}

func TestHistory(t *testing.T) {
	created := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	history := &fakeHistory{records: []models.Inquiry{
		{ID: 2, StoreID: 1, Category: "numeric_analytics", Question: "매출", Answer: "100원", CreatedAt: created},
		{ID: 3, StoreID: 2, Category: "numeric_analytics", Question: "매출", Answer: "200원", CreatedAt: created},
	}}
	app := inquiryApp(&fakeAsker{}, history)

	status, body := do(t, app, http.MethodGet, "/api/v1/inquiry/history/1", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, defaultHistoryLimit, history.limit)
	items := body["history"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "100원", items[0].(map[string]any)["answer"])
	assert.Equal(t, "2025-03-02T09:00:00Z", items[0].(map[string]any)["created_at"])

	_, _ = do(t, app, http.MethodGet, "/api/v1/inquiry/history/1?limit=1000", "", nil)
	assert.Equal(t, maxHistoryLimit, history.limit)

	status, _ = do(t, app, http.MethodGet, "/api/v1/inquiry/history/abc", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHistory_StoreUnavailable(t *testing.T) {
	app := inquiryApp(&fakeAsker{}, &fakeHistory{err: storage.ErrStoreUnavailable})
	status, _ := do(t, app, http.MethodGet, "/api/v1/inquiry/history/1", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}

func TestFeedback(t *testing.T) {
	history := &fakeHistory{known: map[int64]bool{5: true}}
	app := inquiryApp(&fakeAsker{}, history)

	status, body := do(t, app, http.MethodPost, "/api/v1/inquiry/5/feedback", `{"helpful":false,"comment":"표가 틀렸어요"}`, nil)
	require.Equal(t, fiber.StatusCreated, status)
	assert.EqualValues(t, 1, body["feedback_id"])
	require.Len(t, history.feedback, 1)
	assert.False(t, history.feedback[0].Helpful)
	assert.Equal(t, "표가 틀렸어요", history.feedback[0].Comment)

	status, _ = do(t, app, http.MethodPost, "/api/v1/inquiry/99/feedback", `{"helpful":true}`, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = do(t, app, http.MethodPost, "/api/v1/inquiry/5/feedback", `{"comment":"?"}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestUploadDocument(t *testing.T) {
	ingester := &fakeIngester{}
	app := fiber.New()
	app.Post("/api/v1/documents", NewDocumentHandler(ingester).UploadDocument)

	status, body := do(t, app, http.MethodPost, "/api/v1/documents",
		`{"corpus":"policies","category":"refund","title":"환불 규정","content":"<p>7일 이내</p>"}`, nil)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "doc-1", body["doc_id"])
	assert.EqualValues(t, "policies", ingester.got.Corpus)
	assert.Equal(t, "refund", ingester.got.Category)

	ingester.err = ingestion.ErrInvalidCorpus
	status, _ = do(t, app, http.MethodPost, "/api/v1/documents", `{"corpus":"faq","content":"x"}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	ingester.err = errors.New("milvus down")
	status, _ = do(t, app, http.MethodPost, "/api/v1/documents", `{"corpus":"manuals","content":"x"}`, nil)
	assert.Equal(t, fiber.StatusInternalServerError, status)
}

func TestThresholdSettings(t *testing.T) {
	gate, err := query.NewGate(0.65)
	require.NoError(t, err)
	h := NewSettingsHandler(gate, "secret")
	app := fiber.New()
	app.Get("/threshold", h.GetThreshold)
	app.Put("/threshold", h.UpdateThreshold)

	status, body := do(t, app, http.MethodGet, "/threshold", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.InDelta(t, 0.65, body["distance_threshold"], 1e-9)

	status, _ = do(t, app, http.MethodPut, "/threshold", `{"distance_threshold":0.9}`, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	auth := map[string]string{AdminTokenHeader: "secret"}
	status, _ = do(t, app, http.MethodPut, "/threshold", `{"distance_threshold":3}`, auth)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = do(t, app, http.MethodPut, "/threshold", `{"distance_threshold":0.9}`, auth)
	require.Equal(t, fiber.StatusOK, status)
	assert.InDelta(t, 0.65, body["previous"], 1e-9)
	assert.InDelta(t, 0.9, gate.Threshold(), 1e-9)
}

func TestThresholdSettings_NoAdminTokenConfigured(t *testing.T) {
	gate, err := query.NewGate(0.65)
	require.NoError(t, err)
	app := fiber.New()
	app.Put("/threshold", NewSettingsHandler(gate, "").UpdateThreshold)

	status, _ := do(t, app, http.MethodPut, "/threshold", `{"distance_threshold":0.9}`, map[string]string{AdminTokenHeader: ""})
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestReady(t *testing.T) {
	checks := map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"milvus":   func(context.Context) error { return errors.New("connection refused") },
	}
	app := fiber.New()
	h := NewHealthHandler(checks, time.Second, clockwork.NewFakeClock())
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)

	status, body := do(t, app, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "ok", body["checks"].(map[string]any)["postgres"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["milvus"])

	status, body = do(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

type countingLimiter struct {
	budget int
	keys   []string
}

func (l *countingLimiter) Allow(key string) bool {
	l.keys = append(l.keys, key)
	l.budget--
	return l.budget >= 0
}

func TestWebSocketAdmit(t *testing.T) {
	limiter := &countingLimiter{budget: 3}
	h := NewWebSocketHandler(&fakeAsker{}, WebSocketConfig{
		Limiter: limiter,
		Limits:  validation.Limits{MaxQuestionLength: 10, MaxWindowDays: 90},
	})

	msg, err := h.admit("10.0.0.1", chatMessage{Type: "query", Content: "  매출 얼마야? ", StoreID: 2, WindowDays: 30})
	require.NoError(t, err)
	assert.Equal(t, "매출 얼마야?", msg.Content)

	_, err = h.admit("10.0.0.1", chatMessage{Content: "<script>x", StoreID: 2})
	assert.ErrorIs(t, err, validation.ErrMarkup)

	_, err = h.admit("10.0.0.1", chatMessage{Content: "매출", StoreID: 2, WindowDays: 400})
	assert.ErrorIs(t, err, validation.ErrWindowRange)

	_, err = h.admit("10.0.0.1", chatMessage{Content: "매출", StoreID: 2})
	assert.ErrorIs(t, err, errRateLimited)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.1", "10.0.0.1", "10.0.0.1"}, limiter.keys)
}

func TestWebSocketAdmit_NoLimiter(t *testing.T) {
	h := NewWebSocketHandler(&fakeAsker{}, WebSocketConfig{})

	_, err := h.admit("", chatMessage{Content: strings.Repeat("가", 1001), StoreID: 1})
	assert.ErrorIs(t, err, validation.ErrQuestionTooLong)
}

func TestSplitIntoWords(t *testing.T) {
	words := splitIntoWords("총 매출\n| 날짜 | 매출 |")
	assert.Equal(t, []string{"총", "매출", "\n", "|", "날짜", "|", "매출", "|"}, words)
	assert.Empty(t, splitIntoWords(""))
}

func TestCompleteFrame(t *testing.T) {
	best := 0.8
	frame := completeFrame(&query.FinalAnswer{
		InquiryID:    4,
		Category:     query.CategoryPolicy,
		FallbackUsed: true,
		BestDistance: &best,
	})
	assert.Equal(t, "complete", frame["type"])
	assert.Equal(t, 0.8, frame["best_distance"])
	assert.NotContains(t, frame, "warning")
}
