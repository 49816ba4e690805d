package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/llm"
	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/pkg/logger"
)

// SalesStore is the read side of the relational store used for analytics.
type SalesStore interface {
	StoreLister
	LatestSaleDate(ctx context.Context, storeIDs []int64) (time.Time, bool, error)
	DailySales(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.DailySales, error)
	PeriodTotal(ctx context.Context, storeIDs []int64, from, to time.Time) (float64, error)
	StoreTotals(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.StoreTotal, error)
	CategoryBreakdown(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.CategorySales, error)
	MenuRanking(ctx context.Context, storeIDs []int64, from, to time.Time, limit int, ascending bool) ([]models.MenuSales, error)
	Reviews(ctx context.Context, storeIDs []int64, from, to time.Time, limit int) ([]models.Review, error)
	MenuReviews(ctx context.Context, storeIDs, menuIDs []int64, from, to time.Time, perMenu int) (map[int64][]models.Review, error)
}

type AnalyzerOptions struct {
	DefaultWindowDays int
	WindowEscalation  []int
	RankingSize       int
	ReviewLimit       int
	ReviewsPerMenu    int
	Clock             clockwork.Clock
}

// Analyzer answers numeric questions from the sales tables.
type Analyzer struct {
	llm        llm.Completer
	store      SalesStore
	directory  *StoreDirectory
	defaultWin int
	escalation []int
	ranking    int
	reviews    int
	perMenu    int
	clock      clockwork.Clock
}

func NewAnalyzer(completer llm.Completer, store SalesStore, directory *StoreDirectory, opts AnalyzerOptions) *Analyzer {
	if opts.DefaultWindowDays <= 0 {
		opts.DefaultWindowDays = DefaultWindowDays
	}
	if len(opts.WindowEscalation) == 0 {
		opts.WindowEscalation = DefaultWindowEscalation
	}
	if opts.RankingSize <= 0 {
		opts.RankingSize = 5
	}
	if opts.ReviewLimit <= 0 {
		opts.ReviewLimit = 20
	}
	if opts.ReviewsPerMenu <= 0 {
		opts.ReviewsPerMenu = 10
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Analyzer{
		llm:        completer,
		store:      store,
		directory:  directory,
		defaultWin: opts.DefaultWindowDays,
		escalation: opts.WindowEscalation,
		ranking:    opts.RankingSize,
		reviews:    opts.ReviewLimit,
		perMenu:    opts.ReviewsPerMenu,
		clock:      opts.Clock,
	}
}

type analysisParams struct {
	Locations   []string `json:"locations"`
	Days        int      `json:"days"`
	NeedReviews bool     `json:"need_reviews"`
}

var causalKeywords = []string{"왜", "이유", "원인", "why", "reason"}

func (a *Analyzer) Retrieve(ctx context.Context, qc QueryContext) (Evidence, error) {
	ev, err := a.analyze(ctx, qc)
	return Evidence{Numeric: ev}, err
}

func (a *Analyzer) analyze(ctx context.Context, qc QueryContext) (*NumericEvidence, error) {
	params := a.extractParams(ctx, qc.Question)
	if qc.RequestedWindow > 0 {
		params.Days = qc.RequestedWindow
	}
	if params.Days <= 0 {
		params.Days = a.defaultWin
	}

	scope, err := a.directory.Resolve(ctx, params.Locations)
	if err != nil {
		return a.failed(ctx, &NumericEvidence{}, "store lookup", err)
	}
	ev := &NumericEvidence{Scope: scope}
	if scope.Empty() {
		ev.Status = StatusScopeNotFound
		ev.Summary = fmt.Sprintf("지점을 식별하지 못했습니다: %s", strings.Join(scope.Unmatched, ", "))
		return ev, nil
	}

	anchor, ok, err := a.store.LatestSaleDate(ctx, scope.StoreIDs)
	if err != nil {
		return a.failed(ctx, ev, "latest sale date", err)
	}
	if !ok {
		anchor = a.clock.Now()
	}

	for i, days := range windowSequence(params.Days, a.escalation) {
		if i > 0 {
			metrics.WindowEscalations.Inc()
			logger.Info("Widening analytics window",
				zap.Int("from_days", ev.Window.Days),
				zap.Int("to_days", days),
			)
		}
		ev.Window = windowEndingAt(anchor, days)
		series, err := a.store.DailySales(ctx, scope.StoreIDs, ev.Window.From, ev.Window.To)
		if err != nil {
			return a.failed(ctx, ev, "daily sales", err)
		}
		if len(series) > 0 {
			ev.Series = series
			break
		}
	}
	if len(ev.Series) == 0 {
		ev.Status = StatusNoData
		ev.Summary = fmt.Sprintf("%s의 최근 %d일 매출 데이터가 없습니다.", scope.Label(), ev.Window.Days)
		return ev, nil
	}

	for _, d := range ev.Series {
		ev.TotalSales += d.TotalSales
		ev.TotalOrders += d.TotalOrders
	}

	if err := a.aggregate(ctx, ev); err != nil {
		return a.failed(ctx, ev, "aggregates", err)
	}

	prev := ev.Window.Previous()
	prevTotal, err := a.store.PeriodTotal(ctx, scope.StoreIDs, prev.From, prev.To)
	if err != nil {
		return a.failed(ctx, ev, "previous period total", err)
	}
	ev.Comparison = &Comparison{CurrentTotal: ev.TotalSales, PreviousTotal: prevTotal}
	if prevTotal > 0 {
		delta := (ev.TotalSales - prevTotal) / prevTotal * 100
		ev.Comparison.DeltaPct = &delta
	}

	declined := prevTotal > 0 && ev.TotalSales < prevTotal
	if params.NeedReviews || declined || isCausal(qc.Question) {
		if err := a.attachReviews(ctx, ev); err != nil {
			return a.failed(ctx, ev, "reviews", err)
		}
	}

	ev.Status = StatusOK
	ev.Summary = summarize(ev)
	return ev, nil
}

func (a *Analyzer) aggregate(ctx context.Context, ev *NumericEvidence) error {
	ids, from, to := ev.Scope.StoreIDs, ev.Window.From, ev.Window.To

	var err error
	if ev.StoreTotals, err = a.store.StoreTotals(ctx, ids, from, to); err != nil {
		return err
	}
	if ev.Categories, err = a.store.CategoryBreakdown(ctx, ids, from, to); err != nil {
		return err
	}
	if ev.TopMenus, err = a.store.MenuRanking(ctx, ids, from, to, a.ranking, false); err != nil {
		return err
	}
	if ev.BottomMenus, err = a.store.MenuRanking(ctx, ids, from, to, a.ranking, true); err != nil {
		return err
	}
	return nil
}

// attachReviews loads window reviews and binds menu reviews to the ranked menus.
func (a *Analyzer) attachReviews(ctx context.Context, ev *NumericEvidence) error {
	ids, from, to := ev.Scope.StoreIDs, ev.Window.From, ev.Window.To

	reviews, err := a.store.Reviews(ctx, ids, from, to, a.reviews)
	if err != nil {
		return err
	}
	ev.Reviews = reviews

	menuIDs := make([]int64, 0, len(ev.TopMenus)+len(ev.BottomMenus))
	seen := make(map[int64]bool)
	for _, m := range append(append([]models.MenuSales{}, ev.TopMenus...), ev.BottomMenus...) {
		if !seen[m.MenuID] {
			seen[m.MenuID] = true
			menuIDs = append(menuIDs, m.MenuID)
		}
	}
	if len(menuIDs) == 0 {
		return nil
	}

	byMenu, err := a.store.MenuReviews(ctx, ids, menuIDs, from, to, a.perMenu)
	if err != nil {
		return err
	}
	for i := range ev.TopMenus {
		ev.TopMenus[i].Reviews = byMenu[ev.TopMenus[i].MenuID]
	}
	for i := range ev.BottomMenus {
		ev.BottomMenus[i].Reviews = byMenu[ev.BottomMenus[i].MenuID]
	}
	return nil
}

// failed turns a query error into an error bundle. Connection loss and
// caller cancellation are returned as errors as well.
func (a *Analyzer) failed(ctx context.Context, ev *NumericEvidence, step string, err error) (*NumericEvidence, error) {
	ev.Status = StatusError
	ev.Summary = fmt.Sprintf("매출 데이터 조회 중 오류가 발생했습니다 (%s).", step)
	ev.Series = nil

	logger.Error("Sales analysis failed", zap.String("step", step), zap.Error(err))

	if errors.Is(err, storage.ErrStoreUnavailable) {
		return ev, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ev, ctxErr
	}
	return ev, nil
}

func (a *Analyzer) extractParams(ctx context.Context, question string) analysisParams {
	defaults := analysisParams{Days: a.defaultWin}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: paramsSystemPrompt,
		UserPrompt:   question,
		Temperature:  llm.Temperature(0),
		MaxTokens:    200,
		JSON:         true,
	})
	if err != nil {
		logger.Warn("Parameter extraction failed, using defaults", zap.Error(err))
		return defaults
	}
	recordUsage("params", resp.Usage)

	var params analysisParams
	if err := llm.DecodeJSON(resp.Content, &params); err != nil {
		logger.Warn("Parameter extraction returned malformed JSON, using defaults", zap.Error(err))
		return defaults
	}
	return params
}

func isCausal(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range causalKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func summarize(ev *NumericEvidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %s ~ %s (%d일): 총 매출 %s, 총 주문 %d건",
		ev.Scope.Label(),
		ev.Window.From.Format(dateLayout),
		ev.Window.To.Format(dateLayout),
		ev.Window.Days,
		formatKRW(ev.TotalSales),
		ev.TotalOrders,
	)
	if c := ev.Comparison; c != nil && c.DeltaPct != nil {
		fmt.Fprintf(&b, ", 직전 동기간 %s 대비 %s", formatKRW(c.PreviousTotal), formatPct(*c.DeltaPct))
	}
	if len(ev.TopMenus) > 0 {
		fmt.Fprintf(&b, ", 최다 판매 메뉴 %s(%d개)", ev.TopMenus[0].MenuName, ev.TopMenus[0].Quantity)
	}
	b.WriteString(".")
	return b.String()
}
