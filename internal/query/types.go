package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/internal/vector"
)

var ErrEmptyQuestion = errors.New("question is empty")

type Category string

const (
	CategoryNumeric     Category = "numeric_analytics"
	CategoryOperational Category = "document_lookup_operational"
	CategoryPolicy      Category = "document_lookup_policy"
)

// DefaultFallbackCategory is used whenever classification cannot decide.
const DefaultFallbackCategory = CategoryPolicy

var categoryAliases = map[string]Category{
	"numeric_analytics":           CategoryNumeric,
	"document_lookup_operational": CategoryOperational,
	"document_lookup_policy":      CategoryPolicy,
	"sales":                       CategoryNumeric,
	"manual":                      CategoryOperational,
	"policy":                      CategoryPolicy,
}

// ParseCategory accepts canonical names and the legacy sales/manual/policy labels.
func ParseCategory(s string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

func (c Category) Valid() bool {
	switch c {
	case CategoryNumeric, CategoryOperational, CategoryPolicy:
		return true
	}
	return false
}

// Corpus is the knowledge-base partition searched for a document category.
func (c Category) Corpus() vector.Corpus {
	if c == CategoryOperational {
		return vector.CorpusManuals
	}
	return vector.CorpusPolicies
}

// QueryContext is one incoming question. It is not modified after creation.
type QueryContext struct {
	Question string
	StoreID  int64
	// RequestedWindow overrides the window length extracted from the question when > 0.
	RequestedWindow int
}

type EvidenceStatus string

const (
	StatusOK            EvidenceStatus = "ok"
	StatusScopeNotFound EvidenceStatus = "scope_not_found"
	StatusNoData        EvidenceStatus = "no_data"
	StatusError         EvidenceStatus = "error"
)

type SourceTag string

const (
	SourceInternal SourceTag = "internal"
	SourceWeb      SourceTag = "web"
)

// Evidence is either numeric or textual; exactly one field is set.
type Evidence struct {
	Numeric *NumericEvidence
	Textual *TextualEvidence
}

func (e Evidence) IsNumeric() bool {
	return e.Numeric != nil
}

type ScopeResolution struct {
	StoreIDs   []int64
	StoreNames []string
	AllStores  bool
	Unmatched  []string
}

func (s ScopeResolution) Empty() bool {
	return len(s.StoreIDs) == 0
}

func (s ScopeResolution) Label() string {
	if s.AllStores {
		return "전체 지점"
	}
	return strings.Join(s.StoreNames, ", ")
}

type Window struct {
	From time.Time
	To   time.Time
	Days int
}

type Comparison struct {
	CurrentTotal  float64
	PreviousTotal float64
	// DeltaPct is nil when the prior window has no sales.
	DeltaPct *float64
}

type NumericEvidence struct {
	Status      EvidenceStatus
	Scope       ScopeResolution
	Window      Window
	Series      []models.DailySales
	TotalSales  float64
	TotalOrders int64
	StoreTotals []models.StoreTotal
	Categories  []models.CategorySales
	TopMenus    []models.MenuSales
	BottomMenus []models.MenuSales
	Reviews     []models.Review
	Comparison  *Comparison
	Summary     string
}

type Candidate struct {
	Title    string
	URL      string
	Content  string
	Distance float64
	Source   SourceTag
}

type TextualEvidence struct {
	Corpus       vector.Corpus
	Candidates   []Candidate
	BestDistance float64
}

// Verdict is the quality gate decision for one evidence bundle.
type Verdict struct {
	Accepted  bool
	BestScore float64
}

type ChartPoint struct {
	Date    string  `json:"date"`
	Sales   float64 `json:"sales"`
	Orders  int64   `json:"orders"`
	Weather string  `json:"weather,omitempty"`
}

type KeyMetric struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Delta string `json:"delta,omitempty"`
}

type Citation struct {
	Title  string    `json:"title"`
	URL    string    `json:"url,omitempty"`
	Source SourceTag `json:"source"`
}

type Payload struct {
	ChartSeries []ChartPoint `json:"chart_series,omitempty"`
	KeyMetrics  []KeyMetric  `json:"key_metrics,omitempty"`
	ActionItems []string     `json:"action_items,omitempty"`
	Citations   []Citation   `json:"citations,omitempty"`
}

type FinalAnswer struct {
	InquiryID    int64    `json:"inquiry_id,omitempty"`
	Narrative    string   `json:"answer"`
	Category     Category `json:"category"`
	Payload      *Payload `json:"payload"`
	FallbackUsed bool     `json:"fallback_used"`
	BestDistance *float64 `json:"best_distance,omitempty"`
	Warning      string   `json:"warning,omitempty"`
	LatencyMS    int64    `json:"latency_ms"`
}

// Retriever gathers evidence for one category. It returns an error only for
// caller cancellation or loss of the relational store; everything else is
// reported inside the evidence.
type Retriever interface {
	Retrieve(ctx context.Context, qc QueryContext) (Evidence, error)
}

// Sink records answered inquiries.
type Sink interface {
	SaveInquiry(ctx context.Context, inq models.Inquiry) (int64, error)
}
