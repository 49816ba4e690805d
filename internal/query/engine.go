package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/pkg/logger"
)

type Engine struct {
	classifier  *Classifier
	retrievers  map[Category]Retriever
	gate        *Gate
	fallback    *ExternalSearch
	synthesizer *Synthesizer
	sink        Sink
	clock       clockwork.Clock
}

type EngineDeps struct {
	Classifier  *Classifier
	Analyzer    Retriever
	Semantic    *SemanticRetriever
	Gate        *Gate
	Fallback    *ExternalSearch
	Synthesizer *Synthesizer
	// Sink is optional; without it answers are not recorded.
	Sink  Sink
	Clock clockwork.Clock
}

func NewEngine(deps EngineDeps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		classifier: deps.Classifier,
		retrievers: map[Category]Retriever{
			CategoryNumeric:     deps.Analyzer,
			CategoryOperational: deps.Semantic.ForCorpus(CategoryOperational.Corpus()),
			CategoryPolicy:      deps.Semantic.ForCorpus(CategoryPolicy.Corpus()),
		},
		gate:        deps.Gate,
		fallback:    deps.Fallback,
		synthesizer: deps.Synthesizer,
		sink:        deps.Sink,
		clock:       clock,
	}
}

func (e *Engine) Gate() *Gate {
	return e.gate
}

// Stage names reported to progress hooks.
const (
	StageClassify   = "classify"
	StageRetrieve   = "retrieve"
	StageFallback   = "web_fallback"
	StageSynthesize = "synthesize"
	StagePersist    = "persist"
)

type askOptions struct {
	persist bool
	onStage func(stage string)
}

type AskOption func(*askOptions)

// WithoutPersistence skips the history sink.
func WithoutPersistence() AskOption {
	return func(o *askOptions) { o.persist = false }
}

// WithStageHook is called as each pipeline stage starts.
func WithStageHook(fn func(stage string)) AskOption {
	return func(o *askOptions) { o.onStage = fn }
}

// Ask runs one question through the pipeline. It returns an error only when
// the relational store is unreachable or ctx is done.
func (e *Engine) Ask(ctx context.Context, qc QueryContext, opts ...AskOption) (*FinalAnswer, error) {
	o := askOptions{persist: true, onStage: func(string) {}}
	for _, opt := range opts {
		opt(&o)
	}

	qc.Question = strings.TrimSpace(qc.Question)
	if qc.Question == "" {
		return nil, ErrEmptyQuestion
	}

	start := e.clock.Now()
	requestID := uuid.NewString()
	log := logger.GetLogger().With(zap.String("request_id", requestID), zap.Int64("store_id", qc.StoreID))
	log.Info("Processing inquiry", zap.String("question", qc.Question))

	o.onStage(StageClassify)
	stageStart := e.clock.Now()
	category := e.classifier.Classify(ctx, qc.Question)
	e.observeStage(StageClassify, stageStart)
	if err := ctx.Err(); err != nil {
		return nil, e.abort(category, err)
	}
	log.Info("Inquiry classified", zap.String("category", string(category)))

	retriever, ok := e.retrievers[category]
	if !ok || retriever == nil {
		return nil, fmt.Errorf("no retriever for category %q", category)
	}

	o.onStage(StageRetrieve)
	stageStart = e.clock.Now()
	evidence, err := retriever.Retrieve(ctx, qc)
	e.observeStage(StageRetrieve, stageStart)
	if err != nil {
		return nil, e.abort(category, err)
	}

	verdict := e.gate.Evaluate(evidence)
	answerFallback := false
	if !verdict.Accepted {
		log.Info("Internal evidence rejected, falling back to web search",
			zap.Float64("best_distance", verdict.BestScore),
			zap.Float64("threshold", e.gate.Threshold()),
		)
		o.onStage(StageFallback)
		stageStart = e.clock.Now()
		evidence = Evidence{Textual: e.fallback.Search(ctx, qc.Question)}
		e.observeStage(StageFallback, stageStart)
		answerFallback = true
	}
	if err := ctx.Err(); err != nil {
		return nil, e.abort(category, err)
	}

	o.onStage(StageSynthesize)
	stageStart = e.clock.Now()
	answer := e.synthesizer.Synthesize(ctx, qc.Question, category, evidence)
	e.observeStage(StageSynthesize, stageStart)

	answer.FallbackUsed = answerFallback
	if !evidence.IsNumeric() || answerFallback {
		best := verdict.BestScore
		answer.BestDistance = &best
	}

	if o.persist && e.sink != nil {
		o.onStage(StagePersist)
		e.persist(ctx, log, qc, &answer)
	}

	elapsed := e.clock.Since(start)
	answer.LatencyMS = elapsed.Milliseconds()
	metrics.InquiryDuration.WithLabelValues(string(category)).Observe(elapsed.Seconds())
	metrics.InquiryTotal.WithLabelValues(string(category), outcome(evidence, answerFallback)).Inc()

	log.Info("Inquiry answered",
		zap.String("category", string(category)),
		zap.Bool("fallback", answerFallback),
		zap.Int64("inquiry_id", answer.InquiryID),
		zap.Int64("latency_ms", answer.LatencyMS),
	)
	return &answer, nil
}

// persist records the answer. Failure leaves a warning on the answer.
func (e *Engine) persist(ctx context.Context, log *zap.Logger, qc QueryContext, answer *FinalAnswer) {
	stageStart := e.clock.Now()
	defer e.observeStage(StagePersist, stageStart)

	id, err := e.sink.SaveInquiry(ctx, models.Inquiry{
		StoreID:   qc.StoreID,
		Category:  string(answer.Category),
		Question:  qc.Question,
		Answer:    answer.Narrative,
		CreatedAt: e.clock.Now(),
	})
	if err != nil {
		metrics.PersistenceFailures.Inc()
		log.Error("Failed to record inquiry", zap.Error(err))
		answer.Warning = "답변 기록을 저장하지 못했습니다."
		return
	}
	answer.InquiryID = id
}

func (e *Engine) abort(category Category, err error) error {
	metrics.InquiryTotal.WithLabelValues(string(category), "aborted").Inc()
	if errors.Is(err, storage.ErrStoreUnavailable) {
		logger.Error("Inquiry aborted, relational store unavailable", zap.Error(err))
	}
	return err
}

func (e *Engine) observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(e.clock.Since(start).Seconds())
}

func outcome(ev Evidence, fallback bool) string {
	switch {
	case fallback:
		return "web_fallback"
	case ev.Numeric != nil:
		return string(ev.Numeric.Status)
	default:
		return "internal"
	}
}

// UserMessage is the narrative shown when Ask fails.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, storage.ErrStoreUnavailable):
		return storeUnavailableReply
	case errors.Is(err, ErrEmptyQuestion):
		return "질문을 입력해 주세요."
	case errors.Is(err, context.DeadlineExceeded):
		return "응답 시간이 초과되었습니다. 잠시 후 다시 시도해 주세요."
	default:
		return apologyNarrative
	}
}
