package query

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/search/web"
	"github.com/store-agent/backend/internal/vector"
	"github.com/store-agent/backend/pkg/logger"
)

type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]web.SearchResult, error)
}

type ExternalSearchOptions struct {
	DomainPrefix string
	MaxResults   int
	Timeout      time.Duration
}

// ExternalSearch replaces rejected internal evidence with web results.
type ExternalSearch struct {
	web        WebSearcher
	prefix     string
	maxResults int
	timeout    time.Duration
}

// NewExternalSearch accepts a nil searcher; every search then reports that
// web search is not configured.
func NewExternalSearch(searcher WebSearcher, opts ExternalSearchOptions) *ExternalSearch {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &ExternalSearch{
		web:        searcher,
		prefix:     strings.TrimSpace(opts.DomainPrefix),
		maxResults: opts.MaxResults,
		timeout:    opts.Timeout,
	}
}

// Search queries "<prefix> <question>" and, when that finds nothing, retries
// once with the bare question. It never fails: a transport error becomes a
// single candidate describing it.
func (s *ExternalSearch) Search(ctx context.Context, question string) *TextualEvidence {
	if s.web == nil {
		metrics.WebFallbackTriggered.WithLabelValues("disabled").Inc()
		return failureEvidence(errors.New(webNotConfiguredDetail))
	}

	qualified := question
	if s.prefix != "" {
		qualified = s.prefix + " " + question
	}

	results, err := s.search(ctx, qualified)
	if err == nil && len(results) == 0 && qualified != question {
		logger.Info("Qualified web search found nothing, retrying with bare question",
			zap.String("query", qualified),
		)
		results, err = s.search(ctx, question)
	}
	if err != nil {
		metrics.WebFallbackTriggered.WithLabelValues("error").Inc()
		logger.Warn("Web search failed", zap.Error(err))
		return failureEvidence(err)
	}

	if len(results) == 0 {
		metrics.WebFallbackTriggered.WithLabelValues("empty").Inc()
	} else {
		metrics.WebFallbackTriggered.WithLabelValues("results").Inc()
	}
	return webEvidence(results)
}

func (s *ExternalSearch) search(ctx context.Context, query string) ([]web.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.web.Search(ctx, query, s.maxResults)
}

// webEvidence converts results to candidates. Providers that report a
// relevance score get distance 1-score; unscored results get distance 0.
func webEvidence(results []web.SearchResult) *TextualEvidence {
	ev := &TextualEvidence{BestDistance: vector.MaxCosineDistance}
	for _, r := range results {
		content := r.Snippet
		if r.Content != "" {
			content = r.Content
		}
		distance := 0.0
		if r.HasScore {
			distance = min(max(1-r.Score, 0), vector.MaxCosineDistance)
		}
		ev.Candidates = append(ev.Candidates, Candidate{
			Title:    r.Title,
			URL:      r.URL,
			Content:  content,
			Distance: distance,
			Source:   SourceWeb,
		})
	}
	sortCandidates(ev.Candidates)
	if len(ev.Candidates) > 0 {
		ev.BestDistance = ev.Candidates[0].Distance
	}
	return ev
}

func failureEvidence(err error) *TextualEvidence {
	return &TextualEvidence{
		BestDistance: vector.MaxCosineDistance,
		Candidates: []Candidate{{
			Title:    webFailureTitle,
			Content:  "외부 웹 검색을 수행하지 못했습니다: " + err.Error(),
			Distance: vector.MaxCosineDistance,
			Source:   SourceWeb,
		}},
	}
}

func sortCandidates(cs []Candidate) {
	slices.SortStableFunc(cs, func(a, b Candidate) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
}
