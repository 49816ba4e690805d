package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/llm"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/pkg/logger"
	"github.com/store-agent/backend/pkg/utils"
)

const maxCandidateChars = 1500

// SynthesizerOptions leaves temperature to the completer's configured default.
type SynthesizerOptions struct {
	MaxTokens int
}

// Synthesizer writes the final answer from the gathered evidence.
type Synthesizer struct {
	llm       llm.Completer
	maxTokens int
}

func NewSynthesizer(completer llm.Completer, opts SynthesizerOptions) *Synthesizer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	return &Synthesizer{llm: completer, maxTokens: opts.MaxTokens}
}

type synthesisOutput struct {
	Answer      string      `json:"answer"`
	KeyMetrics  []KeyMetric `json:"key_metrics"`
	ActionItems []string    `json:"action_items"`
}

// Synthesize always returns a non-empty narrative. Scope and data misses are
// answered without calling the model.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, category Category, ev Evidence) FinalAnswer {
	answer := FinalAnswer{Category: category}

	if n := ev.Numeric; n != nil && n.Status != StatusOK {
		answer.Narrative = deterministicNarrative(n)
		return answer
	}

	payload := deterministicPayload(ev)

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: synthesizerSystemPrompt,
		UserPrompt:   fmt.Sprintf("[Question]\n%s\n\n[Evidence]\n%s", question, renderEvidence(ev)),
		MaxTokens:    s.maxTokens,
		JSON:         true,
	})
	if err != nil {
		logger.Error("Answer synthesis failed", zap.Error(err))
		answer.Narrative = apologyNarrative
		answer.Payload = payload
		return answer
	}
	recordUsage("synthesize", resp.Usage)

	var out synthesisOutput
	if err := llm.DecodeJSON(resp.Content, &out); err != nil {
		logger.Warn("Synthesis output was not the expected JSON, returning raw text", zap.Error(err))
		answer.Narrative = strings.TrimSpace(resp.Content)
		if answer.Narrative == "" {
			answer.Narrative = apologyNarrative
		}
		return answer
	}

	answer.Narrative = strings.TrimSpace(out.Answer)
	if answer.Narrative == "" {
		answer.Narrative = apologyNarrative
	}
	if len(out.KeyMetrics) > 0 {
		payload.KeyMetrics = out.KeyMetrics
	}
	payload.ActionItems = out.ActionItems
	answer.Payload = payload
	return answer
}

func deterministicNarrative(n *NumericEvidence) string {
	switch n.Status {
	case StatusScopeNotFound:
		return fmt.Sprintf("요청하신 지점(%s)을 확인하지 못했습니다. 지점명이나 지역명을 다시 확인해 주세요.",
			strings.Join(n.Scope.Unmatched, ", "))
	case StatusNoData:
		return fmt.Sprintf("%s의 최근 %d일 동안 조회된 매출 데이터가 없습니다.", n.Scope.Label(), n.Window.Days)
	default:
		return n.Summary + " 잠시 후 다시 시도해 주세요."
	}
}

// deterministicPayload builds the parts of the payload that come straight
// from the evidence: chart series, headline metrics and citations.
func deterministicPayload(ev Evidence) *Payload {
	p := &Payload{}
	if n := ev.Numeric; n != nil {
		for _, d := range n.Series {
			p.ChartSeries = append(p.ChartSeries, ChartPoint{
				Date:    d.Date.Format(dateLayout),
				Sales:   d.TotalSales,
				Orders:  d.TotalOrders,
				Weather: d.Weather,
			})
		}
		sales := KeyMetric{Label: "총 매출", Value: formatKRW(n.TotalSales)}
		if c := n.Comparison; c != nil && c.DeltaPct != nil {
			sales.Delta = formatPct(*c.DeltaPct)
		}
		p.KeyMetrics = []KeyMetric{
			sales,
			{Label: "총 주문", Value: fmt.Sprintf("%d건", n.TotalOrders)},
		}
	}
	if t := ev.Textual; t != nil {
		for _, c := range t.Candidates {
			if c.Title == webFailureTitle {
				continue
			}
			p.Citations = append(p.Citations, Citation{Title: c.Title, URL: c.URL, Source: c.Source})
		}
	}
	return p
}

func renderEvidence(ev Evidence) string {
	var b strings.Builder
	if n := ev.Numeric; n != nil {
		fmt.Fprintf(&b, "요약: %s\n", n.Summary)
		b.WriteString("\n일별 매출:\n| 날짜 | 매출 | 주문 | 날씨 |\n|---|---|---|---|\n")
		for _, d := range n.Series {
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", d.Date.Format(dateLayout), formatKRW(d.TotalSales), d.TotalOrders, d.Weather)
		}
		if len(n.StoreTotals) > 1 {
			b.WriteString("\n지점별 합계:\n")
			for _, st := range n.StoreTotals {
				fmt.Fprintf(&b, "- %s: %s (%d건)\n", st.StoreName, formatKRW(st.TotalSales), st.TotalOrders)
			}
		}
		if len(n.Categories) > 0 {
			b.WriteString("\n메뉴 카테고리별:\n")
			for _, c := range n.Categories {
				fmt.Fprintf(&b, "- %s: %d개, %s\n", c.Category, c.Quantity, formatKRW(c.Revenue))
			}
		}
		writeMenus(&b, "판매 상위 메뉴", n.TopMenus)
		writeMenus(&b, "판매 하위 메뉴", n.BottomMenus)
		if len(n.Reviews) > 0 {
			b.WriteString("\n최근 리뷰:\n")
			for _, r := range n.Reviews {
				fmt.Fprintf(&b, "- [%s] ⭐%d %s\n", r.MenuName, r.Rating, utils.Truncate(r.Text, 200))
			}
		}
	}
	if t := ev.Textual; t != nil {
		if len(t.Candidates) == 0 {
			b.WriteString("관련 문서를 찾지 못했습니다.\n")
		}
		for i, c := range t.Candidates {
			fmt.Fprintf(&b, "[%d] (%s) %s", i+1, c.Source, c.Title)
			if c.URL != "" {
				fmt.Fprintf(&b, " <%s>", c.URL)
			}
			fmt.Fprintf(&b, " distance=%.4f\n%s\n\n", c.Distance, utils.Truncate(c.Content, maxCandidateChars))
		}
	}
	return b.String()
}

func writeMenus(b *strings.Builder, heading string, menus []models.MenuSales) {
	if len(menus) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	for _, m := range menus {
		fmt.Fprintf(b, "- %s (%s): %d개, %s\n", m.MenuName, m.Category, m.Quantity, formatKRW(m.Revenue))
		for _, r := range m.Reviews {
			fmt.Fprintf(b, "  - ⭐%d %s\n", r.Rating, utils.Truncate(r.Text, 150))
		}
	}
}
