package evaluation

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/store-agent/backend/internal/query"
	"github.com/store-agent/backend/pkg/logger"
)

// Asker is the part of the inquiry engine the evaluator drives.
type Asker interface {
	Ask(ctx context.Context, qc query.QueryContext, opts ...query.AskOption) (*query.FinalAnswer, error)
}

type Dataset struct {
	Name  string        `yaml:"name"`
	Items []DatasetItem `yaml:"items"`
}

type DatasetItem struct {
	Question         string `yaml:"question"`
	StoreID          int64  `yaml:"store_id"`
	ExpectedCategory string `yaml:"expected_category"`
	// ExpectFallback is checked only when set.
	ExpectFallback *bool `yaml:"expect_fallback,omitempty"`
}

type ItemResult struct {
	Question         string         `json:"question"`
	Expected         query.Category `json:"expected"`
	Got              query.Category `json:"got"`
	Correct          bool           `json:"correct"`
	FallbackUsed     bool           `json:"fallback_used"`
	FallbackExpected *bool          `json:"fallback_expected,omitempty"`
	BestDistance     *float64       `json:"best_distance,omitempty"`
	Error            string         `json:"error,omitempty"`
}

type Report struct {
	Dataset          string                             `json:"dataset"`
	TotalQueries     int                                `json:"total_queries"`
	Errors           int                                `json:"errors"`
	CorrectCount     int                                `json:"correct_count"`
	Accuracy         float64                            `json:"accuracy"`
	FallbackCount    int                                `json:"fallback_count"`
	FallbackRate     float64                            `json:"fallback_rate"`
	FallbackMismatch int                                `json:"fallback_mismatch"`
	MeanBestDistance float64                            `json:"mean_best_distance"`
	Confusion        map[query.Category]map[string]int `json:"confusion"`
	Items            []ItemResult                       `json:"items"`
}

func LoadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadDataset(f)
}

func ReadDataset(r io.Reader) (*Dataset, error) {
	var ds Dataset
	if err := yaml.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	for i, item := range ds.Items {
		if strings.TrimSpace(item.Question) == "" {
			return nil, fmt.Errorf("item %d: question is empty", i+1)
		}
		if _, ok := query.ParseCategory(item.ExpectedCategory); !ok {
			return nil, fmt.Errorf("item %d: unknown expected_category %q", i+1, item.ExpectedCategory)
		}
	}
	return &ds, nil
}

// Evaluator runs a labelled dataset through the pipeline without recording
// the answers and measures routing quality.
type Evaluator struct {
	asker Asker
}

func NewEvaluator(asker Asker) *Evaluator {
	return &Evaluator{asker: asker}
}

func (e *Evaluator) Run(ctx context.Context, ds *Dataset) (*Report, error) {
	logger.Info("Running dataset evaluation", zap.String("dataset", ds.Name), zap.Int("items", len(ds.Items)))

	report := &Report{
		Dataset:      ds.Name,
		TotalQueries: len(ds.Items),
		Confusion:    make(map[query.Category]map[string]int),
	}

	var distanceSum float64
	var distanceCount int

	for i, item := range ds.Items {
		expected, _ := query.ParseCategory(item.ExpectedCategory)
		res := ItemResult{Question: item.Question, Expected: expected, FallbackExpected: item.ExpectFallback}

		ans, err := e.asker.Ask(ctx, query.QueryContext{Question: item.Question, StoreID: item.StoreID}, query.WithoutPersistence())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Error("Evaluation item failed", zap.Int("index", i+1), zap.Error(err))
			res.Error = err.Error()
			report.Errors++
			report.Items = append(report.Items, res)
			continue
		}

		res.Got = ans.Category
		res.Correct = ans.Category == expected
		res.FallbackUsed = ans.FallbackUsed
		res.BestDistance = ans.BestDistance

		if res.Correct {
			report.CorrectCount++
		}
		if ans.FallbackUsed {
			report.FallbackCount++
		}
		if item.ExpectFallback != nil && *item.ExpectFallback != ans.FallbackUsed {
			report.FallbackMismatch++
		}
		if ans.BestDistance != nil {
			distanceSum += *ans.BestDistance
			distanceCount++
		}

		row := report.Confusion[expected]
		if row == nil {
			row = make(map[string]int)
			report.Confusion[expected] = row
		}
		row[string(ans.Category)]++

		report.Items = append(report.Items, res)
	}

	answered := report.TotalQueries - report.Errors
	if answered > 0 {
		report.Accuracy = float64(report.CorrectCount) / float64(answered)
		report.FallbackRate = float64(report.FallbackCount) / float64(answered)
	}
	if distanceCount > 0 {
		report.MeanBestDistance = distanceSum / float64(distanceCount)
	}

	logger.Info("Evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Float64("accuracy", report.Accuracy),
		zap.Float64("fallback_rate", report.FallbackRate),
		zap.Float64("mean_best_distance", report.MeanBestDistance),
	)

	return report, nil
}

// WriteSummary prints a human-readable report.
func (r *Report) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "Dataset:            %s\n", r.Dataset)
	fmt.Fprintf(w, "Queries:            %d (errors: %d)\n", r.TotalQueries, r.Errors)
	fmt.Fprintf(w, "Routing accuracy:   %.1f%% (%d correct)\n", r.Accuracy*100, r.CorrectCount)
	fmt.Fprintf(w, "Web fallback rate:  %.1f%% (%d)\n", r.FallbackRate*100, r.FallbackCount)
	fmt.Fprintf(w, "Fallback mismatch:  %d\n", r.FallbackMismatch)
	fmt.Fprintf(w, "Mean best distance: %.4f\n", r.MeanBestDistance)
	for _, item := range r.Items {
		if item.Error != "" {
			fmt.Fprintf(w, "  ERROR  %s: %s\n", item.Question, item.Error)
		} else if !item.Correct {
			fmt.Fprintf(w, "  MISS   %s: expected %s, got %s\n", item.Question, item.Expected, item.Got)
		}
	}
}
