package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/store-agent/backend/internal/evaluation"
)

var (
	evalOutput      string
	evalMinAccuracy float64
)

var evalCmd = &cobra.Command{
	Use:   "eval [dataset.yaml]",
	Short: "Measure routing accuracy and fallback rate on a labelled dataset",
	Long: `Runs every dataset question through the pipeline without recording it and
reports classification accuracy, web fallback rate and mean best distance.

Dataset format:
  name: routing-smoke
  items:
    - question: "지난주 매출 알려줘"
      store_id: 1
      expected_category: numeric_analytics
    - question: "환불 규정이 어떻게 돼?"
      store_id: 1
      expected_category: document_lookup_policy
      expect_fallback: false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := evaluation.LoadDataset(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := evaluation.NewEvaluator(app.Engine).Run(ctx, ds)
		if err != nil {
			return fmt.Errorf("eval: %w", err)
		}
		report.WriteSummary(cmd.OutOrStdout())

		if evalOutput != "" {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("eval: encode report: %w", err)
			}
			if err := os.WriteFile(evalOutput, data, 0o644); err != nil {
				return fmt.Errorf("eval: write report: %w", err)
			}
		}

		if report.Accuracy < evalMinAccuracy {
			return fmt.Errorf("routing accuracy %.3f is below %.3f", report.Accuracy, evalMinAccuracy)
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalOutput, "output", "", "write the full JSON report to this file")
	evalCmd.Flags().Float64Var(&evalMinAccuracy, "min-accuracy", 0, "exit non-zero when accuracy is below this value")
	rootCmd.AddCommand(evalCmd)
}
