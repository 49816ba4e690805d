package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/store-agent/backend/internal/query"
)

var (
	askStoreID    int64
	askWindowDays int
	askJSON       bool
	askNoRecord   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question through the inquiry pipeline",
	Long: `Classifies the question, gathers evidence and prints the answer.

Examples:
  inquiryctl ask --store 1 "지난주 매출 알려줘"
  inquiryctl ask --store 1 --window 30 --json "인기 메뉴 순위"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		var opts []query.AskOption
		if askNoRecord {
			opts = append(opts, query.WithoutPersistence())
		}

		answer, err := app.Engine.Ask(ctx, query.QueryContext{
			Question:        strings.Join(args, " "),
			StoreID:         askStoreID,
			RequestedWindow: askWindowDays,
		}, opts...)
		if err != nil {
			fmt.Fprintln(os.Stderr, query.UserMessage(err))
			return err
		}

		return printAnswer(cmd.OutOrStdout(), answer, askJSON)
	},
}

func printAnswer(w io.Writer, answer *query.FinalAnswer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Fprintln(w, answer.Narrative)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "category: %s  fallback: %t  latency: %dms\n", answer.Category, answer.FallbackUsed, answer.LatencyMS)
	if answer.BestDistance != nil {
		fmt.Fprintf(w, "best distance: %.4f\n", *answer.BestDistance)
	}
	if answer.Payload != nil {
		for _, c := range answer.Payload.Citations {
			if c.URL != "" {
				fmt.Fprintf(w, "  - %s (%s)\n", c.Title, c.URL)
			} else {
				fmt.Fprintf(w, "  - %s\n", c.Title)
			}
		}
	}
	if answer.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", answer.Warning)
	}
	return nil
}

func init() {
	askCmd.Flags().Int64Var(&askStoreID, "store", 0, "store id asking the question (required)")
	askCmd.Flags().IntVar(&askWindowDays, "window", 0, "analysis window in days (0 = default)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full answer as JSON")
	askCmd.Flags().BoolVar(&askNoRecord, "no-record", false, "do not record the inquiry in history")
	_ = askCmd.MarkFlagRequired("store")
	rootCmd.AddCommand(askCmd)
}
