package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/pkg/utils"
)

var (
	historyStoreID int64
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List a store's recent inquiries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		records, err := app.History.InquiryHistory(ctx, historyStoreID, historyLimit)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		printHistory(cmd.OutOrStdout(), records)
		return nil
	},
}

func printHistory(w io.Writer, records []models.Inquiry) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no inquiries recorded")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "#%d  %s  [%s]\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Category)
		fmt.Fprintf(w, "  Q: %s\n", r.Question)
		fmt.Fprintf(w, "  A: %s\n", utils.Truncate(r.Answer, 120))
	}
}

func init() {
	historyCmd.Flags().Int64Var(&historyStoreID, "store", 0, "store id (required)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of inquiries to show")
	_ = historyCmd.MarkFlagRequired("store")
	rootCmd.AddCommand(historyCmd)
}
