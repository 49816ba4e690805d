package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/store-agent/backend/internal/ingestion"
	"github.com/store-agent/backend/internal/vector"
)

var (
	ingestCorpus   string
	ingestCategory string
	ingestForce    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Add manuals or policies to the knowledge base",
	Long: `Reads text, Markdown or HTML files, splits them into chunks, embeds them and
inserts them into the selected corpus. The file name becomes the title.
Re-ingesting a title replaces its chunks; unchanged files are skipped unless
--force is set.

Examples:
  inquiryctl ingest --corpus policies refund.md franchise-fee.html
  inquiryctl ingest --corpus manuals --category espresso manuals/*.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := loadDocuments(args, vector.Corpus(ingestCorpus), ingestCategory)
		if err != nil {
			return err
		}
		for i := range docs {
			docs[i].Force = ingestForce
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		results, err := app.Processor.IngestBatch(ctx, docs)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		return printIngestResults(cmd.OutOrStdout(), results)
	},
}

func loadDocuments(paths []string, corpus vector.Corpus, category string) ([]ingestion.Document, error) {
	if !corpus.Valid() {
		return nil, fmt.Errorf("--corpus must be %q or %q", vector.CorpusManuals, vector.CorpusPolicies)
	}

	docs := make([]ingestion.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		base := filepath.Base(path)
		docs = append(docs, ingestion.Document{
			Corpus:   corpus,
			Category: category,
			Title:    strings.TrimSuffix(base, filepath.Ext(base)),
			Content:  string(data),
		})
	}
	return docs, nil
}

func printIngestResults(w io.Writer, results []ingestion.Result) error {
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			fmt.Fprintf(w, "FAIL  %s: %s\n", r.Title, r.Error)
			continue
		}
		if r.Unchanged {
			fmt.Fprintf(w, "SKIP  %s (unchanged, id %s)\n", r.Title, r.DocID)
			continue
		}
		fmt.Fprintf(w, "OK    %s (%d chunks, id %s)\n", r.Title, r.Chunks, r.DocID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCorpus, "corpus", "", "target corpus: manuals or policies (required)")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "category label stored with each chunk")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "re-embed files the registry already has unchanged")
	_ = ingestCmd.MarkFlagRequired("corpus")
	rootCmd.AddCommand(ingestCmd)
}
