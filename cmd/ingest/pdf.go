package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/ingest"
)

var (
	pdfPages     []int
	pdfChunkSize int
	pdfOverlap   int
	pdfWorkers   int
	pdfBatchSize int
)

var pdfCmd = &cobra.Command{
	Use:   "pdf <file>",
	Short: "Embed the text of a PDF into the vector store",
	Long: `Extract the text of a PDF, split it into overlapping chunks and store
their embeddings. Batches that the embedding endpoint rejects are skipped.

Examples:
  ingest pdf records.pdf
  ingest pdf records.pdf --pages 2,3 --collection demo001`,
	Args: cobra.ExactArgs(1),
	RunE: runPDF,
}

func init() {
	pdfCmd.Flags().IntSliceVarP(&pdfPages, "pages", "p", nil, "only these pages (1-based)")
	pdfCmd.Flags().IntVar(&pdfChunkSize, "chunk-size", ingest.DefaultChunkSize, "chunk size in characters")
	pdfCmd.Flags().IntVar(&pdfOverlap, "overlap", ingest.DefaultChunkOverlap, "overlap between chunks in characters")
	pdfCmd.Flags().IntVarP(&pdfWorkers, "workers", "w", 0, "concurrent embedding batches (default NumCPU/2)")
	pdfCmd.Flags().IntVar(&pdfBatchSize, "batch-size", ingest.DefaultBatchSize, "chunks per embedding request")
}

func runPDF(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, embedder, err := openStore()
	if err != nil {
		return err
	}

	pipeline, err := ingest.New(embedder, store, log, ingest.Options{
		ChunkSize:    pdfChunkSize,
		ChunkOverlap: pdfOverlap,
		BatchSize:    pdfBatchSize,
		Workers:      pdfWorkers,
	})
	if err != nil {
		return err
	}
	defer pipeline.Release()

	log.Info("ingesting pdf",
		zap.String("file", args[0]),
		zap.String("collection", collection),
		zap.String("embedding_model", embedder.Model()),
		zap.Ints("pages", pdfPages),
	)

	report, err := pipeline.IngestPDF(ctx, args[0], pdfPages)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", args[0], err)
	}

	fmt.Printf("Chunks:  %d\n", report.Chunks)
	fmt.Printf("Stored:  %d\n", report.Stored)
	fmt.Printf("Skipped: %d\n", report.Skipped)
	fmt.Printf("Collection %q now holds %d documents.\n", collection, store.Count())
	return nil
}
