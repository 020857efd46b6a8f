// Command ingest loads documents into the vector store used by the
// completion server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/internal/config"
	"github.com/XiaoXiong127/L1-Project-2/internal/rag"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
)

var (
	verbose    bool
	collection string
	vectorDir  string

	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Manage the retrieval vector store",
	Long: `Ingest splits documents into chunks, embeds them with the configured
provider (LLM_TYPE) and stores them in the local vector store read by
ragserver.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		var err error
		log, err = logger.NewDevelopment(level)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger.SetGlobal(log)

		if cfg.Provider.Fallback {
			log.Warn("unknown LLM_TYPE, using default provider", zap.String("provider", string(cfg.Provider.Kind)))
		}
		if collection == "" {
			collection = cfg.VectorCollection
		}
		if vectorDir == "" {
			vectorDir = cfg.VectorDir
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&collection, "collection", "c", "", "vector collection (default VECTOR_COLLECTION)")
	rootCmd.PersistentFlags().StringVar(&vectorDir, "dir", "", "vector store directory (default VECTOR_DIR)")

	rootCmd.AddCommand(pdfCmd, searchCmd)
}

// openStore opens the configured collection with the provider's embedder.
func openStore() (*rag.Store, *rag.Embedder, error) {
	embedder, err := rag.NewEmbedder(cfg.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("init embedder: %w", err)
	}
	store, err := rag.Open(vectorDir, collection, embedder.Func())
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}
	return store, embedder, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
