package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the chunks retrieved for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "max results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	hits, err := store.Search(context.Background(), strings.Join(args, " "), searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	for i, h := range hits {
		fmt.Printf("%d. [%.3f] %s p.%s\n", i+1, h.Score, h.Metadata["source"], h.Metadata["page"])
		content := []rune(h.Content)
		if len(content) > 120 && !verbose {
			content = append(content[:120], []rune("...")...)
		}
		fmt.Printf("   %s\n", string(content))
	}
	return nil
}
