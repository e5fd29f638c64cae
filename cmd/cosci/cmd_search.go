package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cosci/internal/embedding"
	"cosci/internal/search"
	"cosci/internal/store"
)

var (
	searchTopK      int
	searchThreshold float64
	searchMode      string
)

// searchCmd runs a one-off hybrid search from the terminal
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed papers",
	Long: `Runs a hybrid (vector + keyword) search over the indexed papers and
prints the ranked results. Use --mode to restrict to one leg.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "number of results (0 uses the configured default)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "minimum vector similarity (0 uses the configured default)")
	searchCmd.Flags().StringVar(&searchMode, "mode", "hybrid", "search mode: hybrid, vector, keyword")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	st, err := store.New(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var embedder embedding.Engine
	if searchMode != "keyword" {
		embedder, err = embedding.NewEngine(embedding.Config{
			Provider: cfg.Embedding.Provider,
			APIKey:   cfg.Embedding.APIKey,
			Endpoint: cfg.Embedding.Endpoint,
			Model:    cfg.Embedding.Model,
		})
		if err != nil {
			logger.Warn("embedding engine unavailable, falling back to keyword search", zap.Error(err))
			searchMode = "keyword"
		}
	}

	eng := search.New(st, embedder)

	opts := search.Options{
		TopK:          cfg.Search.TopK,
		Threshold:     cfg.Search.Threshold,
		VectorWeight:  cfg.Search.VectorWeight,
		KeywordWeight: cfg.Search.KeywordWeight,
	}
	if searchTopK > 0 {
		opts.TopK = searchTopK
	}
	if searchThreshold > 0 {
		opts.Threshold = searchThreshold
	}

	ctx, stop := ctxWithSignals(cmd.Context())
	defer stop()

	var results []search.Result
	switch searchMode {
	case "vector":
		results, err = eng.VectorOnly(ctx, query, opts)
	case "keyword":
		results, err = eng.KeywordOnly(ctx, query, opts)
	case "hybrid":
		results, err = eng.Search(ctx, query, opts)
	default:
		return fmt.Errorf("unknown search mode %q (use hybrid, vector, or keyword)", searchMode)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%s] %s (score %.3f, %s)\n",
			i+1, r.Paper.ID, r.Paper.Title, r.Score, r.MatchType)
		if len(r.Paper.Authors) > 0 {
			fmt.Printf("   %s\n", strings.Join(r.Paper.Authors, ", "))
		}
		if len(r.Snippets) > 0 {
			snippet := r.Snippets[0]
			if len([]rune(snippet)) > 160 {
				snippet = string([]rune(snippet)[:160]) + "..."
			}
			fmt.Printf("   %s\n", snippet)
		}
	}
	return nil
}
