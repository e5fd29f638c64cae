package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cosci/internal/embedding"
	"cosci/internal/store"
	"cosci/internal/types"
)

var indexBatchSize int

// indexCmd ingests papers with chunked content into the store
var indexCmd = &cobra.Command{
	Use:   "index [papers.json]",
	Short: "Index papers and their chunk embeddings into the store",
	Long: `Reads a JSON array of papers, upserts each into the store, embeds its
chunks, and stores the embeddings for semantic search.

Input format:
  [{"id": "...", "title": "...", "authors": [...], "abstract": "...",
    "tags": [...], "chunks": ["...", "..."]}]`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().IntVar(&indexBatchSize, "batch", 16, "embedding batch size")
}

type indexedPaper struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	Abstract string   `json:"abstract"`
	Tags     []string `json:"tags"`
	Chunks   []string `json:"chunks"`
}

func runIndex(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	var papers []indexedPaper
	if err := json.Unmarshal(data, &papers); err != nil {
		return fmt.Errorf("failed to parse input: %w", err)
	}
	if len(papers) == 0 {
		return fmt.Errorf("no papers in %s", args[0])
	}

	st, err := store.New(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider: cfg.Embedding.Provider,
		APIKey:   cfg.Embedding.APIKey,
		Endpoint: cfg.Embedding.Endpoint,
		Model:    cfg.Embedding.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding engine: %w", err)
	}

	ctx, stop := ctxWithSignals(cmd.Context())
	defer stop()

	for _, p := range papers {
		if p.ID == "" || p.Title == "" {
			logger.Warn("skipping paper without id or title", zap.String("title", p.Title))
			continue
		}

		err := st.UpsertPaper(ctx, types.Paper{
			ID:       p.ID,
			Title:    p.Title,
			Authors:  p.Authors,
			Abstract: p.Abstract,
			Tags:     p.Tags,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", p.ID, err)
		}

		if len(p.Chunks) == 0 {
			logger.Info("indexed paper without chunks", zap.String("id", p.ID))
			continue
		}

		embeddings, err := embedder.EmbedBatch(ctx, p.Chunks)
		if err != nil {
			return fmt.Errorf("failed to embed chunks of %s: %w", p.ID, err)
		}
		chunks := make([]store.Chunk, 0, len(p.Chunks))
		for i, content := range p.Chunks {
			var emb []float32
			if i < len(embeddings) {
				emb = embeddings[i]
			}
			chunks = append(chunks, store.Chunk{
				ChunkIndex: i,
				Content:    content,
				Embedding:  emb,
			})
		}
		if err := st.ReplaceChunks(ctx, p.ID, chunks); err != nil {
			return fmt.Errorf("failed to store chunks of %s: %w", p.ID, err)
		}
		logger.Info("indexed paper",
			zap.String("id", p.ID),
			zap.Int("chunks", len(chunks)))
	}

	fmt.Printf("Indexed %d papers into %s\n", len(papers), cfg.Store.DatabasePath)
	return nil
}
