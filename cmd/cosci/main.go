package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cosci/internal/composer"
	"cosci/internal/config"
	"cosci/internal/embedding"
	"cosci/internal/executor"
	"cosci/internal/llm"
	"cosci/internal/logging"
	"cosci/internal/orchestrator"
	"cosci/internal/recommend"
	"cosci/internal/search"
	"cosci/internal/server"
	"cosci/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	skillsPath string

	// Loaded configuration
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cosci",
	Short: "cosci - research paper reading companion core",
	Long: `cosci is the orchestration core of a research paper reading platform.

It routes user turns to skills, composes token-budgeted context packs,
executes skills against an LLM, and chains follow-up skills based on the
signals each execution emits. Papers live in SQLite with hybrid
vector+keyword search over their chunks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		home, _ := os.UserHomeDir()
		if err := logging.Initialize(home, logging.Settings{
			DebugMode:  cfg.Logging.DebugMode || verbose,
			Categories: cfg.Logging.Categories,
			Level:      cfg.Logging.Level,
		}); err != nil {
			logger.Warn("category logging disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Starts the JSON HTTP API: chat (with SSE streaming), hybrid search,
papers, votes, surveys, and recommendations.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := store.New(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var embedder embedding.Engine
	embedder, err = embedding.NewEngine(embedding.Config{
		Provider: cfg.Embedding.Provider,
		APIKey:   cfg.Embedding.APIKey,
		Endpoint: cfg.Embedding.Endpoint,
		Model:    cfg.Embedding.Model,
	})
	if err != nil {
		logger.Warn("embedding engine unavailable, search degrades to keyword-only", zap.Error(err))
		embedder = nil
	}

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	registry, err := orchestrator.LoadRegistry(skillsPath)
	if err != nil {
		return fmt.Errorf("failed to load skill registry: %w", err)
	}

	searcher := search.New(st, embedder)
	recommender := recommend.New(st, embedder, searcher)
	pipeline := orchestrator.NewPipeline(
		registry,
		composer.New(nil),
		executor.New(client),
		searcher,
		recommender,
		st,
	)

	srv := server.New(pipeline, searcher, recommender, st)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server",
		zap.String("addr", addr),
		zap.String("db", cfg.Store.DatabasePath),
		zap.String("llm", cfg.LLM.Model))
	return srv.ListenAndServe(ctx, addr)
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".cosci/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&skillsPath, "skills", "", "path to a skill registry overlay (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ctxWithSignals wires Ctrl-C into long-running subcommands.
func ctxWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
