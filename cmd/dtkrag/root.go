package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dtkrag/internal/chunker"
	"dtkrag/internal/config"
	"dtkrag/internal/crawler"
	"dtkrag/internal/domain"
	"dtkrag/internal/embedding"
	"dtkrag/internal/logger"
	"dtkrag/internal/service"
	"dtkrag/internal/summarizer"
	"dtkrag/internal/vectorstore"
)

var (
	cfgPath string
	verbose bool

	// app is assembled before any subcommand runs and closed by main.
	app *application
	// buildApp is replaced in tests.
	buildApp = newApplication
)

var rootCmd = &cobra.Command{
	Use:   "dtkrag",
	Short: "Compliance document ingestion and semantic search",
	Long: `dtkrag chunks compliance documents (ISO 27001, PCI DSS and similar),
embeds the chunks and stores them in a vector database for semantic search.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || isOffline(cmd) || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
			return nil
		}
		a, err := buildApp(cfgPath, verbose)
		if err != nil {
			return err
		}
		app = a
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (default ./config.yaml or ~/.config/dtkrag/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// application holds the assembled pipeline for one command invocation.
type application struct {
	cfg   *config.AppConfig
	log   *logger.Logger
	store domain.VectorStore
	svc   *service.RAGService
}

func newApplication(path string, verbose bool) (*application, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if path == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Mode, verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	log.Debug("config loaded", "path", path)

	emb, err := embedding.New(cfg.Embedder, log)
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.New(cfg.VectorStore, emb.Dimension(), log)
	if err != nil {
		return nil, err
	}
	a, err := assemble(cfg, log, emb, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// assemble wires the service from already-built provider and store.
func assemble(cfg *config.AppConfig, log *logger.Logger, emb domain.Embedder, store domain.VectorStore) (*application, error) {
	ch, err := chunker.NewFixed(chunker.WithSize(cfg.Chunker.Size), chunker.WithOverlap(cfg.Chunker.Overlap))
	if err != nil {
		return nil, err
	}
	threshold := cfg.Retrieval.Threshold
	svc, err := service.NewRAGService(service.Deps{
		Chunker:    ch,
		Embedder:   emb,
		Store:      store,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Fetcher:    crawler.New(nil, log),
	}, service.Options{
		Threshold:   &threshold,
		Limit:       cfg.Retrieval.Limit,
		ScrollLimit: cfg.Retrieval.ScrollLimit,
		UploadDir:   cfg.Storage.UploadDir,
		CrawlDir:    cfg.Storage.CrawlDir,
	}, log)
	if err != nil {
		return nil, err
	}
	return &application{cfg: cfg, log: log, store: store, svc: svc}, nil
}

func (a *application) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close vector store", "error", err)
	}
	a.log.Sync()
}

// chunkParams returns a per-call override when either chunk flag was set.
func chunkParams(cmd *cobra.Command, size, overlap int) *service.ChunkParams {
	if !cmd.Flags().Changed("chunk-size") && !cmd.Flags().Changed("chunk-overlap") {
		return nil
	}
	p := &service.ChunkParams{Size: app.cfg.Chunker.Size, Overlap: app.cfg.Chunker.Overlap}
	if cmd.Flags().Changed("chunk-size") {
		p.Size = size
	}
	if cmd.Flags().Changed("chunk-overlap") {
		p.Overlap = overlap
	}
	return p
}
