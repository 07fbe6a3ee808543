package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vaultmcp/vaultmcp/internal/backup"
	"github.com/vaultmcp/vaultmcp/internal/chunk"
	"github.com/vaultmcp/vaultmcp/internal/config"
	"github.com/vaultmcp/vaultmcp/internal/dedup"
	"github.com/vaultmcp/vaultmcp/internal/embed"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/logging"
	mcpserver "github.com/vaultmcp/vaultmcp/internal/mcp"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/search"
	"github.com/vaultmcp/vaultmcp/internal/store"
	"github.com/vaultmcp/vaultmcp/internal/verify"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server and block until the client disconnects or the
process receives SIGINT/SIGTERM.

The server speaks JSON-RPC on stdout, so all diagnostics go to stderr
and, when configured, a rotating log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeTransport(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio)")

	return cmd
}

func runServe(ctx context.Context) error {
	return runServeTransport(ctx, "stdio")
}

func runServeTransport(ctx context.Context, transport string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Logging comes up before anything that can fail, so wiring errors
	// land in the log file MCP clients cannot otherwise surface.
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.FilePath = cfg.Log.File
	log, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	stack, err := buildStack(cfg, log)
	if err != nil {
		log.Error("wiring failed", slog.String("error", err.Error()))
		return err
	}
	defer stack.Close()

	if err := stack.ensureCollections(ctx); err != nil {
		log.Error("collection setup failed", slog.String("error", err.Error()))
		return fmt.Errorf("prepare collections: %w", err)
	}

	srv, err := mcpserver.NewServer(stack.ctrl, stack.search, stack.verify, stack.archiver, log)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, transport)
}

// stack holds the wired services shared by the serve and status
// commands.
type stack struct {
	cfg      *config.Config
	store    store.Store
	docsEmb  embed.Embedder
	codeEmb  embed.Embedder
	ctrl     *ingest.Controller
	search   *search.Service
	verify   *verify.Service
	archiver *backup.Service
	log      *slog.Logger
}

// buildStack wires config into the full service graph. Nothing here
// touches the network; the first store call does.
func buildStack(cfg *config.Config, log *slog.Logger) (*stack, error) {
	st, err := store.NewQdrant(store.QdrantConfig{
		URL:    cfg.Qdrant.URL,
		APIKey: cfg.Qdrant.APIKey,
	})
	if err != nil {
		return nil, err
	}

	docsEmb, err := embed.New(embed.Options{
		Provider:   cfg.Embed.Provider,
		Model:      cfg.Embed.Model,
		Dimensions: cfg.Embed.Dimensions,
		APIKey:     cfg.Embed.OpenAIAPIKey,
		BaseURL:    cfg.Embed.OpenAIBaseURL,
		Host:       cfg.Embed.OllamaHost,
		CacheSize:  cfg.Embed.CacheSize,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("document embedder: %w", err)
	}

	codeEmb, err := embed.New(embed.Options{
		Provider:   cfg.Embed.Provider,
		Model:      cfg.Embed.CodeModel,
		Dimensions: cfg.Embed.CodeDimensions,
		APIKey:     cfg.Embed.OpenAIAPIKey,
		BaseURL:    cfg.Embed.OpenAIBaseURL,
		Host:       cfg.Embed.OllamaHost,
		CacheSize:  cfg.Embed.CacheSize,
	})
	if err != nil {
		_ = docsEmb.Close()
		_ = st.Close()
		return nil, fmt.Errorf("code embedder: %w", err)
	}

	splitter, err := chunk.NewSplitter(cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		_ = codeEmb.Close()
		_ = docsEmb.Close()
		_ = st.Close()
		return nil, err
	}

	docs := ingest.Sink{Collection: cfg.Qdrant.Collection, Embedder: docsEmb}
	code := ingest.Sink{Collection: cfg.Qdrant.CodeCollection, Embedder: codeEmb}

	ctrl, err := ingest.NewController(ingest.Options{
		Store:             st,
		Docs:              docs,
		Code:              code,
		Splitter:          splitter,
		Classifier:        dedup.NewClassifier(cfg.Dedup.SimilarityThreshold),
		Builder:           meta.NewBuilder(""),
		SimilarityEnabled: cfg.Dedup.SimilarityEnabled,
		Logger:            log,
	})
	if err != nil {
		_ = codeEmb.Close()
		_ = docsEmb.Close()
		_ = st.Close()
		return nil, err
	}

	searcher := search.NewService(st,
		search.Target{Collection: docs.Collection, Embedder: docsEmb},
		search.Target{Collection: code.Collection, Embedder: codeEmb},
		log)
	verifier := verify.NewService(st, ctrl, docs.Collection, code.Collection, verify.Checker{}, log)
	archiver := backup.NewService(st, ctrl, cfg.Backup.Dir, log)

	return &stack{
		cfg:      cfg,
		store:    st,
		docsEmb:  docsEmb,
		codeEmb:  codeEmb,
		ctrl:     ctrl,
		search:   searcher,
		verify:   verifier,
		archiver: archiver,
		log:      log,
	}, nil
}

// ensureCollections creates the two collections and their payload
// indexes. Idempotent, so every startup runs it.
func (s *stack) ensureCollections(ctx context.Context) error {
	for _, target := range []struct {
		collection string
		dims       int
	}{
		{s.cfg.Qdrant.Collection, s.docsEmb.Dimensions()},
		{s.cfg.Qdrant.CodeCollection, s.codeEmb.Dimensions()},
	} {
		if err := s.store.EnsureCollection(ctx, target.collection, target.dims); err != nil {
			return err
		}
		report, err := s.store.EnsureIndexes(ctx, target.collection)
		if err != nil {
			return err
		}
		s.log.Info("collection ready",
			slog.String("collection", target.collection),
			slog.Int("dimensions", target.dims),
			slog.Int("indexes_created", len(report.Created)))
	}
	return nil
}

// Close releases the store connection and embedder resources.
func (s *stack) Close() {
	_ = s.codeEmb.Close()
	_ = s.docsEmb.Close()
	_ = s.store.Close()
}
